// Package remote talks to the upstream note service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/logger"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// maxErrorBody caps how much of a failed response is kept for logging.
const maxErrorBody = 512

type Client struct {
	log     zerolog.Logger
	http    *http.Client
	baseURL string
}

func NewClient(log logger.Logger, cfg domain.RemoteConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultRemoteTimeout
	}

	return &Client{
		log:     log.With().Str("module", "remote").Logger(),
		http:    &http.Client{Timeout: time.Duration(timeout) * time.Second},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// notePayload is the wire form of a note.
type notePayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Classify maps a transport result to a sync outcome. Network errors,
// timeouts, throttling and server errors are retryable; any other 4xx
// means the request itself is wrong and is not retried.
func Classify(status int, err error) domain.Outcome {
	if err != nil {
		return domain.OutcomeFailure
	}

	switch {
	case status >= 200 && status < 300:
		return domain.OutcomeSuccess
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return domain.OutcomeFailure
	case status >= 500:
		return domain.OutcomeFailure
	case status >= 400:
		return domain.OutcomeCritical
	default:
		// 1xx and 3xx are not expected from the note endpoint
		return domain.OutcomeFailure
	}
}

func (c *Client) noteURL(id string) string {
	return fmt.Sprintf("%s/notes/%s", c.baseURL, url.PathEscape(id))
}

// PushNote uploads the local note with PUT {base}/notes/{id}.
func (c *Client) PushNote(ctx context.Context, note *domain.Note) domain.Outcome {
	body, err := json.Marshal(notePayload{
		ID:        note.ID,
		Title:     note.Title,
		Body:      note.Body,
		UpdatedAt: note.UpdatedAt.UTC(),
	})
	if err != nil {
		c.log.Error().Err(err).Str("note_id", note.ID).Msg("could not encode note")
		return domain.OutcomeCritical
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.noteURL(note.ID), bytes.NewReader(body))
	if err != nil {
		c.log.Error().Err(err).Str("note_id", note.ID).Msg("could not build push request")
		return domain.OutcomeCritical
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("note_id", note.ID).Msg("push failed")
		return Classify(0, err)
	}
	defer resp.Body.Close()

	outcome := Classify(resp.StatusCode, nil)
	if outcome != domain.OutcomeSuccess {
		c.logFailure(resp, "push", note.ID, outcome)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return outcome
}

// PullNote downloads the remote note with GET {base}/notes/{id}. The note is
// nil unless the outcome is a success.
func (c *Client) PullNote(ctx context.Context, id string) (*domain.Note, domain.Outcome) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.noteURL(id), nil)
	if err != nil {
		c.log.Error().Err(err).Str("note_id", id).Msg("could not build pull request")
		return nil, domain.OutcomeCritical
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("note_id", id).Msg("pull failed")
		return nil, Classify(0, err)
	}
	defer resp.Body.Close()

	outcome := Classify(resp.StatusCode, nil)
	if outcome != domain.OutcomeSuccess {
		c.logFailure(resp, "pull", id, outcome)
		return nil, outcome
	}

	var payload notePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.log.Error().Err(errors.Wrap(err, "decode note")).Str("note_id", id).Msg("remote returned an invalid note")
		return nil, domain.OutcomeCritical
	}

	if payload.ID != "" && payload.ID != id {
		c.log.Error().Str("note_id", id).Str("remote_id", payload.ID).Msg("remote returned a different note")
		return nil, domain.OutcomeCritical
	}

	return &domain.Note{
		ID:        id,
		Title:     payload.Title,
		Body:      payload.Body,
		UpdatedAt: payload.UpdatedAt,
	}, domain.OutcomeSuccess
}

func (c *Client) logFailure(resp *http.Response, op string, id string, outcome domain.Outcome) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	c.log.Warn().
		Str("op", op).
		Str("note_id", id).
		Int("status", resp.StatusCode).
		Str("outcome", outcome.String()).
		Str("body", strings.TrimSpace(string(body))).
		Msg("remote rejected request")
}
