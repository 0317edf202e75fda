// Package summarizer notifies the learning-progress summarizer when a
// session completes. Delivery is best effort: a failed notification is
// logged, never surfaced to the learner-facing call.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"packplan/internal/contract"
	packerrors "packplan/internal/errors"
	"packplan/internal/logging"
)

// Notifier announces session completion to an external consumer.
type Notifier interface {
	NotifyCompleted(ctx context.Context, summary CompletionSummary) error
}

// CompletionSummary is the payload sent on session completion.
type CompletionSummary struct {
	LearnerID   string                          `json:"learner_id"`
	SessionID   string                          `json:"session_id"`
	Sequence    int                             `json:"sequence"`
	CompletedAt time.Time                       `json:"completed_at"`
	BandCounts  map[contract.DifficultyBand]int `json:"band_counts"`
	TierCounts  map[contract.FrequencyTier]int  `json:"tier_counts"`
	Violated    []string                        `json:"violated,omitempty"`
}

// Config configures the HTTP notifier.
type Config struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	APIKey         string `yaml:"api_key" json:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

const defaultNotifyTimeout = 5 * time.Second

type httpNotifier struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     logging.Logger
}

// NewHTTPNotifier creates a notifier posting summaries to the configured
// endpoint. An empty base URL yields the no-op notifier.
func NewHTTPNotifier(config Config) Notifier {
	if config.BaseURL == "" {
		return Nop()
	}
	timeout := defaultNotifyTimeout
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	return &httpNotifier{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger("Summarizer"),
	}
}

func (n *httpNotifier) NotifyCompleted(ctx context.Context, summary CompletionSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	endpoint := n.baseURL + "/v1/session-summaries"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return packerrors.NewHTTPStatusError(resp.StatusCode, resp.Status, "")
	}
	n.logger.Debug("Delivered completion summary for %s/%s", summary.LearnerID, summary.SessionID)
	return nil
}

type nopNotifier struct{}

// Nop returns a notifier that silently accepts every summary.
func Nop() Notifier { return nopNotifier{} }

func (nopNotifier) NotifyCompleted(context.Context, CompletionSummary) error { return nil }
