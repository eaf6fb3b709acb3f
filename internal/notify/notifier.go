// Package notify delivers lifecycle events to an external HTTP sink.
//
// Delivery is strictly best-effort: network failures, timeouts, and non-2xx
// responses are logged at debug level and swallowed. The notifier is an
// observability side channel, never a correctness dependency, so nothing
// here may block or fail the orchestration loop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/logging"
)

// Event names emitted over the run lifecycle.
const (
	EventRunStarted        = "run_started"
	EventStoryRunning      = "story_running"
	EventStoryProgress     = "story_progress"
	EventStoryBlocked      = "story_blocked"
	EventStoryUnclassified = "story_unclassified"
	EventRunCompleted      = "run_completed"
	EventRunFailed         = "run_failed"
)

// eventsPath is the fixed path appended to the configured base URL.
const eventsPath = "/events"

// envelope is the fixed JSON body POSTed for every event.
type envelope struct {
	RunID     string         `json:"run_id"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Notifier posts lifecycle envelopes to a configured sink. The zero value
// (empty BaseURL) is a valid no-op notifier.
type Notifier struct {
	baseURL string
	runID   string
	client  *http.Client
	logger  *logging.Logger
	now     func() time.Time
}

// New creates a notifier for the given sink base URL. An empty baseURL
// disables delivery entirely.
func New(baseURL, runID string, timeout time.Duration, logger *logging.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Notifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		runID:   runID,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("notify"),
		now:     time.Now,
	}
}

// Enabled reports whether a sink is configured.
func (n *Notifier) Enabled() bool {
	return n.baseURL != ""
}

// Notify fires one event at the sink. It never returns an error and never
// panics; the only externally observable failure mode is a debug log line.
func (n *Notifier) Notify(ctx context.Context, event, message string, extra map[string]any) {
	if !n.Enabled() {
		return
	}

	body, err := json.Marshal(envelope{
		RunID:     n.runID,
		Event:     event,
		Message:   message,
		Timestamp: n.now().UTC(),
		Extra:     extra,
	})
	if err != nil {
		n.logger.Debug(ctx, "notification encode failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+eventsPath, bytes.NewReader(body))
	if err != nil {
		n.logger.Debug(ctx, "notification request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Debug(ctx, "notification delivery failed",
			zap.String("event", event), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Debug(ctx, "notification sink returned non-2xx",
			zap.String("event", event), zap.Int("status", resp.StatusCode))
	}
}
