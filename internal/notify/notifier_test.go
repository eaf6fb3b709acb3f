package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ralph/internal/logging"
)

func TestNotify_PostsEnvelope(t *testing.T) {
	var (
		mu   sync.Mutex
		got  envelope
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(srv.URL, "run-42", time.Second, logging.NewNop())
	n.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	n.Notify(context.Background(), EventStoryProgress, "story-1 complete", map[string]any{
		"completed": 1,
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/events", path)
	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, EventStoryProgress, got.Event)
	assert.Equal(t, "story-1 complete", got.Message)
	assert.Equal(t, time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC), got.Timestamp)
	assert.Equal(t, float64(1), got.Extra["completed"])
}

func TestNotify_NoSinkConfigured(t *testing.T) {
	n := New("", "run-42", time.Second, nil)
	assert.False(t, n.Enabled())
	// Must be a silent no-op.
	n.Notify(context.Background(), EventRunCompleted, "done", nil)
}

func TestNotify_SwallowsUnreachableSink(t *testing.T) {
	n := New("http://127.0.0.1:1", "run-42", 200*time.Millisecond, logging.NewNop())
	// Must return without error despite the connection refusal.
	n.Notify(context.Background(), EventRunStarted, "starting", nil)
}

func TestNotify_SwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sink on fire", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, "run-42", time.Second, logging.NewNop())
	n.Notify(context.Background(), EventStoryBlocked, "blocked", nil)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()

	n := New(srv.URL+"/", "run-42", time.Second, logging.NewNop())
	n.Notify(context.Background(), EventRunStarted, "", nil)
	assert.Equal(t, "/events", path)
}
