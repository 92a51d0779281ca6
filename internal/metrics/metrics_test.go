package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

func TestRecorderCountsTransitions(t *testing.T) {
	rec := NewRecorder()
	rec.OnEvent(scheduler.Event{Kind: scheduler.EventDiscovered, Node: "foo"})
	rec.OnEvent(scheduler.Event{Kind: scheduler.EventDiscovered, Node: "bar"})
	rec.OnEvent(scheduler.Event{Kind: scheduler.EventStarted, Node: "foo"})
	rec.OnEvent(scheduler.Event{Kind: scheduler.EventStarted, Node: "bar"})

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.transitions.WithLabelValues("discovered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.inflight))

	rec.OnEvent(scheduler.Event{Kind: scheduler.EventCompleted, Node: "foo", Duration: 2 * time.Second})
	rec.OnEvent(scheduler.Event{Kind: scheduler.EventFailed, Node: "bar", Err: errors.New("boom"), Duration: time.Second})

	assert.Equal(t, 0.0, testutil.ToFloat64(rec.inflight))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.transitions.WithLabelValues("failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(rec.checkoutDuration))
}

func TestRecorderIgnoresFailuresThatNeverStarted(t *testing.T) {
	rec := NewRecorder()
	rec.OnEvent(scheduler.Event{Kind: scheduler.EventFailed, Node: "cycle/a", Err: errors.New("cycle")})

	assert.Equal(t, 0.0, testutil.ToFloat64(rec.inflight))
	assert.Equal(t, 0, testutil.CollectAndCount(rec.checkoutDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.transitions.WithLabelValues("failed")))
}

func TestWriteTextfile(t *testing.T) {
	rec := NewRecorder()
	rec.OnEvent(scheduler.Event{Kind: scheduler.EventSkipped, Node: "foo/dir5"})
	path := filepath.Join(t.TempDir(), "metrics", "gsync.prom")

	require.NoError(t, rec.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `gsync_scheduler_node_transitions_total{kind="skipped"} 1`)
	assert.Contains(t, string(data), "gsync_checkout_inflight 0")
}
