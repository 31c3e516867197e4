package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
)

func newTestHub(s store.Store) *Hub {
	return NewHub(s, nil, Config{
		SendBuffer:       32,
		MonitorInterval:  time.Hour, // direct broadcasts only; monitor ticks stay quiet
		HandshakeTimeout: time.Second,
	}, slog.Default())
}

// drain empties a connection's send buffer into decoded events.
func drain(t *testing.T, c *Connection) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var event map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &event))
			out = append(out, event)
		default:
			return out
		}
	}
}

func eventTypes(events []map[string]interface{}) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i], _ = e["type"].(string)
	}
	return out
}

func seedPendingJob(t *testing.T, s *store.Memory, jobID string) {
	t.Helper()
	require.NoError(t, s.CreateJob(context.Background(), &jobs.ProcessingJob{
		JobID:           jobID,
		Status:          jobs.StatusPending,
		SourceReference: "https://example.com/watch?v=abc12345678",
	}))
}

func attach(h *Hub, userID string) *Connection {
	conn := testConn(userID)
	conn.setState(StateAuthenticated)
	h.register(conn)
	return conn
}

func send(t *testing.T, h *Hub, conn *Connection, event InboundEvent) {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	h.handleEvent(conn, raw)
}

func TestHub_SubscribeDeliversImmediateSnapshot(t *testing.T) {
	s := store.NewMemory()
	h := newTestHub(s)
	seedPendingJob(t, s, "job_1")

	conn := attach(h, "user_a")
	drain(t, conn) // connected ack

	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_1"})

	events := drain(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, EventJobUpdate, events[0]["type"])
	assert.Equal(t, "job_1", events[0]["job_id"])
	assert.Equal(t, jobs.StatusPending, events[0]["status"])
	assert.Equal(t, 1, h.MonitorCount())
}

func TestHub_SubscribeUnknownJob(t *testing.T) {
	s := store.NewMemory()
	h := newTestHub(s)

	conn := attach(h, "user_a")
	drain(t, conn)

	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_missing"})

	events := drain(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0]["type"])
	assert.Equal(t, CodeNotFound, events[0]["code"])
	assert.Equal(t, 0, h.MonitorCount())
	assert.Equal(t, 0, h.Registry().JobSubscriberCount("job_missing"))
}

func TestHub_OneMonitorAcrossSubscribers(t *testing.T) {
	s := store.NewMemory()
	h := newTestHub(s)
	seedPendingJob(t, s, "job_A")

	a := attach(h, "user_a")
	b := attach(h, "user_b")
	drain(t, a)
	drain(t, b)

	send(t, h, a, InboundEvent{Type: EventSubscribeJob, JobID: "job_A"})
	send(t, h, b, InboundEvent{Type: EventSubscribeJob, JobID: "job_A"})
	assert.Equal(t, 1, h.MonitorCount())
	assert.Equal(t, 2, h.Registry().JobSubscriberCount("job_A"))

	send(t, h, a, InboundEvent{Type: EventUnsubscribeJob, JobID: "job_A"})
	assert.Equal(t, 1, h.MonitorCount(), "monitor survives while one subscriber remains")

	send(t, h, b, InboundEvent{Type: EventUnsubscribeJob, JobID: "job_A"})
	assert.Equal(t, 0, h.MonitorCount(), "last unsubscribe stops the monitor")
}

// trappedStore runs a callback inside GetJob so tests can interleave work
// with the hub's subscribe-time snapshot read.
type trappedStore struct {
	*store.Memory
	trap func()
}

func (s *trappedStore) GetJob(ctx context.Context, jobID string) (*jobs.ProcessingJob, error) {
	job, err := s.Memory.GetJob(ctx, jobID)
	if s.trap != nil {
		s.trap()
	}
	return job, err
}

func TestHub_SubscribeSnapshotOrderedWithConcurrentBroadcast(t *testing.T) {
	mem := store.NewMemory()
	trapped := &trappedStore{Memory: mem}
	h := NewHub(trapped, nil, Config{
		SendBuffer:       32,
		MonitorInterval:  time.Hour,
		HandshakeTimeout: time.Second,
	}, slog.Default())
	seedPendingJob(t, mem, "job_1")

	conn := attach(h, "user_a")
	drain(t, conn)
	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_1"})
	drain(t, conn)

	// A direct broadcast fires while the re-subscribe is reading its
	// snapshot. The subscriber must never see the newer sequence before
	// the older one.
	var wg sync.WaitGroup
	trapped.trap = func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.broadcastJob(&jobs.ProcessingJob{JobID: "job_1", Status: jobs.StatusProcessing, Sequence: 10})
		}()
		time.Sleep(20 * time.Millisecond)
	}
	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_1"})
	trapped.trap = nil
	wg.Wait()

	events := drain(t, conn)
	var seqs []float64
	for _, e := range events {
		if e["type"] == EventJobUpdate {
			seqs = append(seqs, e["sequence"].(float64))
		}
	}
	require.Equal(t, []float64{1, 10}, seqs, "snapshot then broadcast, in sequence order")
}

func TestHub_BroadcastDropsStaleAndDuplicateSnapshots(t *testing.T) {
	s := store.NewMemory()
	h := newTestHub(s)
	seedPendingJob(t, s, "job_1")

	conn := attach(h, "user_a")
	drain(t, conn)
	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_1"})
	drain(t, conn) // immediate snapshot

	newer := &jobs.ProcessingJob{JobID: "job_1", Status: jobs.StatusProcessing, Sequence: 3}
	stale := &jobs.ProcessingJob{JobID: "job_1", Status: jobs.StatusProcessing, Sequence: 2}

	h.broadcastJob(newer)
	h.broadcastJob(stale) // out of order: dropped
	h.broadcastJob(newer) // duplicate: dropped

	events := drain(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, float64(3), events[0]["sequence"])
}

func TestHub_DoubleSubscribeSingleDelivery(t *testing.T) {
	s := store.NewMemory()
	h := newTestHub(s)
	seedPendingJob(t, s, "job_1")

	conn := attach(h, "user_a")
	drain(t, conn)
	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_1"})
	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_1"})
	drain(t, conn) // two immediate snapshots, one per subscribe request

	h.broadcastJob(&jobs.ProcessingJob{JobID: "job_1", Status: jobs.StatusProcessing, Sequence: 5})

	events := drain(t, conn)
	require.Len(t, events, 1, "one broadcast reaches a double-subscribed connection once")
}

func TestHub_TerminalBroadcastStopsMonitor(t *testing.T) {
	s := store.NewMemory()
	h := newTestHub(s)
	seedPendingJob(t, s, "job_1")

	conn := attach(h, "user_a")
	drain(t, conn)
	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_1"})
	require.Equal(t, 1, h.MonitorCount())

	h.broadcastJob(&jobs.ProcessingJob{JobID: "job_1", Status: jobs.StatusCompleted, Sequence: 9})
	assert.Equal(t, 0, h.MonitorCount(), "terminal state releases the monitor with subscribers still present")
}

func TestHub_SessionOwnershipGate(t *testing.T) {
	s := store.NewMemory()
	s.RegisterSession("session_1", "user_a")
	h := newTestHub(s)

	owner := attach(h, "user_a")
	stranger := attach(h, "user_b")
	drain(t, owner)
	drain(t, stranger)

	send(t, h, owner, InboundEvent{Type: EventJoinSession, SessionID: "session_1"})
	events := drain(t, owner)
	require.Len(t, events, 1)
	assert.Equal(t, EventSessionJoined, events[0]["type"])

	send(t, h, stranger, InboundEvent{Type: EventJoinSession, SessionID: "session_1"})
	events = drain(t, stranger)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0]["type"])
	assert.Equal(t, CodeAuthorization, events[0]["code"])

	send(t, h, stranger, InboundEvent{Type: EventJoinSession, SessionID: "session_missing"})
	events = drain(t, stranger)
	require.Len(t, events, 1)
	assert.Equal(t, CodeNotFound, events[0]["code"])
}

func TestHub_PracticeFeedbackExcludesSender(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	s.RegisterSession("session_1", "user_a")
	h := newTestHub(s)

	sender := attach(h, "user_a")
	listener := attach(h, "user_a")
	drain(t, sender)
	drain(t, listener)

	send(t, h, sender, InboundEvent{Type: EventJoinSession, SessionID: "session_1"})
	send(t, h, listener, InboundEvent{Type: EventJoinSession, SessionID: "session_1"})
	drain(t, sender)
	drain(t, listener)

	send(t, h, sender, InboundEvent{
		Type:         EventPracticeData,
		SessionID:    "session_1",
		Timestamp:    12.5,
		CurrentChord: "Am",
		Accuracy:     0.92,
	})

	assert.Empty(t, drain(t, sender), "sender never receives its own event back")

	events := drain(t, listener)
	require.Len(t, events, 1)
	assert.Equal(t, EventPracticeFeedback, events[0]["type"])
	assert.Equal(t, "Am", events[0]["current_chord"])
	assert.Equal(t, "user_a", events[0]["sender_identity"])

	// The event was persisted append-only.
	persisted, err := s.ListSessionEvents(ctx, store.EventFilter{SessionID: "session_1", PageSize: 10})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "Am", persisted[0].CurrentChord)
}

func TestHub_PracticeDataRequiresMembership(t *testing.T) {
	s := store.NewMemory()
	s.RegisterSession("session_1", "user_a")
	h := newTestHub(s)

	conn := attach(h, "user_a")
	drain(t, conn)

	send(t, h, conn, InboundEvent{Type: EventPracticeData, SessionID: "session_1"})
	events := drain(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0]["type"])
	assert.Equal(t, CodeAuthorization, events[0]["code"])
}

func TestHub_CleanupPurgesConnection(t *testing.T) {
	s := store.NewMemory()
	s.RegisterSession("session_1", "user_a")
	h := newTestHub(s)
	seedPendingJob(t, s, "job_1")

	conn := attach(h, "user_a")
	drain(t, conn)
	send(t, h, conn, InboundEvent{Type: EventSubscribeJob, JobID: "job_1"})
	send(t, h, conn, InboundEvent{Type: EventJoinSession, SessionID: "session_1"})
	require.Equal(t, 1, h.MonitorCount())

	h.cleanup(conn)

	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 0, h.Registry().ConnectionCount())
	assert.Equal(t, 0, h.Registry().JobSubscriberCount("job_1"))
	assert.Equal(t, 0, h.MonitorCount())

	// Broadcasts after close reach nobody and never panic.
	h.broadcastJob(&jobs.ProcessingJob{JobID: "job_1", Status: jobs.StatusProcessing, Sequence: 99})

	// Cleanup is idempotent.
	h.cleanup(conn)
}

func TestHub_PingPong(t *testing.T) {
	h := newTestHub(store.NewMemory())
	conn := attach(h, "user_a")
	drain(t, conn)

	send(t, h, conn, InboundEvent{Type: EventPing})
	events := drain(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, EventPong, events[0]["type"])
	assert.NotZero(t, events[0]["timestamp"])
}

func TestHub_MalformedFrame(t *testing.T) {
	h := newTestHub(store.NewMemory())
	conn := attach(h, "user_a")
	drain(t, conn)

	h.handleEvent(conn, []byte("{not json"))
	events := drain(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, CodeValidation, events[0]["code"])

	send(t, h, conn, InboundEvent{Type: "warp_drive"})
	events = drain(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, CodeValidation, events[0]["code"])
}

func TestHub_ConnectedAckOnRegister(t *testing.T) {
	h := newTestHub(store.NewMemory())
	conn := attach(h, "user_a")

	events := drain(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, []string{EventConnected}, eventTypes(events))
	assert.Equal(t, "user_a", events[0]["identity"])
	assert.Equal(t, StateActive, conn.State())
}
