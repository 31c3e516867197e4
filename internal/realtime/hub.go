package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tabstream/tabstream-be/internal/auth"
	"github.com/tabstream/tabstream-be/internal/jobs"
	"github.com/tabstream/tabstream-be/internal/jobs/store"
)

// Config holds hub tuning knobs.
type Config struct {
	SendBuffer       int
	MonitorInterval  time.Duration
	HandshakeTimeout time.Duration
}

// Hub is the notification fabric: it owns the connection handshake, event
// dispatch, job/session fan-out and disconnect cleanup.
type Hub struct {
	registry *Registry
	monitors *MonitorManager
	store    store.Store
	authn    *auth.Authenticator
	logger   *slog.Logger
	cfg      Config

	// seqMu serializes job broadcasts; lastSeq drops stale or duplicate
	// snapshots per job, including the terminal-state race between the
	// monitor tick and the direct state-change path.
	seqMu   sync.Mutex
	lastSeq map[string]int64
}

// NewHub creates the fabric around a store and an authenticator.
func NewHub(s store.Store, authn *auth.Authenticator, cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		registry: NewRegistry(),
		store:    s,
		authn:    authn,
		logger:   logger,
		cfg:      cfg,
		lastSeq:  make(map[string]int64),
	}
	h.monitors = NewMonitorManager(s, cfg.MonitorInterval, h.broadcastJob, logger)
	return h
}

// Registry exposes the subscription registry, mainly for observability.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// MonitorCount returns the number of live job monitors.
func (h *Hub) MonitorCount() int {
	return h.monitors.Count()
}

// JobUpdated implements jobs.Notifier: the direct state-change broadcast
// path used by the orchestrator and the worker pool.
func (h *Hub) JobUpdated(job *jobs.ProcessingJob) {
	h.broadcastJob(job)
}

// Connect authenticates the handshake and runs the connection until the
// socket closes. The credential check is bounded by the handshake timeout
// so a slow verifier fails the connection instead of hanging it.
func (h *Hub) Connect(ws *websocket.Conn, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.HandshakeTimeout)
	defer cancel()

	identity, err := h.authn.Authenticate(ctx, token)
	if err != nil {
		h.logger.Info("Connection rejected",
			slog.Any("error", err),
		)
		h.rejectHandshake(ws, err)
		return err
	}

	conn := newConnection(ws, identity, h.cfg.SendBuffer, h.logger)
	conn.setState(StateAuthenticated)

	h.register(conn)

	go conn.writePump()
	conn.readPump(func(data []byte) {
		h.handleEvent(conn, data)
	})

	h.cleanup(conn)
	return nil
}

// rejectHandshake surfaces the authentication failure before closing. No
// registry state exists yet at this point.
func (h *Hub) rejectHandshake(ws *websocket.Conn, authErr error) {
	event := newErrorEvent(CodeAuthentication, authErr.Error())
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteJSON(event)
	_ = ws.Close()
}

// register adds an authenticated connection to the registry and
// acknowledges it. The connection becomes active and may subscribe.
func (h *Hub) register(conn *Connection) {
	h.registry.AddConnection(conn)
	conn.setState(StateActive)
	conn.deliver(newConnectedEvent(conn.Identity.UserID))

	h.logger.Info("Connection established",
		slog.String("connection_id", conn.ID),
		slog.String("user_id", conn.Identity.UserID),
	)
}

// cleanup unwinds every membership the connection held, then discards it.
// Idempotent; no registry retains the connection afterwards.
func (h *Hub) cleanup(conn *Connection) {
	conn.closeTransport()

	removed := h.registry.RemoveConnection(conn.ID)
	for _, m := range removed {
		if m.Kind == KindJob && h.registry.JobSubscriberCount(m.TargetID) == 0 {
			h.releaseJob(m.TargetID)
		}
	}

	h.logger.Info("Connection closed",
		slog.String("connection_id", conn.ID),
		slog.Int("memberships_released", len(removed)),
	)
}

// handleEvent dispatches one inbound frame.
func (h *Hub) handleEvent(conn *Connection, data []byte) {
	event, err := ParseInbound(data)
	if err != nil {
		conn.deliver(newErrorEvent(CodeValidation, err.Error()))
		return
	}

	if !conn.isActive() {
		conn.deliver(newErrorEvent(CodeValidation, "connection is not active"))
		return
	}

	switch event.Type {
	case EventSubscribeJob:
		h.subscribeJob(conn, event.JobID)
	case EventUnsubscribeJob:
		h.unsubscribeJob(conn, event.JobID)
	case EventJoinSession:
		h.joinSession(conn, event.SessionID)
	case EventLeaveSession:
		h.leaveSession(conn, event.SessionID)
	case EventPracticeData:
		h.publishPracticeEvent(conn, event)
	case EventPing:
		conn.deliver(&PongEvent{Type: EventPong, Timestamp: time.Now().Unix()})
	default:
		conn.deliver(newErrorEvent(CodeValidation, "unknown event type: "+event.Type))
	}
}

func (h *Hub) subscribeJob(conn *Connection, jobID string) {
	if jobID == "" {
		conn.deliver(newErrorEvent(CodeValidation, "job_id is required"))
		return
	}

	// The snapshot read and its delivery happen under the sequence gate so
	// a concurrent broadcast cannot slip between them and hand this
	// connection an older snapshot after a newer one. Reading under the
	// gate also guarantees the snapshot's sequence is at least lastSeq:
	// any broadcast that finished before we took the lock wrote its state
	// before broadcasting it.
	h.seqMu.Lock()
	job, err := h.store.GetJob(context.Background(), jobID)
	if err != nil {
		h.seqMu.Unlock()
		if errors.Is(err, jobs.ErrJobNotFound) {
			conn.deliver(newErrorEvent(CodeNotFound, "unknown job: "+jobID))
			return
		}
		conn.deliver(newErrorEvent(CodeInternal, "failed to load job"))
		return
	}

	first := h.registry.SubscribeJob(conn.ID, jobID)

	if job.Sequence > h.lastSeq[job.JobID] {
		// Newer than anything broadcast so far: fan it out to every
		// subscriber and advance the gate, so the other subscribers are
		// not starved of this sequence later.
		h.lastSeq[job.JobID] = job.Sequence
		event := newJobUpdateEvent(job)
		for _, sub := range h.registry.JobSubscribers(jobID) {
			sub.deliver(event)
		}
	} else {
		// Same sequence as the last broadcast, which predates this
		// subscription. Only the requester still needs it.
		conn.deliver(newJobUpdateEvent(job))
	}
	h.seqMu.Unlock()

	if jobs.IsTerminal(job.Status) {
		h.monitors.Stop(jobID)
	} else if first {
		h.monitors.Ensure(jobID)
	}
}

func (h *Hub) unsubscribeJob(conn *Connection, jobID string) {
	if jobID == "" {
		conn.deliver(newErrorEvent(CodeValidation, "job_id is required"))
		return
	}

	if empty := h.registry.UnsubscribeJob(conn.ID, jobID); empty {
		h.releaseJob(jobID)
	}
}

func (h *Hub) joinSession(conn *Connection, sessionID string) {
	if sessionID == "" {
		conn.deliver(newErrorEvent(CodeValidation, "session_id is required"))
		return
	}

	owner, err := h.store.GetSessionOwner(context.Background(), sessionID)
	if err != nil {
		if errors.Is(err, jobs.ErrSessionNotFound) {
			conn.deliver(newErrorEvent(CodeNotFound, "unknown session: "+sessionID))
			return
		}
		conn.deliver(newErrorEvent(CodeInternal, "failed to load session"))
		return
	}
	if owner != conn.Identity.UserID {
		conn.deliver(newErrorEvent(CodeAuthorization, "session does not belong to this identity"))
		return
	}

	h.registry.JoinRoom(conn.ID, sessionID)
	conn.deliver(&SessionEvent{Type: EventSessionJoined, SessionID: sessionID})
}

func (h *Hub) leaveSession(conn *Connection, sessionID string) {
	if sessionID == "" {
		conn.deliver(newErrorEvent(CodeValidation, "session_id is required"))
		return
	}

	h.registry.LeaveRoom(conn.ID, sessionID)
	conn.deliver(&SessionEvent{Type: EventSessionLeft, SessionID: sessionID})
}

func (h *Hub) publishPracticeEvent(conn *Connection, event *InboundEvent) {
	if event.SessionID == "" {
		conn.deliver(newErrorEvent(CodeValidation, "session_id is required"))
		return
	}
	if !h.registry.InRoom(conn.ID, event.SessionID) {
		conn.deliver(newErrorEvent(CodeAuthorization, "not a member of session: "+event.SessionID))
		return
	}

	record := &jobs.PracticeEvent{
		EventID:         uuid.New().String(),
		SessionID:       event.SessionID,
		SenderID:        conn.Identity.UserID,
		Timestamp:       event.Timestamp,
		CurrentChord:    event.CurrentChord,
		Accuracy:        event.Accuracy,
		MistakeDetected: event.MistakeDetected,
		Encouragement:   event.Encouragement,
		PitchData:       event.PitchData,
		TimingData:      event.TimingData,
	}
	if err := h.store.AppendPracticeEvent(context.Background(), record); err != nil {
		h.logger.Error("Failed to persist practice event",
			slog.String("session_id", event.SessionID),
			slog.Any("error", err),
		)
		conn.deliver(newErrorEvent(CodeInternal, "failed to persist practice event"))
		return
	}

	feedback := &PracticeFeedbackEvent{
		Type:            EventPracticeFeedback,
		SessionID:       event.SessionID,
		Timestamp:       event.Timestamp,
		CurrentChord:    event.CurrentChord,
		Accuracy:        event.Accuracy,
		MistakeDetected: event.MistakeDetected,
		Encouragement:   event.Encouragement,
		SenderIdentity:  conn.Identity.UserID,
	}

	// The sender never receives its own event back.
	for _, member := range h.registry.RoomMembers(event.SessionID, conn.ID) {
		member.deliver(feedback)
	}
}

// broadcastJob delivers one snapshot to every subscriber of the job.
// Snapshots arrive from two paths (direct state change and monitor polls);
// the per-job sequence gate keeps delivery ordered and drops duplicates.
func (h *Hub) broadcastJob(job *jobs.ProcessingJob) {
	h.seqMu.Lock()
	if job.Sequence <= h.lastSeq[job.JobID] {
		h.seqMu.Unlock()
		return
	}
	h.lastSeq[job.JobID] = job.Sequence

	event := newJobUpdateEvent(job)
	subscribers := h.registry.JobSubscribers(job.JobID)
	for _, sub := range subscribers {
		sub.deliver(event)
	}
	h.seqMu.Unlock()

	if jobs.IsTerminal(job.Status) {
		// Terminal state ends polling no matter how many subscribers remain.
		h.monitors.Stop(job.JobID)
	}
}

// releaseJob drops per-job broadcast state once the last subscriber left.
func (h *Hub) releaseJob(jobID string) {
	h.monitors.Stop(jobID)
	h.seqMu.Lock()
	delete(h.lastSeq, jobID)
	h.seqMu.Unlock()
}

// Shutdown stops all monitors and closes every live connection.
func (h *Hub) Shutdown() {
	h.monitors.StopAll()
	for _, conn := range h.registry.allConnections() {
		h.cleanup(conn)
	}
}
