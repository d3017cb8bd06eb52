package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/moldwatch/internal/domain/connection"
	"github.com/execution-hub/moldwatch/internal/domain/controller"
	"github.com/execution-hub/moldwatch/internal/protocol"
)

const (
	DefaultLanguage = "EN"
	DefaultVersion  = "1.0.0"
)

// Config holds session timing and login settings. A zero interval disables
// the matching periodic check.
type Config struct {
	RefreshInterval    time.Duration
	JoinRetryInterval  time.Duration
	AliveSendInterval  time.Duration
	SyncInterval       time.Duration
	ServerAliveTimeout time.Duration

	Language string
	Version  string
	OrgID    string
	Filter   string
}

// Reconciler logs on to the server, keeps the session alive and folds inbound
// messages into the controller store. All mutation happens on the goroutine
// running Run; Status, Phase and AccessLevel may be read from anywhere.
type Reconciler struct {
	cfg      Config
	link     connection.Link
	store    controller.Store
	creds    CredentialSource
	observer Observer
	recorder Recorder
	factory  *protocol.Factory
	logger   zerolog.Logger
	now      func() time.Time

	alive           protocol.Alive
	joinPending     bool
	lastAliveSent   time.Time
	lastSync        time.Time
	lastServerAlive time.Time

	mu          sync.RWMutex
	conn        connection.State
	status      Status
	phase       Phase
	accessLevel int
}

type Option func(*Reconciler)

func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observer = o }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(
	cfg Config,
	link connection.Link,
	store controller.Store,
	creds CredentialSource,
	factory *protocol.Factory,
	logger zerolog.Logger,
	opts ...Option,
) *Reconciler {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second
	}
	if cfg.JoinRetryInterval <= 0 {
		cfg.JoinRetryInterval = time.Second
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}

	r := &Reconciler{
		cfg:      cfg,
		link:     link,
		store:    store,
		creds:    creds,
		observer: nopObserver{},
		recorder: nopRecorder{},
		factory:  factory,
		logger:   logger.With().Str("service", "session").Logger(),
		now:      time.Now,
		alive:    protocol.Alive{Type: protocol.TypeAlive},
		conn:     connection.StateOffline,
		status:   StatusOffline,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastSync = r.now()
	return r
}

// Run processes transport events and timers until ctx is cancelled or both
// input channels are closed.
func (r *Reconciler) Run(ctx context.Context, states <-chan connection.State, messages <-chan protocol.Inbound) error {
	refresh := time.NewTicker(r.cfg.RefreshInterval)
	defer refresh.Stop()

	var (
		join  *time.Ticker
		joinC <-chan time.Time
	)
	defer func() {
		if join != nil {
			join.Stop()
		}
	}()

	for states != nil || messages != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			r.HandleState(st)
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			r.HandleMessage(msg, r.now())
		case <-refresh.C:
			r.Refresh(r.now())
		case <-joinC:
			r.sendJoin()
		}

		switch {
		case r.joinPending && join == nil:
			join = time.NewTicker(r.cfg.JoinRetryInterval)
			joinC = join.C
		case !r.joinPending && join != nil:
			join.Stop()
			join, joinC = nil, nil
		}
	}
	return nil
}

// HandleState reacts to a transport state change.
func (r *Reconciler) HandleState(state connection.State) {
	r.mu.Lock()
	if prev := r.conn; prev != state && !prev.CanTransitionTo(state) {
		r.logger.Debug().Stringer("from", prev).Stringer("to", state).Msg("unexpected connection transition")
	}
	r.conn = state
	if state == connection.StateOffline {
		r.phase = PhaseUninitialized
	}
	r.mu.Unlock()

	switch state {
	case connection.StateOnline:
		r.logger.Info().Msg("server is online, logging on")
		r.setPhase(PhaseJoining)
		r.joinPending = true
		r.sendJoin()
	case connection.StateError:
		r.joinPending = false
	case connection.StateOffline:
		r.logger.Warn().Msg("connection to server is down")
		r.joinPending = false
		r.lastServerAlive = time.Time{}
	}
	r.setStatus(StatusFromConnection(state))
}

// HandleMessage interprets one inbound message received at now.
func (r *Reconciler) HandleMessage(msg protocol.Inbound, now time.Time) {
	r.recorder.MessageReceived(string(msg.MessageType()))

	switch m := msg.(type) {
	case protocol.AliveMessage:
		r.lastServerAlive = now
	case protocol.JoinResponse:
		r.handleJoinResponse(m, now)
	case protocol.ControllersList:
		r.handleControllersList(m)
	case protocol.ControllerStatus:
		r.handleControllerStatus(m, now)
	case protocol.ControllerAction:
		r.handleControllerAction(m, now)
	case protocol.CycleData:
		r.handleCycleData(m, now)
	}
}

// Refresh runs the periodic maintenance: transport health, keep-alive,
// controller list sync and the server heartbeat timeout.
func (r *Reconciler) Refresh(now time.Time) {
	r.link.Refresh()

	if r.cfg.AliveSendInterval > 0 && (r.lastAliveSent.IsZero() || now.Sub(r.lastAliveSent) > r.cfg.AliveSendInterval) {
		r.lastAliveSent = now
		r.alive.Sequence = r.factory.NextSequence()
		r.send(r.alive)
	}

	if r.cfg.SyncInterval > 0 && now.Sub(r.lastSync) > r.cfg.SyncInterval {
		r.lastSync = now
		r.send(r.factory.RequestControllersList())
	}

	if r.cfg.ServerAliveTimeout > 0 && !r.lastServerAlive.IsZero() && now.Sub(r.lastServerAlive) > r.cfg.ServerAliveTimeout {
		r.logger.Warn().
			Time("last_server_alive", r.lastServerAlive).
			Dur("timeout", r.cfg.ServerAliveTimeout).
			Msg("server heartbeat lost, terminating connection")
		r.lastServerAlive = time.Time{}
		if err := r.link.Terminate(); err != nil {
			r.logger.Error().Err(err).Msg("failed to terminate connection")
		}
	}
}

func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Reconciler) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

func (r *Reconciler) ConnectionState() connection.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

// AccessLevel is the level granted by the last accepted Join.
func (r *Reconciler) AccessLevel() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accessLevel
}

func (r *Reconciler) handleJoinResponse(m protocol.JoinResponse, now time.Time) {
	r.joinPending = false

	if m.Denied() {
		denial := denialFrom(m)
		r.logger.Warn().
			Int("result", m.Result).
			Bool("duplicate_origin", denial.DuplicateOrigin).
			Msg("logon denied")
		r.recorder.JoinDenied()
		r.setStatus(StatusDenied)
		r.observer.Denied(denial)
		return
	}

	r.mu.Lock()
	r.accessLevel = m.Level
	r.mu.Unlock()

	event := r.logger.Info().Int("level", m.Level)
	if m.Message != nil && *m.Message != "" {
		event = event.Str("server_message", *m.Message)
	}
	event.Msg("logged on to server")

	r.lastSync = now
	r.send(r.factory.RequestControllersList())
}

func (r *Reconciler) handleControllersList(m protocol.ControllersList) {
	for id, info := range m.Data {
		st, ok := r.store.Get(id)
		if !ok {
			st = controller.NewState(id)
		}
		info.ControllerID = id
		st.Merge(info)
		r.store.Set(st)
	}

	for _, id := range r.store.Keys() {
		if _, ok := m.Data[id]; !ok {
			r.store.Delete(id)
		}
	}

	r.store.RaiseListChanged()
	r.recorder.ControllersTracked(r.store.Len())
	r.logger.Info().Int("controllers", r.store.Len()).Msg("controllers list updated")
	r.setPhase(PhaseActive)
}

func (r *Reconciler) handleControllerStatus(m protocol.ControllerStatus, now time.Time) {
	if !r.active(m) {
		return
	}
	id := m.ControllerID

	st, known := r.store.Get(id)
	if !known && m.Controller == nil {
		r.unknownController(m)
		return
	}

	if !m.IsDisconnected && known && st.IsStale(m.Timestamp) {
		r.recorder.MessageDropped(string(m.MessageType()), "stale")
		return
	}

	if !known {
		st = controller.NewState(id)
	}
	if m.Controller != nil {
		info := *m.Controller
		info.ControllerID = id
		st.Merge(info)
		if !known {
			r.logger.Info().Int("controller_id", id).Str("display_name", st.DisplayName).Msg("controller joined")
		}
	}
	st.LastMessageTime = now

	if m.IsDisconnected {
		st.MarkDisconnected()
		r.commit(st, known)
		return
	}

	ts := m.Timestamp
	st.AdvanceTimeStamp(ts)

	if m.DisplayName != nil && *m.DisplayName != "" {
		st.DisplayName = *m.DisplayName
	}
	if m.OpMode != nil && *m.OpMode != "" {
		st.OpMode = *m.OpMode
		st.LastOpModeChangedTime = ts
	}
	if m.JobMode != nil && *m.JobMode != "" {
		st.JobMode = *m.JobMode
		st.LastJobModeChangedTime = ts
	}
	if m.JobCardID.Set {
		st.JobCardID = nonEmpty(m.JobCardID.Value)
		st.LastJobCardChangedTime = ts
	}
	if m.OperatorID.Set {
		st.OperatorID = 0
		if m.OperatorID.Value != nil {
			st.OperatorID = *m.OperatorID.Value
		}
		st.LastOperatorChangedTime = ts
	}
	if m.MoldID.Set {
		st.MoldID = nonEmpty(m.MoldID.Value)
		st.LastMoldChangedTime = ts
	}
	if m.Alarm != nil {
		st.ApplyAlarm(m.Alarm.Key, m.Alarm.Value, ts)
	}

	r.commit(st, known)
}

func (r *Reconciler) handleControllerAction(m protocol.ControllerAction, now time.Time) {
	if !r.active(m) {
		return
	}
	st, ok := r.store.Get(m.ControllerID)
	if !ok {
		r.unknownController(m)
		return
	}
	if st.IsStale(m.Timestamp) {
		r.recorder.MessageDropped(string(m.MessageType()), "stale")
		return
	}

	actionID := m.ActionID
	st.ActionID = &actionID
	st.LastMessageTime = now
	st.LastMessageTimeStamp = m.Timestamp
	st.LastActionTime = m.Timestamp
	r.commit(st, true)
}

func (r *Reconciler) handleCycleData(m protocol.CycleData, now time.Time) {
	if !r.active(m) {
		return
	}
	st, ok := r.store.Get(m.ControllerID)
	if !ok {
		r.unknownController(m)
		return
	}

	st.LastCycleData = m.Data
	st.LastMessageTime = now
	st.LastCycleDataTime = m.Timestamp
	st.AdvanceTimeStamp(m.Timestamp)
	r.commit(st, true)
}

// active drops controller updates that arrive before the first controllers list.
func (r *Reconciler) active(msg protocol.Inbound) bool {
	if r.Phase() == PhaseActive {
		return true
	}
	r.recorder.MessageDropped(string(msg.MessageType()), "not_active")
	return false
}

func (r *Reconciler) unknownController(msg protocol.Inbound) {
	var id int
	switch m := msg.(type) {
	case protocol.ControllerStatus:
		id = m.ControllerID
	case protocol.ControllerAction:
		id = m.ControllerID
	case protocol.CycleData:
		id = m.ControllerID
	}
	r.logger.Error().Int("controller_id", id).Str("type", string(msg.MessageType())).Msg("no such controller")
	r.recorder.MessageDropped(string(msg.MessageType()), "unknown_controller")
}

func (r *Reconciler) commit(st controller.State, known bool) {
	r.store.Set(st)
	if !known {
		r.store.RaiseListChanged()
		r.recorder.ControllersTracked(r.store.Len())
	}
	r.store.RaiseChangeEvent(st.ControllerID)
}

func (r *Reconciler) sendJoin() {
	r.send(r.factory.Join(r.cfg.Language, r.cfg.Version, r.cfg.OrgID, r.creds.Password(), r.cfg.Filter))
}

func (r *Reconciler) send(v any) {
	if err := r.link.Send(v); err != nil {
		r.logger.Error().Err(err).Msg("failed to send message")
	}
}

func (r *Reconciler) setPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

func (r *Reconciler) setStatus(s Status) {
	r.mu.Lock()
	changed := r.status != s
	r.status = s
	r.mu.Unlock()

	if changed {
		r.observer.StatusChanged(s)
	}
}

func nonEmpty(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	v := *p
	return &v
}
