package realtime

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

var (
	errForcedReconnect = stderrors.New("forced reconnect")
	errAlreadyRunning  = errors.ErrInternal("supervisor is already running")
)

// SupervisorOption customises a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorClock replaces the wall clock, mainly for tests.
func WithSupervisorClock(clock clockwork.Clock) SupervisorOption {
	return func(s *Supervisor) { s.clock = clock }
}

// WithBackoffPolicy replaces the default reconnect schedule.
func WithBackoffPolicy(p BackoffPolicy) SupervisorOption {
	return func(s *Supervisor) { s.policy = p }
}

// Supervisor owns the single real-time connection. It dials, performs the
// handshake, keeps the link alive, forwards device status events to the sink
// and reconnects with backoff. Transport and protocol errors never escape it;
// they only show up in the connection state.
//
// All phase transitions and all writes happen on the goroutine running Run.
// Each connection has one extra reader goroutine that only forwards frames.
type Supervisor struct {
	dialer  Dialer
	tokens  service.TokenSource
	sink    service.StatusSink
	policy  BackoffPolicy
	clock   clockwork.Clock
	log     logger.Logger
	metrics service.Metrics

	forceCh      chan struct{}
	tokenChanged chan struct{}
	running      atomic.Bool

	stateMu sync.RWMutex
	state   models.ConnectionState

	observerMu sync.RWMutex
	observers  []phaseObserver
	nextObsID  uint64
}

type phaseObserver struct {
	id uint64
	fn service.ConnectionObserver
}

// NewSupervisor creates a supervisor. It does nothing until Run is called.
func NewSupervisor(dialer Dialer, tokens service.TokenSource, sink service.StatusSink, log logger.Logger, metrics service.Metrics, opts ...SupervisorOption) *Supervisor {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	s := &Supervisor{
		dialer:       dialer,
		tokens:       tokens,
		sink:         sink,
		policy:       DefaultBackoffPolicy(),
		clock:        clockwork.NewRealClock(),
		log:          log.WithComponent("realtime"),
		metrics:      metrics,
		forceCh:      make(chan struct{}, 1),
		tokenChanged: make(chan struct{}, 1),
		state:        models.ConnectionState{Phase: models.PhaseDisconnected},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a snapshot of the connection.
func (s *Supervisor) State() models.ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// OnPhaseChange registers fn for every state transition and returns a
// function that removes it. fn runs on the supervisor goroutine and must not
// block.
func (s *Supervisor) OnPhaseChange(fn service.ConnectionObserver) func() {
	s.observerMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers = append(s.observers, phaseObserver{id: id, fn: fn})
	s.observerMu.Unlock()

	return func() {
		s.observerMu.Lock()
		defer s.observerMu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// ForceReconnect drops the current connection, or cuts a pending backoff
// short, and dials again immediately.
func (s *Supervisor) ForceReconnect() {
	select {
	case s.forceCh <- struct{}{}:
	default:
	}
}

// NotifyTokenChanged tells the supervisor a new token is available. It only has
// an effect while a reconnect is waiting on re-authentication.
func (s *Supervisor) NotifyTokenChanged() {
	select {
	case s.tokenChanged <- struct{}{}:
	default:
	}
}

// Run supervises the connection until ctx is cancelled. It returns nil on
// cancellation; the final phase is disconnected.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer s.running.Store(false)
	defer s.update(func(st *models.ConnectionState) {
		st.Phase = models.PhaseDisconnected
		st.ConnectionID = ""
		st.BackoffDelay = 0
		st.ConnectedSince = time.Time{}
	})

	attempt := 0
	pendingReauth := false
	for {
		if ctx.Err() != nil {
			return nil
		}

		var uptime time.Duration
		var err error
		if pendingReauth {
			err = s.reauthenticate(ctx)
			if err == nil {
				pendingReauth = false
			}
		}
		if !pendingReauth {
			uptime, err = s.connectOnce(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == errForcedReconnect {
			s.log.Info(ctx, "Reconnect forced")
			attempt = 0
			continue
		}

		if s.policy.ResetsAfter(uptime) {
			attempt = 0
		}
		if errors.IsAuthError(err) {
			pendingReauth = true
		}
		attempt++
		delay := s.policy.Delay(attempt)

		s.log.Warn(ctx, "Real-time connection lost",
			logger.Err(err),
			logger.Attempt(attempt),
			logger.Duration("delay", delay),
			logger.Bool("pending_reauth", pendingReauth))

		switch s.wait(ctx, attempt, delay, pendingReauth, err) {
		case waitCancelled:
			return nil
		case waitForced:
			attempt = 0
		case waitTokenChanged:
			pendingReauth = false
		}
	}
}

type waitResult int

const (
	waitElapsed waitResult = iota
	waitCancelled
	waitForced
	waitTokenChanged
)

// wait sits in backing_off until the delay elapses. A forced reconnect always
// cuts it short; a new token does so only while re-authentication is pending.
func (s *Supervisor) wait(ctx context.Context, attempt int, delay time.Duration, pendingReauth bool, cause error) waitResult {
	timer := s.clock.NewTimer(delay)
	defer timer.Stop()

	s.metrics.RecordReconnectScheduled(attempt, delay)
	s.update(func(st *models.ConnectionState) {
		st.Phase = models.PhaseBackingOff
		st.ConnectionID = ""
		st.RetryCount = attempt
		st.BackoffDelay = delay
		st.ConnectedSince = time.Time{}
		st.PendingReauth = pendingReauth
		if cause != nil {
			st.LastError = cause.Error()
		}
	})

	for {
		select {
		case <-ctx.Done():
			return waitCancelled
		case <-timer.Chan():
			return waitElapsed
		case <-s.forceCh:
			return waitForced
		case <-s.tokenChanged:
			if pendingReauth {
				return waitTokenChanged
			}
		}
	}
}

func (s *Supervisor) reauthenticate(ctx context.Context) error {
	if _, err := s.tokens.OnAuthRejected(ctx); err != nil {
		s.log.Warn(ctx, "Token renewal before reconnect failed", logger.Err(err))
		return err
	}
	return nil
}

// connectOnce runs one connection from dial to teardown and reports how long
// it stayed connected.
func (s *Supervisor) connectOnce(ctx context.Context) (time.Duration, error) {
	connID := uuid.NewString()
	s.update(func(st *models.ConnectionState) {
		st.Phase = models.PhaseConnecting
		st.ConnectionID = connID
		st.BackoffDelay = 0
		st.PendingReauth = false
	})

	tok, err := s.tokens.CurrentToken(ctx)
	if err != nil {
		return 0, err
	}

	conn, err := s.dialer.Dial(ctx, tok.AccessToken)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	s.update(func(st *models.ConnectionState) { st.Phase = models.PhaseHandshaking })

	log := s.log.WithFields(logger.ConnectionID(connID))
	log.Debug(ctx, "Real-time transport open")
	return s.serve(ctx, conn, tok.AccessToken, log)
}

func (s *Supervisor) serve(ctx context.Context, conn Conn, token string, log logger.Logger) (time.Duration, error) {
	frames := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-done:
				return
			}
		}
	}()

	window := DefaultOpenPayload().KeepAliveWindow()
	keepAlive := s.clock.NewTimer(window)
	defer keepAlive.Stop()

	var connectedAt time.Time
	uptime := func() time.Duration {
		if connectedAt.IsZero() {
			return 0
		}
		return s.clock.Since(connectedAt)
	}

	for {
		select {
		case <-ctx.Done():
			return uptime(), ctx.Err()
		case <-s.forceCh:
			return uptime(), errForcedReconnect
		case <-s.tokenChanged:
			// Picked up on the next connection.
		case err := <-readErr:
			return uptime(), err
		case <-keepAlive.Chan():
			return uptime(), errors.ErrKeepAliveTimeout(window)
		case raw := <-frames:
			resetTimer(keepAlive, window)

			frame, err := Decode(raw)
			if err != nil {
				s.metrics.RecordMalformedFrame()
				log.Warn(ctx, "Dropping malformed frame", logger.Err(err))
				// once joined, every inbound message is answered
				if !connectedAt.IsZero() {
					if err := conn.WriteMessage(EncodePong()); err != nil {
						return uptime(), err
					}
				}
				continue
			}
			s.metrics.RecordFrame(frame.Kind.String())

			switch frame.Kind {
			case FrameOpen:
				open := DecodeOpen(frame)
				window = open.KeepAliveWindow()
				resetTimer(keepAlive, window)
				if err := conn.WriteMessage(EncodeNamespaceConnect(token)); err != nil {
					return uptime(), err
				}
				s.update(func(st *models.ConnectionState) { st.Phase = models.PhaseNamespaced })
				log.Debug(ctx, "Engine.IO handshake complete",
					logger.String("sid", open.SID),
					logger.Duration("keepalive_window", window))

			case FrameNamespaceConnect:
				if connectedAt.IsZero() {
					connectedAt = s.clock.Now()
					s.update(func(st *models.ConnectionState) {
						st.Phase = models.PhaseConnected
						st.ConnectedSince = connectedAt
						st.LastConnected = connectedAt
						st.LastError = ""
					})
					log.Info(ctx, "Real-time connection established")
				}

			case FrameNamespaceError:
				return uptime(), errors.ErrAuthFailed("namespace connection rejected").
					WithMetadata("payload", frame.Payload)

			case FrameNamespaceDisconnect, FrameClose:
				return uptime(), errors.ErrTransport("server closed the connection")

			case FrameEvent:
				s.handleEvent(ctx, frame, log)
			}

			if !connectedAt.IsZero() || frame.Kind == FramePing {
				if err := conn.WriteMessage(EncodePong()); err != nil {
					return uptime(), err
				}
			}
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, frame Frame, log logger.Logger) {
	evt, ok, err := DecodeDeviceStatusEvent(frame)
	if err != nil {
		s.metrics.RecordMalformedFrame()
		log.Warn(ctx, "Dropping malformed event", logger.Err(err))
		return
	}
	if !ok {
		return
	}
	status := models.NewDeviceStatus(evt.Serial, evt.Status.Gate, evt.Status.Relay, models.SourcePush, s.clock.Now())
	accepted := s.sink.Submit(status)
	log.Debug(ctx, "Device status pushed",
		logger.Serial(evt.Serial),
		logger.String("gate", string(status.Gate)),
		logger.String("relay", string(status.Relay)),
		logger.Bool("accepted", accepted))
}

func (s *Supervisor) update(fn func(*models.ConnectionState)) {
	s.stateMu.Lock()
	prev := s.state.Phase
	fn(&s.state)
	snapshot := s.state
	s.stateMu.Unlock()

	if snapshot.Phase != prev {
		s.metrics.RecordConnectionPhase(snapshot.Phase)
	}

	s.observerMu.RLock()
	observers := make([]phaseObserver, len(s.observers))
	copy(observers, s.observers)
	s.observerMu.RUnlock()
	for _, o := range observers {
		o.fn(snapshot)
	}
}

func resetTimer(t clockwork.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
	t.Reset(d)
}
