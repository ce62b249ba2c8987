// Package service contains the application services of the Contatto bridge:
// the bridge facade, the report poller and the status history recorder.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/repository"
	domainservice "github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

// BridgeAppService is the engine facade used by the HTTP API and the CLI.
type BridgeAppService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Subscribe(fn domainservice.StatusListener) func()
	CurrentStatus(serial string) models.DeviceStatus
	CurrentActivity(serial string) (models.ActivityRecord, bool)
	Devices() []models.Device
	Device(serial string) (models.Device, bool)
	History(ctx context.Context, serial string, limit int) ([]models.DeviceStatus, error)

	ConnectionState() models.ConnectionState
	ForceReconnect()
	ForceResync(serial string)

	ControlDevice(ctx context.Context, serial string, hw constants.HardwareType) error
	RelayDuration(ctx context.Context, serial string) (int, error)
	SetRelayDuration(ctx context.Context, serial string, ms int) error
	UpdateSettings(ctx context.Context, serial string, update models.SettingsUpdate) error

	TestConnection(ctx context.Context) (int, error)
	Health() HealthReport
}

// RealtimeChannel is the push connection as the bridge drives it.
type RealtimeChannel interface {
	Run(ctx context.Context) error
	State() models.ConnectionState
	OnPhaseChange(fn domainservice.ConnectionObserver) func()
	ForceReconnect()
	NotifyTokenChanged()
}

// DeviceAPI is the part of the vendor client the bridge calls directly.
type DeviceAPI interface {
	ControlDevice(ctx context.Context, serial string, hw constants.HardwareType) error
	DeviceConfiguration(ctx context.Context, serial string) (models.DeviceConfiguration, error)
	UpdateConfiguration(ctx context.Context, serial string, cfg models.DeviceConfiguration) error
	UpdateSettings(ctx context.Context, serial string, settings models.DeviceSettings) error
	RefreshDevices(ctx context.Context) ([]models.Device, error)
	Invalidate()
}

// TokenLifecycle is the part of the token manager the bridge needs.
type TokenLifecycle interface {
	Restore(ctx context.Context) (bool, error)
	CurrentToken(ctx context.Context) (*models.Token, error)
	Reauthenticate(ctx context.Context) (*models.Token, error)
	Clear(ctx context.Context) error
	NeedsReauth() bool
	Subscribe(fn domainservice.TokenListener) func()
}

// StatusPublisher forwards accepted changes to an event bus.
type StatusPublisher interface {
	Publish(change models.StatusChange)
	Run(ctx context.Context)
}

// BridgeDeps wires a bridge. Realtime, Publisher and History may be nil.
type BridgeDeps struct {
	Tokens     TokenLifecycle
	API        DeviceAPI
	Reconciler *domainservice.StateReconciler
	Poller     *Poller
	Realtime   RealtimeChannel
	Publisher  StatusPublisher
	History    repository.StatusHistoryRepository
	// HistoryLimit is the number of rows kept per device.
	HistoryLimit int
}

// HealthReport summarises the bridge for health checks.
type HealthReport struct {
	Connection    models.ConnectionState `json:"connection"`
	NeedsReauth   bool                   `json:"needs_reauth"`
	Devices       int                    `json:"devices"`
	LastPoll      time.Time              `json:"last_poll,omitempty"`
	LastPollError string                 `json:"last_poll_error,omitempty"`
}

type bridgeAppServiceImpl struct {
	deps     BridgeDeps
	recorder *HistoryRecorder
	log      logger.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	group     *errgroup.Group
	unsubs    []func()
	lastPhase models.Phase
}

// NewBridgeAppService creates the bridge facade.
func NewBridgeAppService(deps BridgeDeps, log logger.Logger) BridgeAppService {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	s := &bridgeAppServiceImpl{
		deps:      deps,
		log:       log.WithComponent("bridge"),
		lastPhase: models.PhaseDisconnected,
	}
	if deps.History != nil {
		s.recorder = NewHistoryRecorder(deps.History, deps.HistoryLimit, log)
	}
	return s
}

// Start restores or obtains a token and launches the background loops. A
// transient failure to obtain a token is logged and left to the loops to
// retry; rejected credentials abort the start.
func (s *bridgeAppServiceImpl) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.ErrInternal("bridge already started")
	}

	if restored, err := s.deps.Tokens.Restore(ctx); err != nil {
		s.log.Warn(ctx, "Could not restore persisted token", logger.Err(err))
	} else if restored {
		s.log.Info(ctx, "Using persisted token")
	}
	if _, err := s.deps.Tokens.CurrentToken(ctx); err != nil {
		if errors.IsAuthError(err) {
			s.log.Error(ctx, "Vendor rejected the account credentials", err)
			return err
		}
		s.log.Warn(ctx, "Initial token unavailable, will retry", logger.Err(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	s.cancel = cancel
	s.group = g

	if s.deps.Publisher != nil {
		s.unsubs = append(s.unsubs, s.deps.Reconciler.Subscribe(s.deps.Publisher.Publish))
		g.Go(func() error {
			s.deps.Publisher.Run(gctx)
			return nil
		})
	}
	if s.recorder != nil {
		s.unsubs = append(s.unsubs, s.deps.Reconciler.Subscribe(s.recorder.Record))
		g.Go(func() error { return s.recorder.Run(gctx) })
	}
	if s.deps.Realtime != nil {
		s.unsubs = append(s.unsubs, s.deps.Realtime.OnPhaseChange(s.onPhaseChange))
		s.unsubs = append(s.unsubs, s.deps.Tokens.Subscribe(func(models.Token) {
			s.deps.Realtime.NotifyTokenChanged()
		}))
		g.Go(func() error { return s.deps.Realtime.Run(gctx) })
	}
	g.Go(func() error { return s.deps.Poller.Run(gctx) })

	s.log.Info(ctx, "Bridge started", logger.Bool("realtime", s.deps.Realtime != nil))
	return nil
}

// Stop cancels the background loops and waits for them, bounded by ctx.
func (s *bridgeAppServiceImpl) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, g, unsubs := s.cancel, s.group, s.unsubs
	s.cancel, s.group, s.unsubs = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	for _, unsub := range unsubs {
		unsub()
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		s.log.Info(ctx, "Bridge stopped")
		return err
	case <-ctx.Done():
		return errors.ErrInternal("bridge did not stop in time").WithCause(ctx.Err())
	}
}

// onPhaseChange polls right away when push events start or stop flowing, so
// the reconciler catches up on anything missed and the cadence adapts.
func (s *bridgeAppServiceImpl) onPhaseChange(state models.ConnectionState) {
	s.mu.Lock()
	prev := s.lastPhase
	s.lastPhase = state.Phase
	s.mu.Unlock()

	wasConnected := prev == models.PhaseConnected
	if wasConnected != state.IsConnected() {
		s.deps.Poller.Trigger()
	}
}

func (s *bridgeAppServiceImpl) Subscribe(fn domainservice.StatusListener) func() {
	return s.deps.Reconciler.Subscribe(fn)
}

func (s *bridgeAppServiceImpl) CurrentStatus(serial string) models.DeviceStatus {
	return s.deps.Reconciler.Current(serial)
}

func (s *bridgeAppServiceImpl) CurrentActivity(serial string) (models.ActivityRecord, bool) {
	return s.deps.Reconciler.Activity(serial)
}

func (s *bridgeAppServiceImpl) Devices() []models.Device {
	return s.deps.Poller.Devices()
}

func (s *bridgeAppServiceImpl) Device(serial string) (models.Device, bool) {
	return s.deps.Poller.Device(serial)
}

func (s *bridgeAppServiceImpl) History(ctx context.Context, serial string, limit int) ([]models.DeviceStatus, error) {
	if s.deps.History == nil {
		return nil, errors.NewError(errors.CodeNotFound, 404, "status history is not enabled")
	}
	if limit <= 0 || limit > s.deps.HistoryLimit {
		limit = s.deps.HistoryLimit
	}
	return s.deps.History.ListBySerial(ctx, serial, limit)
}

func (s *bridgeAppServiceImpl) ConnectionState() models.ConnectionState {
	if s.deps.Realtime == nil {
		return models.ConnectionState{Phase: models.PhaseDisconnected}
	}
	return s.deps.Realtime.State()
}

func (s *bridgeAppServiceImpl) ForceReconnect() {
	if s.deps.Realtime != nil {
		s.deps.Realtime.ForceReconnect()
	}
}

// ForceResync lets the next status of serial (every device when empty)
// through the reconciler and polls immediately.
func (s *bridgeAppServiceImpl) ForceResync(serial string) {
	s.deps.Reconciler.ForceResync(serial)
	s.deps.Poller.Trigger()
}

func (s *bridgeAppServiceImpl) device(serial string) (models.Device, error) {
	d, ok := s.deps.Poller.Device(serial)
	if !ok || !d.Visible {
		return models.Device{}, errors.ErrDeviceNotFound(serial)
	}
	return d, nil
}

func (s *bridgeAppServiceImpl) ControlDevice(ctx context.Context, serial string, hw constants.HardwareType) error {
	if !hw.Valid() {
		return errors.ErrInvalidArgument(fmt.Sprintf("unknown hardware %q", hw))
	}
	d, err := s.device(serial)
	if err != nil {
		return err
	}
	if !d.Supports(hw) {
		return errors.ErrInvalidArgument(fmt.Sprintf("device %s has no %s output", serial, hw))
	}

	if err := s.deps.API.ControlDevice(ctx, serial, hw); err != nil {
		return err
	}
	s.log.Info(ctx, "Device controlled", logger.Serial(serial), logger.Hardware(string(hw)))
	if !s.ConnectionState().IsConnected() {
		s.deps.Poller.Trigger()
	}
	return nil
}

func (s *bridgeAppServiceImpl) RelayDuration(ctx context.Context, serial string) (int, error) {
	if _, err := s.device(serial); err != nil {
		return 0, err
	}
	cfg, err := s.deps.API.DeviceConfiguration(ctx, serial)
	if err != nil {
		return 0, err
	}
	return cfg.RelayDuration(), nil
}

// ValidateRelayDuration accepts toggle mode (-1) or a pulse of 1..30000 ms.
func ValidateRelayDuration(ms int) error {
	if ms == constants.RelayDurationToggle {
		return nil
	}
	if ms < constants.RelayDurationMinPulse || ms > constants.RelayDurationMaxPulse {
		return errors.ErrInvalidArgument(fmt.Sprintf(
			"relay duration must be %d (toggle) or between %d and %d ms",
			constants.RelayDurationToggle, constants.RelayDurationMinPulse, constants.RelayDurationMaxPulse))
	}
	return nil
}

func (s *bridgeAppServiceImpl) SetRelayDuration(ctx context.Context, serial string, ms int) error {
	if err := ValidateRelayDuration(ms); err != nil {
		return err
	}
	d, err := s.device(serial)
	if err != nil {
		return err
	}
	if !d.HasRelay() {
		return errors.ErrInvalidArgument(fmt.Sprintf("device %s has no relay output", serial))
	}

	cfg, err := s.deps.API.DeviceConfiguration(ctx, serial)
	if err != nil {
		return err
	}
	if err := s.deps.API.UpdateConfiguration(ctx, serial, cfg.WithRelayDuration(ms)); err != nil {
		return err
	}
	s.log.Info(ctx, "Relay duration updated",
		logger.Serial(serial),
		logger.Int("duration_ms", ms),
		logger.String("mode", models.RelayMode(ms)))
	return nil
}

// UpdateSettings sends the complete settings payload built from the device's
// current values with update applied.
func (s *bridgeAppServiceImpl) UpdateSettings(ctx context.Context, serial string, update models.SettingsUpdate) error {
	d, err := s.device(serial)
	if err != nil {
		return err
	}
	if err := s.deps.API.UpdateSettings(ctx, serial, d.Settings(update)); err != nil {
		return err
	}
	s.deps.Poller.Trigger()
	return nil
}

// TestConnection discards the held token, logs in afresh and lists the
// devices. It returns the number of devices found.
func (s *bridgeAppServiceImpl) TestConnection(ctx context.Context) (int, error) {
	if err := s.deps.Tokens.Clear(ctx); err != nil {
		s.log.Warn(ctx, "Could not clear persisted token", logger.Err(err))
	}
	if _, err := s.deps.Tokens.Reauthenticate(ctx); err != nil {
		return 0, err
	}
	s.deps.API.Invalidate()
	devices, err := s.deps.API.RefreshDevices(ctx)
	if err != nil {
		return 0, err
	}
	return len(devices), nil
}

func (s *bridgeAppServiceImpl) Health() HealthReport {
	report := HealthReport{
		Connection:  s.ConnectionState(),
		NeedsReauth: s.deps.Tokens.NeedsReauth(),
		Devices:     len(s.deps.Poller.Devices()),
	}
	lastRun, lastErr := s.deps.Poller.LastRun()
	report.LastPoll = lastRun
	if lastErr != nil {
		report.LastPollError = lastErr.Error()
	}
	return report
}
