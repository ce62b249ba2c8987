package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/contatto/internal/domain/models"
	domainservice "github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
)

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) Append(ctx context.Context, status models.DeviceStatus) error {
	return m.Called(ctx, status).Error(0)
}

func (m *mockHistory) ListBySerial(ctx context.Context, serial string, limit int) ([]models.DeviceStatus, error) {
	args := m.Called(ctx, serial, limit)
	out, _ := args.Get(0).([]models.DeviceStatus)
	return out, args.Error(1)
}

func (m *mockHistory) Prune(ctx context.Context, serial string, keep int) (int64, error) {
	args := m.Called(ctx, serial, keep)
	return args.Get(0).(int64), args.Error(1)
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []models.StatusChange
}

func (p *recordingPublisher) Publish(c models.StatusChange) {
	p.mu.Lock()
	p.changes = append(p.changes, c)
	p.mu.Unlock()
}

func (p *recordingPublisher) Run(ctx context.Context) { <-ctx.Done() }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.changes)
}

type BridgeSuite struct {
	suite.Suite
	vendor     *fakeVendor
	tokens     *fakeTokens
	realtime   *fakeRealtime
	publisher  *recordingPublisher
	reconciler *domainservice.StateReconciler
	poller     *Poller
	bridge     BridgeAppService
}

func (s *BridgeSuite) SetupTest() {
	s.vendor = newFakeVendor(gateRelayDevice("S1"), models.Device{
		Serial: "GATEONLY",
		Names:  models.DeviceNames{Gate: &models.OutputName{Name: "Garagem", Show: true}},
	})
	s.tokens = &fakeTokens{}
	s.realtime = newFakeRealtime()
	s.publisher = &recordingPublisher{}
	s.reconciler = domainservice.NewStateReconciler(nil)
	s.poller = NewPoller(s.vendor, s.reconciler, PollerConfig{Interval: time.Hour, ConnectedInterval: time.Hour}, nil, nil,
		WithConnectedFunc(func() bool { return s.realtime.State().IsConnected() }))
	s.bridge = NewBridgeAppService(BridgeDeps{
		Tokens:     s.tokens,
		API:        s.vendor,
		Reconciler: s.reconciler,
		Poller:     s.poller,
		Realtime:   s.realtime,
		Publisher:  s.publisher,
	}, nil)
	s.Require().NoError(s.poller.PollOnce(context.Background()))
}

func (s *BridgeSuite) start() {
	s.Require().NoError(s.bridge.Start(context.Background()))
	s.T().Cleanup(func() { _ = s.bridge.Stop(context.Background()) })
	<-s.realtime.running
	s.waitListed()
}

func (s *BridgeSuite) waitListed() {
	select {
	case <-s.vendor.listed:
	case <-time.After(2 * time.Second):
		s.FailNow("expected a poll")
	}
}

func (s *BridgeSuite) drainListed() {
	for {
		select {
		case <-s.vendor.listed:
		default:
			return
		}
	}
}

func (s *BridgeSuite) TestStartWiresCollaborators() {
	s.drainListed()
	s.start()

	s.tokens.emit(models.Token{AccessToken: "new"})
	s.realtime.mu.Lock()
	s.Equal(1, s.realtime.tokenChanges)
	s.realtime.mu.Unlock()

	s.reconciler.Submit(models.NewDeviceStatus("S1", "open", "off", models.SourcePush, time.Now()))
	s.Equal(1, s.publisher.count())

	s.Error(s.bridge.Start(context.Background()), "second start is refused")
	s.NoError(s.bridge.Stop(context.Background()))
	s.NoError(s.bridge.Stop(context.Background()), "stop is idempotent")

	s.reconciler.Submit(models.NewDeviceStatus("S1", "closed", "off", models.SourcePush, time.Now().Add(time.Second)))
	s.Equal(1, s.publisher.count(), "unsubscribed on stop")
}

func (s *BridgeSuite) TestRestartKeepsOnePhaseObserver() {
	ctx := context.Background()
	s.drainListed()
	s.start()
	s.Equal(1, s.realtime.observerCount())

	s.Require().NoError(s.bridge.Stop(ctx))
	s.Equal(0, s.realtime.observerCount())

	s.drainListed()
	s.Require().NoError(s.bridge.Start(ctx))
	s.Equal(1, s.realtime.observerCount(), "restart must not stack observers")
	s.waitListed()
}

func (s *BridgeSuite) TestStartAbortsOnRejectedCredentials() {
	s.tokens.currentErr = errors.ErrReauthRequired("bad password")
	err := s.bridge.Start(context.Background())
	s.True(errors.IsReauthRequired(err))
}

func (s *BridgeSuite) TestStartToleratesTransientTokenFailure() {
	s.tokens.currentErr = errors.ErrTransport("offline")
	s.drainListed()
	s.start()
}

func (s *BridgeSuite) TestPhaseChangesTriggerPoll() {
	s.drainListed()
	s.start()

	s.realtime.setPhase(models.PhaseConnecting)
	s.realtime.setPhase(models.PhaseConnected)
	s.waitListed()

	s.realtime.setPhase(models.PhaseBackingOff)
	s.waitListed()
}

func (s *BridgeSuite) TestControlDevice() {
	ctx := context.Background()

	err := s.bridge.ControlDevice(ctx, "S1", constants.HardwareType("door"))
	s.Equal(errors.CodeInvalidArgument, errors.CodeOf(err))

	err = s.bridge.ControlDevice(ctx, "NOPE", constants.HardwareGate)
	s.Equal(errors.CodeNotFound, errors.CodeOf(err))

	err = s.bridge.ControlDevice(ctx, "GATEONLY", constants.HardwareRelay)
	s.Equal(errors.CodeInvalidArgument, errors.CodeOf(err))

	s.NoError(s.bridge.ControlDevice(ctx, "S1", constants.HardwareRelay))
	s.Equal([]string{"S1:relay"}, s.vendor.controlled)
}

func (s *BridgeSuite) TestSetRelayDuration() {
	ctx := context.Background()
	s.vendor.config["S1"] = models.DeviceConfiguration{"relayDuration": float64(1000), "buzzer": true}

	for _, bad := range []int{0, -2, 30001} {
		err := s.bridge.SetRelayDuration(ctx, "S1", bad)
		s.Equal(errors.CodeInvalidArgument, errors.CodeOf(err), "duration %d", bad)
	}
	s.Equal(errors.CodeInvalidArgument, errors.CodeOf(s.bridge.SetRelayDuration(ctx, "GATEONLY", 500)))

	s.Require().NoError(s.bridge.SetRelayDuration(ctx, "S1", -1))
	s.Equal(-1, s.vendor.config["S1"].RelayDuration())
	s.Equal(true, s.vendor.config["S1"]["buzzer"], "other keys are carried through")

	ms, err := s.bridge.RelayDuration(ctx, "S1")
	s.NoError(err)
	s.Equal(-1, ms)
}

func (s *BridgeSuite) TestUpdateSettingsSendsCompletePayload() {
	fav := true
	name := "Entrada"
	s.Require().NoError(s.bridge.UpdateSettings(context.Background(), "S1", models.SettingsUpdate{
		GateName: &name,
		Favorite: &fav,
	}))

	got := s.vendor.settings["S1"]
	s.Equal("Entrada", got.Name.Gate.Name)
	s.Equal("Porta", got.Name.Relay.Name)
	s.True(got.Name.Relay.Show)
	s.True(got.Favorite)
}

func (s *BridgeSuite) TestTestConnection() {
	n, err := s.bridge.TestConnection(context.Background())
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(1, s.tokens.cleared)
	s.Equal(1, s.tokens.reauths)
	s.Equal(1, s.vendor.invalid)

	s.tokens.reauthErr = errors.ErrAuthFailed("nope")
	_, err = s.bridge.TestConnection(context.Background())
	s.True(errors.IsAuthError(err))
}

func (s *BridgeSuite) TestForceReconnectAndResync() {
	s.bridge.ForceReconnect()
	s.Equal(1, s.realtime.reconnects)

	now := time.Now()
	s.reconciler.Submit(models.NewDeviceStatus("S1", "open", "on", models.SourcePush, now))
	s.False(s.reconciler.Submit(models.NewDeviceStatus("S1", "closed", "on", models.SourcePoll, now.Add(-time.Minute))))

	s.bridge.ForceResync("S1")
	s.True(s.reconciler.Submit(models.NewDeviceStatus("S1", "closed", "on", models.SourcePoll, now.Add(-time.Minute))))
	s.Equal(models.GateClosed, s.bridge.CurrentStatus("S1").Gate)
}

func (s *BridgeSuite) TestHealth() {
	s.tokens.needsReauth = true
	h := s.bridge.Health()
	s.True(h.NeedsReauth)
	s.Equal(2, h.Devices)
	s.Equal(models.PhaseDisconnected, h.Connection.Phase)
	s.Empty(h.LastPollError)
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}

func TestBridge_History(t *testing.T) {
	v := newFakeVendor(gateRelayDevice("S1"))
	rec := domainservice.NewStateReconciler(nil)
	poller := NewPoller(v, rec, PollerConfig{}, nil, nil)

	noHistory := NewBridgeAppService(BridgeDeps{Tokens: &fakeTokens{}, API: v, Reconciler: rec, Poller: poller}, nil)
	_, err := noHistory.History(context.Background(), "S1", 10)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	repo := new(mockHistory)
	want := []models.DeviceStatus{models.NewDeviceStatus("S1", "open", "off", models.SourcePush, time.Now())}
	repo.On("ListBySerial", mock.Anything, "S1", 20).Return(want, nil)

	withHistory := NewBridgeAppService(BridgeDeps{
		Tokens: &fakeTokens{}, API: v, Reconciler: rec, Poller: poller, History: repo, HistoryLimit: 20,
	}, nil)
	got, err := withHistory.History(context.Background(), "S1", 500)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	repo.AssertExpectations(t)
}

func TestHistoryRecorder_AppendsAndPrunes(t *testing.T) {
	repo := new(mockHistory)
	repo.On("Append", mock.Anything, mock.Anything).Return(nil)
	repo.On("Prune", mock.Anything, "S1", 10).Return(int64(3), nil).Once()

	h := NewHistoryRecorder(repo, 10, nil)
	for i := 0; i < historyPruneEvery; i++ {
		h.write(context.Background(), models.NewDeviceStatus("S1", "open", "off", models.SourcePoll, time.Now()))
	}
	repo.AssertNumberOfCalls(t, "Append", historyPruneEvery)
	repo.AssertExpectations(t)
}

func TestValidateRelayDuration(t *testing.T) {
	for _, ok := range []int{-1, 1, 1000, 30000} {
		assert.NoError(t, ValidateRelayDuration(ok), ok)
	}
	for _, bad := range []int{-5, 0, 30001} {
		assert.Error(t, ValidateRelayDuration(bad), bad)
	}
}
