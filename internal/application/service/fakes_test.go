package service

import (
	"context"
	"sync"

	"github.com/turtacn/contatto/internal/domain/models"
	domainservice "github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/constants"
)

// fakeVendor serves both the poller and the bridge.
type fakeVendor struct {
	mu         sync.Mutex
	devices    []models.Device
	listErr    error
	reports    map[string][]models.Report
	reportErr  map[string]error
	config     map[string]models.DeviceConfiguration
	controlled []string
	settings   map[string]models.DeviceSettings
	listCalls  int
	listed     chan struct{}
	invalid    int
}

func newFakeVendor(devices ...models.Device) *fakeVendor {
	return &fakeVendor{
		devices:   devices,
		reports:   make(map[string][]models.Report),
		reportErr: make(map[string]error),
		config:    make(map[string]models.DeviceConfiguration),
		settings:  make(map[string]models.DeviceSettings),
		listed:    make(chan struct{}, 16),
	}
}

func (f *fakeVendor) RefreshDevices(context.Context) ([]models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	select {
	case f.listed <- struct{}{}:
	default:
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Device(nil), f.devices...), nil
}

func (f *fakeVendor) Reports(_ context.Context, serial string, _, _ int) ([]models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reportErr[serial]; err != nil {
		return nil, err
	}
	return f.reports[serial], nil
}

func (f *fakeVendor) ControlDevice(_ context.Context, serial string, hw constants.HardwareType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlled = append(f.controlled, serial+":"+string(hw))
	return nil
}

func (f *fakeVendor) DeviceConfiguration(_ context.Context, serial string) (models.DeviceConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config[serial], nil
}

func (f *fakeVendor) UpdateConfiguration(_ context.Context, serial string, cfg models.DeviceConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config[serial] = cfg
	return nil
}

func (f *fakeVendor) UpdateSettings(_ context.Context, serial string, s models.DeviceSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[serial] = s
	return nil
}

func (f *fakeVendor) Invalidate() {
	f.mu.Lock()
	f.invalid++
	f.mu.Unlock()
}

type fakeTokens struct {
	mu          sync.Mutex
	restoreOK   bool
	currentErr  error
	reauthErr   error
	cleared     int
	reauths     int
	needsReauth bool
	listeners   []domainservice.TokenListener
}

func (f *fakeTokens) Restore(context.Context) (bool, error) { return f.restoreOK, nil }

func (f *fakeTokens) CurrentToken(context.Context) (*models.Token, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return &models.Token{AccessToken: "tok"}, nil
}

func (f *fakeTokens) Reauthenticate(context.Context) (*models.Token, error) {
	f.mu.Lock()
	f.reauths++
	f.mu.Unlock()
	if f.reauthErr != nil {
		return nil, f.reauthErr
	}
	return &models.Token{AccessToken: "fresh"}, nil
}

func (f *fakeTokens) Clear(context.Context) error {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
	return nil
}

func (f *fakeTokens) NeedsReauth() bool { return f.needsReauth }

func (f *fakeTokens) Subscribe(fn domainservice.TokenListener) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeTokens) emit(tok models.Token) {
	f.mu.Lock()
	ls := append([]domainservice.TokenListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range ls {
		fn(tok)
	}
}

type fakeRealtime struct {
	mu           sync.Mutex
	state        models.ConnectionState
	observers    map[int]domainservice.ConnectionObserver
	nextObs      int
	reconnects   int
	tokenChanges int
	running      chan struct{}
	runOnce      sync.Once
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{
		state:     models.ConnectionState{Phase: models.PhaseDisconnected},
		observers: make(map[int]domainservice.ConnectionObserver),
		running:   make(chan struct{}),
	}
}

func (f *fakeRealtime) Run(ctx context.Context) error {
	f.runOnce.Do(func() { close(f.running) })
	<-ctx.Done()
	return nil
}

func (f *fakeRealtime) State() models.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRealtime) OnPhaseChange(fn domainservice.ConnectionObserver) func() {
	f.mu.Lock()
	id := f.nextObs
	f.nextObs++
	f.observers[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

func (f *fakeRealtime) observerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}

func (f *fakeRealtime) ForceReconnect() {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
}

func (f *fakeRealtime) NotifyTokenChanged() {
	f.mu.Lock()
	f.tokenChanges++
	f.mu.Unlock()
}

func (f *fakeRealtime) setPhase(p models.Phase) {
	f.mu.Lock()
	f.state = models.ConnectionState{Phase: p}
	obs := make([]domainservice.ConnectionObserver, 0, len(f.observers))
	for _, fn := range f.observers {
		obs = append(obs, fn)
	}
	st := f.state
	f.mu.Unlock()
	for _, fn := range obs {
		fn(st)
	}
}

func gateRelayDevice(serial string) models.Device {
	return models.Device{
		Serial: serial,
		Names: models.DeviceNames{
			Gate:  &models.OutputName{Name: "Portão", Show: true},
			Relay: &models.OutputName{Name: "Porta", Show: true},
		},
	}
}
