package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/contatto/internal/application/service"
	"github.com/turtacn/contatto/internal/domain/models"
	domainservice "github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/constants"
)

// MockBridgeAppService is a testify mock of service.BridgeAppService.
// Subscribe is not an expectation: listeners are kept and driven by Emit.
type MockBridgeAppService struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[int]domainservice.StatusListener
	nextID    int
}

var _ service.BridgeAppService = (*MockBridgeAppService)(nil)

func (m *MockBridgeAppService) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBridgeAppService) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBridgeAppService) Subscribe(fn domainservice.StatusListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[int]domainservice.StatusListener)
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Emit delivers change to every subscribed listener.
func (m *MockBridgeAppService) Emit(change models.StatusChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fn := range m.listeners {
		fn(change)
	}
}

// Listeners returns the number of live subscriptions.
func (m *MockBridgeAppService) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *MockBridgeAppService) CurrentStatus(serial string) models.DeviceStatus {
	return m.Called(serial).Get(0).(models.DeviceStatus)
}

func (m *MockBridgeAppService) CurrentActivity(serial string) (models.ActivityRecord, bool) {
	args := m.Called(serial)
	return args.Get(0).(models.ActivityRecord), args.Bool(1)
}

func (m *MockBridgeAppService) Devices() []models.Device {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]models.Device)
}

func (m *MockBridgeAppService) Device(serial string) (models.Device, bool) {
	args := m.Called(serial)
	return args.Get(0).(models.Device), args.Bool(1)
}

func (m *MockBridgeAppService) History(ctx context.Context, serial string, limit int) ([]models.DeviceStatus, error) {
	args := m.Called(ctx, serial, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DeviceStatus), args.Error(1)
}

func (m *MockBridgeAppService) ConnectionState() models.ConnectionState {
	return m.Called().Get(0).(models.ConnectionState)
}

func (m *MockBridgeAppService) ForceReconnect() {
	m.Called()
}

func (m *MockBridgeAppService) ForceResync(serial string) {
	m.Called(serial)
}

func (m *MockBridgeAppService) ControlDevice(ctx context.Context, serial string, hw constants.HardwareType) error {
	return m.Called(ctx, serial, hw).Error(0)
}

func (m *MockBridgeAppService) RelayDuration(ctx context.Context, serial string) (int, error) {
	args := m.Called(ctx, serial)
	return args.Int(0), args.Error(1)
}

func (m *MockBridgeAppService) SetRelayDuration(ctx context.Context, serial string, ms int) error {
	return m.Called(ctx, serial, ms).Error(0)
}

func (m *MockBridgeAppService) UpdateSettings(ctx context.Context, serial string, update models.SettingsUpdate) error {
	return m.Called(ctx, serial, update).Error(0)
}

func (m *MockBridgeAppService) TestConnection(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockBridgeAppService) Health() service.HealthReport {
	return m.Called().Get(0).(service.HealthReport)
}
