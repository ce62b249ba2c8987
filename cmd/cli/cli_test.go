package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/contatto/internal/application/service/mocks"
	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/infrastructure/monitoring"
	"github.com/turtacn/contatto/internal/infrastructure/ratelimit"
	httpapi "github.com/turtacn/contatto/internal/interfaces/http"
	"github.com/turtacn/contatto/internal/interfaces/http/handlers"
	"github.com/turtacn/contatto/pkg/constants"
)

// syncBuffer lets a test read output while a command is still writing it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type cliHarness struct {
	bridge *mocks.MockBridgeAppService
	events *handlers.EventBroker
	url    string
}

func newHarness(t *testing.T) *cliHarness {
	t.Helper()
	bridge := &mocks.MockBridgeAppService{}
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	events := handlers.NewEventBroker(bridge, metrics, nil)
	events.SetHeartbeat(time.Hour)

	router := httpapi.NewRouter(httpapi.RouterDependencies{
		Config:     &config.ServerConfig{Environment: "production"},
		Health:     handlers.NewHealthHandler(bridge, nil, nil),
		Devices:    handlers.NewDeviceHandler(bridge, nil),
		Connection: handlers.NewConnectionHandler(bridge, nil),
		Events:     events,
		Limiter:    ratelimit.NewLocalLimiter(ratelimit.Limits{Burst: 10, PerMinute: 60}, nil),
		Metrics:    metrics,
		Gatherer:   reg,
	})
	ts := httptest.NewServer(router.Engine())
	t.Cleanup(func() {
		events.Close()
		ts.Close()
	})
	return &cliHarness{bridge: bridge, events: events, url: ts.URL}
}

func (h *cliHarness) run(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetArgs(append([]string{"--server", h.url}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func gateDevice(serial string, visible bool) models.Device {
	return models.Device{
		Serial:  serial,
		Names:   models.DeviceNames{Gate: &models.OutputName{Name: "Gate", Show: true}},
		Visible: visible,
	}
}

func TestDevices_Table(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("Devices").Return([]models.Device{gateDevice("PPA1", true), gateDevice("PPA2", false)})
	h.bridge.On("CurrentStatus", "PPA1").Return(models.DeviceStatus{Serial: "PPA1", Gate: models.GateOpen, Source: models.SourcePoll})
	h.bridge.On("CurrentActivity", "PPA1").Return(models.ActivityRecord{}, false)

	out, err := h.run(context.Background(), "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "SERIAL")
	assert.Contains(t, out, "PPA1")
	assert.Contains(t, out, "open")
	assert.NotContains(t, out, "PPA2")
}

func TestDevices_JSONIncludesHidden(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("Devices").Return([]models.Device{gateDevice("PPA1", true), gateDevice("PPA2", false)})
	h.bridge.On("CurrentStatus", mock.Anything).Return(models.DeviceStatus{})
	h.bridge.On("CurrentActivity", mock.Anything).Return(models.ActivityRecord{}, false)

	out, err := h.run(context.Background(), "devices", "--all", "-o", "json")
	require.NoError(t, err)

	var devices []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "PPA2", devices[1]["serial"])
}

func TestDevice_YAML(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("Device", "PPA1").Return(gateDevice("PPA1", true), true)
	h.bridge.On("CurrentStatus", "PPA1").Return(models.DeviceStatus{Serial: "PPA1", Gate: models.GateClosed})
	h.bridge.On("CurrentActivity", "PPA1").Return(models.ActivityRecord{}, false)

	out, err := h.run(context.Background(), "device", "PPA1", "-o", "yaml")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "PPA1", doc["serial"])
}

func TestDevice_NotFound(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("Device", "NOPE").Return(models.Device{}, false)

	_, err := h.run(context.Background(), "device", "NOPE")
	require.Error(t, err)
}

func TestUnknownOutputFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(context.Background(), "devices", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestControl(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("ControlDevice", mock.Anything, "PPA1", constants.HardwareGate).Return(nil).Once()

	out, err := h.run(context.Background(), "control", "PPA1", "gate")
	require.NoError(t, err)
	assert.Contains(t, out, "gate triggered on PPA1")

	_, err = h.run(context.Background(), "control", "PPA1", "door")
	require.Error(t, err)
	h.bridge.AssertExpectations(t)
}

func TestRelayDuration_GetAndSet(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("RelayDuration", mock.Anything, "PPA1").Return(1000, nil).Once()
	h.bridge.On("SetRelayDuration", mock.Anything, "PPA1", -1).Return(nil).Once()

	out, err := h.run(context.Background(), "relay-duration", "PPA1")
	require.NoError(t, err)
	assert.Contains(t, out, "1000")

	out, err = h.run(context.Background(), "relay-duration", "PPA1", "-1", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"mode": "toggle"`)

	_, err = h.run(context.Background(), "relay-duration", "PPA1", "soon")
	require.Error(t, err)
	h.bridge.AssertExpectations(t)
}

func TestSettings_SendsOnlyChangedFlags(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("UpdateSettings", mock.Anything, "PPA1", mock.MatchedBy(func(u models.SettingsUpdate) bool {
		return u.GateName != nil && *u.GateName == "Front" &&
			u.Favorite != nil && *u.Favorite &&
			u.GateShow == nil && u.RelayName == nil && u.Notification == nil
	})).Return(nil).Once()

	out, err := h.run(context.Background(), "settings", "PPA1", "--gate-name", "Front", "--favorite")
	require.NoError(t, err)
	assert.Contains(t, out, "updated")

	_, err = h.run(context.Background(), "settings", "PPA1")
	require.EqualError(t, err, "nothing to change")
	h.bridge.AssertExpectations(t)
}

func TestConnectionReconnectResync(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("ConnectionState").Return(models.ConnectionState{
		Phase:        models.PhaseBackingOff,
		RetryCount:   2,
		BackoffDelay: 5 * time.Second,
		LastError:    "dial failed",
	})
	h.bridge.On("ForceReconnect").Return().Once()
	h.bridge.On("ForceResync", "").Return().Once()

	out, err := h.run(context.Background(), "connection")
	require.NoError(t, err)
	assert.Contains(t, out, "backing_off")
	assert.Contains(t, out, "5s")
	assert.Contains(t, out, "dial failed")

	out, err = h.run(context.Background(), "reconnect")
	require.NoError(t, err)
	assert.Contains(t, out, "reconnect requested")

	out, err = h.run(context.Background(), "resync")
	require.NoError(t, err)
	assert.Contains(t, out, "all devices")
	h.bridge.AssertExpectations(t)
}

func TestWatch_PrintsChanges(t *testing.T) {
	h := newHarness(t)
	h.bridge.On("Devices").Return([]models.Device{gateDevice("PPA1", true)})
	h.bridge.On("CurrentStatus", "PPA1").Return(models.DeviceStatus{Serial: "PPA1", Gate: models.GateClosed, Source: models.SourcePoll})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &syncBuffer{}
	cmd := NewRootCommand(out)
	cmd.SetArgs([]string{"--server", h.url, "watch", "--serial", "PPA1"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return h.events.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.bridge.Emit(models.StatusChange{
		Previous: models.DeviceStatus{Serial: "PPA1", Gate: models.GateClosed},
		Current:  models.DeviceStatus{Serial: "PPA1", Gate: models.GateOpen, Source: models.SourcePush},
	})
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "gate=open") }, 2*time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "gate=closed")
	assert.Contains(t, out.String(), "gate=open")
}
