package contatto_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/contatto/internal/application/service/mocks"
	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/infrastructure/monitoring"
	"github.com/turtacn/contatto/internal/infrastructure/ratelimit"
	httpapi "github.com/turtacn/contatto/internal/interfaces/http"
	"github.com/turtacn/contatto/internal/interfaces/http/handlers"
	"github.com/turtacn/contatto/pkg/constants"
	pkgerrors "github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/sdk/go/contatto"
)

func device(serial string) models.Device {
	return models.Device{
		Serial:  serial,
		Names:   models.DeviceNames{Gate: &models.OutputName{Name: "Gate", Show: true}, Relay: &models.OutputName{Name: "Light", Show: true}},
		Visible: true,
	}
}

func newBridge(t *testing.T) (*mocks.MockBridgeAppService, *contatto.Client) {
	bridge, client, _ := newBridgeWithEvents(t)
	return bridge, client
}

func newBridgeWithEvents(t *testing.T) (*mocks.MockBridgeAppService, *contatto.Client, *handlers.EventBroker) {
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
		Limiter:    ratelimit.NewLocalLimiter(ratelimit.Limits{Burst: 1, PerMinute: 1}, nil),
		Metrics:    metrics,
		Gatherer:   reg,
	})
	ts := httptest.NewServer(router.Engine())
	t.Cleanup(func() {
		events.Close()
		ts.Close()
	})

	client, err := contatto.NewClient(ts.URL, contatto.WithRetries(0))
	require.NoError(t, err)
	return bridge, client, events
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := contatto.NewClient("localhost")
	assert.Error(t, err)
}

func TestClient_DevicesAndStatus(t *testing.T) {
	bridge, client := newBridge(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	bridge.On("Devices").Return([]models.Device{device("PPA1")})
	bridge.On("Device", "PPA1").Return(device("PPA1"), true)
	bridge.On("Device", "NOPE").Return(models.Device{}, false)
	bridge.On("CurrentStatus", "PPA1").Return(models.DeviceStatus{
		Serial: "PPA1", Gate: models.GateOpen, Relay: models.RelayOff, Source: models.SourcePush, ObservedAt: at,
	})
	bridge.On("CurrentActivity", "PPA1").Return(models.ActivityRecord{}, false)

	devices, err := client.Devices(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "PPA1", devices[0].Serial)
	assert.True(t, devices[0].HasRelay)
	assert.Equal(t, "open", devices[0].Status.Gate)

	status, err := client.Status(context.Background(), "PPA1")
	require.NoError(t, err)
	assert.Equal(t, "push", status.Source)
	assert.True(t, status.ObservedAt.Equal(at))

	_, err = client.Status(context.Background(), "NOPE")
	assert.ErrorIs(t, err, contatto.ErrNotFound)
}

func TestClient_ControlIsThrottled(t *testing.T) {
	bridge, client := newBridge(t)
	bridge.On("ControlDevice", mock.Anything, "PPA1", constants.HardwareRelay).Return(nil).Once()

	require.NoError(t, client.Control(context.Background(), "PPA1", "relay"))

	err := client.Control(context.Background(), "PPA1", "relay")
	require.ErrorIs(t, err, contatto.ErrRateLimited)
	var apiErr *contatto.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 60*time.Second, apiErr.RetryAfter)
	bridge.AssertExpectations(t)
}

func TestClient_ErrorCarriesCode(t *testing.T) {
	bridge, client := newBridge(t)
	bridge.On("ControlDevice", mock.Anything, "PPA1", constants.HardwareGate).
		Return(pkgerrors.ErrReauthRequired("vendor rejected the stored credentials"))

	err := client.Control(context.Background(), "PPA1", "gate")
	var apiErr *contatto.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, string(pkgerrors.CodeReauthRequired), apiErr.Code)
}

func TestClient_RelayDuration(t *testing.T) {
	bridge, client := newBridge(t)
	bridge.On("SetRelayDuration", mock.Anything, "PPA1", -1).Return(nil)

	rd, err := client.SetRelayDuration(context.Background(), "PPA1", -1)
	require.NoError(t, err)
	assert.Equal(t, "toggle", rd.Mode)
	assert.Equal(t, -1, rd.DurationMS)
}

func TestClient_ResyncAndReconnect(t *testing.T) {
	bridge, client := newBridge(t)
	bridge.On("ForceResync", "").Return().Once()
	bridge.On("ForceResync", "PPA1").Return().Once()
	bridge.On("ForceReconnect").Return().Once()

	require.NoError(t, client.Resync(context.Background(), ""))
	require.NoError(t, client.Resync(context.Background(), "PPA1"))
	require.NoError(t, client.Reconnect(context.Background()))
	bridge.AssertExpectations(t)
}

func TestClient_Watch(t *testing.T) {
	bridge, client, events := newBridgeWithEvents(t)
	bridge.On("Devices").Return([]models.Device{device("PPA1")})
	bridge.On("CurrentStatus", "PPA1").Return(models.DeviceStatus{Serial: "PPA1", Gate: models.GateClosed, Relay: models.RelayOff})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []contatto.StatusChange
	done := make(chan error, 1)
	go func() {
		done <- client.Watch(ctx, "PPA1", func(change contatto.StatusChange) error {
			got = append(got, change)
			if len(got) == 2 {
				cancel()
			}
			return nil
		})
	}()

	// Changes emitted once the client is registered queue behind its snapshot.
	require.Eventually(t, func() bool { return events.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	bridge.Emit(models.StatusChange{
		Previous: models.DeviceStatus{Serial: "PPA1", Gate: models.GateClosed},
		Current:  models.DeviceStatus{Serial: "PPA1", Gate: models.GateOpen, Source: models.SourcePush},
	})

	require.NoError(t, <-done)
	require.Len(t, got, 2)
	assert.Equal(t, "closed", got[0].Current.Gate)
	assert.Equal(t, "open", got[1].Current.Gate)
}
