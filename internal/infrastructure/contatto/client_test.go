package contatto_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/service/mocks"
	"github.com/turtacn/contatto/internal/infrastructure/contatto"
	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

type ClientSuite struct {
	suite.Suite

	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
	server   *httptest.Server
	tokens   *mocks.MockTokenSource
	client   *contatto.Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.requests = nil
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		s.mu.Unlock()
		s.handler(w, r)
	}))
	s.tokens = new(mocks.MockTokenSource)
	s.tokens.On("CurrentToken", mock.Anything).Return(&models.Token{AccessToken: "tok-1"}, nil).Maybe()
	s.client = contatto.NewClient(s.server.URL+"/", "test-agent", s.tokens, s.server.Client(), nil, nil)
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func (s *ClientSuite) TestListDevices() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"serial":"PO21CE63","name":{"gate":{"name":"Front","show":true},"relay":{"name":"Door","show":false}},
			"favorite":true,"notification":false,"mac":"aa:bb","version":"2.1","role":"owner","status":{"gate":"closed","relay":"off"}}]`)
	}

	devices, err := s.client.ListDevices(context.Background())
	s.Require().NoError(err)
	s.Require().Len(devices, 1)

	d := devices[0]
	s.Equal("PO21CE63", d.Serial)
	s.True(d.HasGate())
	s.True(d.HasRelay())
	s.Equal("Front", d.Names.Gate.Name)
	s.False(d.Names.Relay.Show)
	s.True(d.Favorite)
	s.True(d.Visible)
	s.Require().NotNil(d.ReportedState)
	s.Equal("closed", d.ReportedState.Gate)

	req := s.recorded()[0]
	s.Equal(http.MethodGet, req.Method)
	s.Equal("/devices", req.Path)
	s.Equal("Bearer tok-1", req.Auth)
}

func (s *ClientSuite) TestControlDevice() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "OK")
	}

	s.Require().NoError(s.client.ControlDevice(context.Background(), "PO21CE63", constants.HardwareRelay))

	req := s.recorded()[0]
	s.Equal(http.MethodPost, req.Method)
	s.Equal("/device/hardware/PO21CE63", req.Path)
	s.JSONEq(`{"hardware":"relay"}`, req.Body)

	err := s.client.ControlDevice(context.Background(), "PO21CE63", "door")
	s.Equal(errors.CodeInvalidArgument, errors.CodeOf(err))
	s.Len(s.recorded(), 1, "invalid hardware never reaches the API")
}

func (s *ClientSuite) TestReportsAndConfiguration() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/device/S1/reports":
			_, _ = io.WriteString(w, `[{"target":"gate: open","createdAt":"2025-06-01T12:00:00.000Z","name":"Ana"}]`)
		case r.Method == http.MethodGet && r.URL.Path == "/device/configuration/S1":
			_, _ = io.WriteString(w, `{"config":{"relayDuration":2500,"buzzer":true}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/device/configuration/S1":
			_, _ = io.WriteString(w, `{}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
	ctx := context.Background()

	reports, err := s.client.Reports(ctx, "S1", 0, 5)
	s.Require().NoError(err)
	s.Require().Len(reports, 1)
	s.Equal("gate: open", reports[0].Target)
	s.Equal("page=0&total=5", s.recorded()[0].Query)

	cfg, err := s.client.DeviceConfiguration(ctx, "S1")
	s.Require().NoError(err)
	s.Equal(2500, cfg.RelayDuration())

	s.Require().NoError(s.client.UpdateConfiguration(ctx, "S1", cfg.WithRelayDuration(-1)))
	last := s.recorded()[2]
	s.JSONEq(`{"config":{"relayDuration":-1,"buzzer":true}}`, last.Body)
}

func (s *ClientSuite) TestUpdateSettingsSendsFullPayload() {
	s.handler = func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{}`) }

	device := models.Device{
		Serial:       "S1",
		Names:        models.DeviceNames{Gate: &models.OutputName{Name: "Front", Show: true}},
		Favorite:     true,
		Notification: true,
	}
	name := "Garage"
	settings := device.Settings(models.SettingsUpdate{GateName: &name})
	s.Require().NoError(s.client.UpdateSettings(context.Background(), "S1", settings))

	req := s.recorded()[0]
	s.Equal(http.MethodPatch, req.Method)
	s.Equal("/device/S1", req.Path)

	var sent map[string]interface{}
	s.Require().NoError(json.Unmarshal([]byte(req.Body), &sent))
	s.Equal(true, sent["favorite"])
	s.Equal(true, sent["notification"])
	names := sent["name"].(map[string]interface{})
	s.Equal("Garage", names["gate"].(map[string]interface{})["name"])
	s.Equal(true, names["gate"].(map[string]interface{})["show"])
	s.Contains(names, "relay")
}

func (s *ClientSuite) TestTokenExpiredRetriesOnce() {
	calls := 0
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"name":"TokenExpiredError","message":"jwt expired"}`)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}
	s.tokens.On("OnAuthRejected", mock.Anything).Return(&models.Token{AccessToken: "tok-2"}, nil).Once()

	devices, err := s.client.ListDevices(context.Background())
	s.Require().NoError(err)
	s.Empty(devices)
	s.Equal(2, calls)
	s.tokens.AssertExpectations(s.T())
}

func (s *ClientSuite) TestRetryFailureIsAPIError() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `unauthorized`)
	}
	s.tokens.On("OnAuthRejected", mock.Anything).Return(&models.Token{AccessToken: "tok-2"}, nil).Once()

	_, err := s.client.ListDevices(context.Background())
	s.Require().Error(err)
	s.Equal(errors.CodeAPI, errors.CodeOf(err))
	s.Len(s.recorded(), 2, "only one retry")
}

func (s *ClientSuite) TestRenewalFailureSurfaces() {
	s.handler = func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }
	s.tokens.On("OnAuthRejected", mock.Anything).Return(nil, errors.ErrReauthRequired("credentials rejected")).Once()

	_, err := s.client.ListDevices(context.Background())
	s.True(errors.IsReauthRequired(err))
	s.Len(s.recorded(), 1)
}

func (s *ClientSuite) TestOtherErrorsAreNotRetried() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `maintenance`)
	}

	_, err := s.client.ListDevices(context.Background())
	ce, ok := errors.As(err)
	s.Require().True(ok)
	s.Equal(errors.CodeAPI, ce.Code())
	s.Equal(http.StatusServiceUnavailable, ce.Metadata()["status"])
	s.Len(s.recorded(), 1)
}

func TestIsTokenExpired(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"401", http.StatusUnauthorized, "", true},
		{"400", http.StatusBadRequest, "bad request", true},
		{"500 token expired error", 500, `{"name":"TokenExpiredError","message":"x"}`, true},
		{"500 jwt expired message", 500, `{"name":"Error","message":"JWT Expired"}`, true},
		{"500 plain text", 500, `upstream says token expired`, true},
		{"500 unrelated json", 500, `{"name":"Error","message":"db down"}`, false},
		{"500 unrelated text", 500, `db down`, false},
		{"403", http.StatusForbidden, "", false},
		{"200", http.StatusOK, "jwt expired", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contatto.IsTokenExpired(tt.status, []byte(tt.body)))
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tokens := new(mocks.MockTokenSource)
	tokens.On("CurrentToken", mock.Anything).Return(&models.Token{AccessToken: "t"}, nil)
	client := contatto.NewClient(url, "", tokens, nil, nil, nil)

	_, err := client.ListDevices(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
}
