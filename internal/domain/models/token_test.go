package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/contatto/internal/domain/models"
)

func TestToken_Valid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		token *models.Token
		want  bool
	}{
		{"nil token", nil, false},
		{"empty access token", &models.Token{ExpiresAt: now.Add(time.Hour)}, false},
		{"not expired", &models.Token{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", &models.Token{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)}, false},
		{"within skew", &models.Token{AccessToken: "a", ExpiresAt: now.Add(10 * time.Second)}, false},
		{"no expiry", &models.Token{AccessToken: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.Valid(now, 30*time.Second))
		})
	}
}

func TestToken_RemainingLifetime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := &models.Token{AccessToken: "a", ExpiresAt: now.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, tok.RemainingLifetime(now))
	assert.Equal(t, time.Duration(0), tok.RemainingLifetime(now.Add(time.Hour)))
	assert.False(t, (&models.Token{AccessToken: "a"}).HasRefresh())
}

func TestDevice_DisplayName(t *testing.T) {
	tests := []struct {
		name   string
		device models.Device
		want   string
	}{
		{
			name: "both outputs named",
			device: models.Device{Serial: "PO21CE63", Names: models.DeviceNames{
				Gate:  &models.OutputName{Name: "Portão"},
				Relay: &models.OutputName{Name: "Porta"},
			}},
			want: "Portão / Porta",
		},
		{
			name: "gate only",
			device: models.Device{Serial: "PO21CE63", Names: models.DeviceNames{
				Gate: &models.OutputName{Name: "Garage"},
			}},
			want: "Garage",
		},
		{
			name: "relay only with blank gate",
			device: models.Device{Serial: "PO21CE63", Names: models.DeviceNames{
				Gate:  &models.OutputName{Name: "  "},
				Relay: &models.OutputName{Name: "Door"},
			}},
			want: "Door",
		},
		{
			name:   "no names",
			device: models.Device{Serial: "PO21CE63"},
			want:   "PPA Contatto PO21CE63",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.device.DisplayName())
		})
	}
}

func TestDevice_SettingsPreservesCurrentValues(t *testing.T) {
	d := models.Device{
		Serial: "PO21CE63",
		Names: models.DeviceNames{
			Gate:  &models.OutputName{Name: "Gate", Show: true},
			Relay: &models.OutputName{Name: "Door", Show: false},
		},
		Favorite:     true,
		Notification: false,
	}
	name := "Front gate"
	notify := true

	s := d.Settings(models.SettingsUpdate{GateName: &name, Notification: &notify})

	assert.Equal(t, "Front gate", s.Name.Gate.Name)
	assert.True(t, s.Name.Gate.Show)
	assert.Equal(t, "Door", s.Name.Relay.Name)
	assert.False(t, s.Name.Relay.Show)
	assert.True(t, s.Favorite)
	assert.True(t, s.Notification)
}

func TestDeviceConfiguration_RelayDuration(t *testing.T) {
	assert.Equal(t, 1000, models.DeviceConfiguration{}.RelayDuration())
	assert.Equal(t, -1, models.DeviceConfiguration{"relayDuration": float64(-1)}.RelayDuration())

	orig := models.DeviceConfiguration{"relayDuration": float64(500), "beep": true}
	updated := orig.WithRelayDuration(2000)
	assert.Equal(t, 2000, updated.RelayDuration())
	assert.Equal(t, true, updated["beep"])
	assert.Equal(t, 500, orig.RelayDuration())
}

func TestDeviceStatus_FillUnknown(t *testing.T) {
	now := time.Now()
	prev := models.NewDeviceStatus("S1", "open", "off", models.SourcePush, now)
	next := models.NewDeviceStatus("S1", "", "on", models.SourcePoll, now.Add(time.Second))

	merged := next.FillUnknown(prev)
	assert.Equal(t, models.GateOpen, merged.Gate)
	assert.Equal(t, models.RelayOn, merged.Relay)
	assert.Equal(t, models.SourcePoll, merged.Source)

	assert.True(t, models.UnknownStatus("S2").IsEmpty())
	assert.False(t, models.UnknownStatus("S2").IsObserved())
}
