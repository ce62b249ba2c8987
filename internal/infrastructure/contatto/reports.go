package contatto

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/pkg/utils"
)

// ReportSource fetches report pages.
type ReportSource interface {
	Reports(ctx context.Context, serial string, page, total int) ([]models.Report, error)
}

// LatestStatus fetches the first report page of a device and derives its
// status and activity. The status is stamped with the time the request
// started, not when it finished.
func LatestStatus(ctx context.Context, src ReportSource, serial string, pageSize int, now func() time.Time) (models.DeviceStatus, *models.ActivityRecord, error) {
	started := now()
	reports, err := src.Reports(ctx, serial, 0, pageSize)
	if err != nil {
		return models.UnknownStatus(serial), nil, err
	}
	status, activity := ParseReports(serial, reports, started)
	return status, activity, nil
}

// ParseReports walks reports newest first. The first "gate: X" row gives the
// gate state, the first "relay: X" row the relay state, and the first of
// either gives the activity record. Outputs without a row stay unknown.
func ParseReports(serial string, reports []models.Report, observedAt time.Time) (models.DeviceStatus, *models.ActivityRecord) {
	var gate, relay string
	var activity *models.ActivityRecord

	for _, r := range reports {
		matched := false
		if v, ok := targetValue(r.Target, "gate:"); ok {
			if gate == "" {
				gate = v
				matched = true
			}
		} else if v, ok := targetValue(r.Target, "relay:"); ok {
			if relay == "" {
				relay = v
				matched = true
			}
		}

		if matched && activity == nil {
			if at, err := utils.ParseVendorTime(r.CreatedAt); err == nil {
				activity = &models.ActivityRecord{
					Serial:     serial,
					LastAction: at,
					LastUser:   r.Name,
					FetchedAt:  observedAt,
				}
			}
		}
		if gate != "" && relay != "" {
			break
		}
	}

	return models.NewDeviceStatus(serial, gate, relay, models.SourcePoll, observedAt), activity
}

func targetValue(target, prefix string) (string, bool) {
	_, after, found := strings.Cut(target, prefix)
	if !found {
		return "", false
	}
	return strings.TrimSpace(after), true
}
