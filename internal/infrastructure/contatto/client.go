package contatto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

// API is the device API used by the poller and the bridge service.
type API interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	ControlDevice(ctx context.Context, serial string, hw constants.HardwareType) error
	Reports(ctx context.Context, serial string, page, total int) ([]models.Report, error)
	DeviceConfiguration(ctx context.Context, serial string) (models.DeviceConfiguration, error)
	UpdateConfiguration(ctx context.Context, serial string, cfg models.DeviceConfiguration) error
	UpdateSettings(ctx context.Context, serial string, settings models.DeviceSettings) error
}

// Client calls the device API with the token held by a TokenSource. A
// token-expired answer triggers one renewal and one retry.
type Client struct {
	baseURL   string
	userAgent string
	tokens    service.TokenSource
	http      *http.Client
	log       logger.Logger
	metrics   service.Metrics
	tracer    trace.Tracer
}

// NewClient creates a device API client.
func NewClient(baseURL, userAgent string, tokens service.TokenSource, httpClient *http.Client, log logger.Logger, metrics service.Metrics) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0, 0)
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		tokens:    tokens,
		http:      httpClient,
		log:       log.WithComponent("contatto-api"),
		metrics:   metrics,
		tracer:    otel.Tracer("contatto/api"),
	}
}

// ListDevices returns every device registered to the account.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.doJSON(ctx, "list_devices", http.MethodGet, "/devices", nil, nil, &devices); err != nil {
		return nil, err
	}
	for i := range devices {
		devices[i].Visible = true
	}
	return devices, nil
}

// ControlDevice triggers the gate or relay output of a device. The vendor
// answers with plain text, which is discarded.
func (c *Client) ControlDevice(ctx context.Context, serial string, hw constants.HardwareType) error {
	if !hw.Valid() {
		return errors.ErrInvalidArgument(fmt.Sprintf("unknown hardware %q", hw))
	}
	body := map[string]string{"hardware": string(hw)}
	return c.doJSON(ctx, "control", http.MethodPost, "/device/hardware/"+url.PathEscape(serial), nil, body, nil)
}

// Reports returns a page of a device's activity, newest first.
func (c *Client) Reports(ctx context.Context, serial string, page, total int) ([]models.Report, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("total", strconv.Itoa(total))
	var reports []models.Report
	if err := c.doJSON(ctx, "reports", http.MethodGet, "/device/"+url.PathEscape(serial)+"/reports", q, nil, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

type configurationEnvelope struct {
	Config models.DeviceConfiguration `json:"config"`
}

// DeviceConfiguration returns the configuration document of a device.
func (c *Client) DeviceConfiguration(ctx context.Context, serial string) (models.DeviceConfiguration, error) {
	var env configurationEnvelope
	if err := c.doJSON(ctx, "get_configuration", http.MethodGet, "/device/configuration/"+url.PathEscape(serial), nil, nil, &env); err != nil {
		return nil, err
	}
	if env.Config == nil {
		env.Config = models.DeviceConfiguration{}
	}
	return env.Config, nil
}

// UpdateConfiguration replaces the configuration document of a device.
func (c *Client) UpdateConfiguration(ctx context.Context, serial string, cfg models.DeviceConfiguration) error {
	return c.doJSON(ctx, "update_configuration", http.MethodPost, "/device/configuration/"+url.PathEscape(serial), nil,
		configurationEnvelope{Config: cfg}, nil)
}

// UpdateSettings sends the complete settings payload of a device.
func (c *Client) UpdateSettings(ctx context.Context, serial string, settings models.DeviceSettings) error {
	return c.doJSON(ctx, "update_settings", http.MethodPatch, "/device/"+url.PathEscape(serial), nil, settings, nil)
}

// LatestStatus derives the newest status and activity of a device from its
// first report page. ObservedAt is the time the request started.
func (c *Client) LatestStatus(ctx context.Context, serial string, pageSize int) (models.DeviceStatus, *models.ActivityRecord, error) {
	return LatestStatus(ctx, c, serial, pageSize, time.Now)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "contatto."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	))
	defer span.End()

	err := c.doWithRetry(ctx, op, method, path, query, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) doWithRetry(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	tok, err := c.tokens.CurrentToken(ctx)
	if err != nil {
		return err
	}

	status, data, err := c.do(ctx, op, method, path, query, body, tok.AccessToken)
	if err != nil {
		return err
	}
	if IsTokenExpired(status, data) {
		c.log.Warn(ctx, "Vendor reported an expired token, renewing",
			logger.String("operation", op),
			logger.Int("status", status))
		tok, err = c.tokens.OnAuthRejected(ctx)
		if err != nil {
			return err
		}
		status, data, err = c.do(ctx, op, method, path, query, body, tok.AccessToken)
		if err != nil {
			return err
		}
	}

	if status < 200 || status >= 300 {
		c.log.Error(ctx, "Vendor API call failed", nil,
			logger.String("operation", op),
			logger.Int("status", status))
		return errors.ErrAPI(status, string(data))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.ErrAPI(status, string(data)).WithCause(err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body interface{}, token string) (int, []byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errors.ErrInternal("encode request body").WithCause(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, errors.ErrInternal("build request").WithCause(err)
	}
	setDefaultHeaders(req, c.userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordAPICall(op, 0, time.Since(start))
		return 0, nil, errors.ErrTransport(op + " request failed").WithCause(err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPICall(op, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, errors.ErrTransport("read " + op + " response").WithCause(err)
	}
	if resp.StatusCode >= 300 && len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}
	return resp.StatusCode, data, nil
}

type errorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// IsTokenExpired reports whether a response means the bearer token is no
// longer accepted: any 401 or 400, or a 500 naming an expired JWT.
func IsTokenExpired(status int, body []byte) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusBadRequest:
		return true
	case http.StatusInternalServerError:
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err == nil {
			return eb.Name == "TokenExpiredError" || strings.Contains(strings.ToLower(eb.Message), "jwt expired")
		}
		text := strings.ToLower(string(body))
		return strings.Contains(text, "jwt expired") || strings.Contains(text, "token expired")
	default:
		return false
	}
}

var _ API = (*Client)(nil)
