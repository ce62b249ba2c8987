package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/contatto/internal/domain/models"
	domainservice "github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/internal/infrastructure/contatto"
	"github.com/turtacn/contatto/pkg/constants"
	"github.com/turtacn/contatto/pkg/logger"
)

// PollSource is the part of the vendor client the poller needs.
type PollSource interface {
	RefreshDevices(ctx context.Context) ([]models.Device, error)
	Reports(ctx context.Context, serial string, page, total int) ([]models.Report, error)
}

// PollSink receives poll results.
type PollSink interface {
	Submit(status models.DeviceStatus) bool
	RecordActivity(rec models.ActivityRecord) bool
}

// PollerConfig tunes the polling cadence.
type PollerConfig struct {
	// Interval applies while the real-time channel is down.
	Interval time.Duration
	// ConnectedInterval applies while push events are flowing.
	ConnectedInterval time.Duration
	ReportPageSize    int
	Concurrency       int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = constants.DefaultPollInterval
	}
	if c.ConnectedInterval <= 0 {
		c.ConnectedInterval = constants.DefaultConnectedPollInterval
	}
	if c.ReportPageSize <= 0 {
		c.ReportPageSize = constants.DefaultReportPageSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = constants.DefaultPollConcurrency
	}
	return c
}

// Poller lists the account's devices and reads each one's latest reports.
// Results are tagged poll and stamped with the time their request started.
type Poller struct {
	source    PollSource
	sink      PollSink
	connected func() bool
	cfg       PollerConfig
	clock     clockwork.Clock
	log       logger.Logger
	metrics   domainservice.Metrics
	tracer    trace.Tracer
	trigger   chan struct{}

	mu      sync.RWMutex
	devices map[string]models.Device
	lastRun time.Time
	lastErr error
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithPollerClock replaces the wall clock.
func WithPollerClock(c clockwork.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithConnectedFunc tells the poller whether push events are flowing.
func WithConnectedFunc(fn func() bool) PollerOption {
	return func(p *Poller) { p.connected = fn }
}

// NewPoller creates a poller.
func NewPoller(source PollSource, sink PollSink, cfg PollerConfig, log logger.Logger, metrics domainservice.Metrics, opts ...PollerOption) *Poller {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if metrics == nil {
		metrics = domainservice.NoopMetrics{}
	}
	p := &Poller{
		source:    source,
		sink:      sink,
		connected: func() bool { return false },
		cfg:       cfg.withDefaults(),
		clock:     clockwork.NewRealClock(),
		log:       log.WithComponent("poller"),
		metrics:   metrics,
		tracer:    otel.Tracer("contatto/poller"),
		trigger:   make(chan struct{}, 1),
		devices:   make(map[string]models.Device),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NextInterval returns the wait before the next pass.
func (p *Poller) NextInterval() time.Duration {
	if p.connected() {
		return p.cfg.ConnectedInterval
	}
	return p.cfg.Interval
}

// Trigger requests a pass as soon as possible. It never blocks.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls immediately and then on the adaptive interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	for {
		_ = p.PollOnce(ctx)

		interval := p.NextInterval()
		timer := p.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-p.trigger:
			timer.Stop()
		case <-timer.Chan():
		}
	}
}

// PollOnce runs one pass. A failed device listing fails the pass; a failed
// report read only skips that device, falling back to the listing's status.
func (p *Poller) PollOnce(ctx context.Context) error {
	start := p.clock.Now()
	ctx, span := p.tracer.Start(ctx, "poller.PollOnce")
	defer span.End()

	devices, err := p.source.RefreshDevices(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.finish(start, 0, err)
		p.log.Warn(ctx, "Device listing failed", logger.Err(err))
		return err
	}
	visible := p.mergeDevices(devices)
	span.SetAttributes(attribute.Int("devices", len(visible)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, d := range visible {
		d := d
		g.Go(func() error {
			p.pollDevice(gctx, d, start)
			return nil
		})
	}
	_ = g.Wait()

	p.finish(start, len(visible), nil)
	return nil
}

func (p *Poller) pollDevice(ctx context.Context, d models.Device, listedAt time.Time) {
	status, activity, err := contatto.LatestStatus(ctx, p.source, d.Serial, p.cfg.ReportPageSize, p.clock.Now)
	if err != nil {
		p.log.Warn(ctx, "Report read failed", logger.Serial(d.Serial), logger.Err(err))
	}
	if err != nil || status.IsEmpty() {
		if d.ReportedState == nil {
			return
		}
		status = models.NewDeviceStatus(d.Serial, d.ReportedState.Gate, d.ReportedState.Relay, models.SourcePoll, listedAt)
		if status.IsEmpty() {
			return
		}
	}

	p.sink.Submit(status)
	if activity != nil {
		p.sink.RecordActivity(*activity)
	}
}

// mergeDevices records a listing. Devices missing from it are kept but
// marked invisible. It returns the visible devices.
func (p *Poller) mergeDevices(listed []models.Device) []models.Device {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]struct{}, len(listed))
	visible := make([]models.Device, 0, len(listed))
	for _, d := range listed {
		d.Visible = true
		p.devices[d.Serial] = d
		seen[d.Serial] = struct{}{}
		visible = append(visible, d)
	}
	for serial, d := range p.devices {
		if _, ok := seen[serial]; !ok && d.Visible {
			d.Visible = false
			p.devices[serial] = d
			p.log.Info(context.Background(), "Device no longer listed", logger.Serial(serial))
		}
	}
	return visible
}

func (p *Poller) finish(start time.Time, devices int, err error) {
	p.metrics.RecordPollCycle(err == nil, devices, p.clock.Since(start))
	p.mu.Lock()
	p.lastRun = start
	p.lastErr = err
	p.mu.Unlock()
}

// Devices returns every device seen this session, sorted by serial.
func (p *Poller) Devices() []models.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Device, 0, len(p.devices))
	for _, d := range p.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// Device returns one device seen this session.
func (p *Poller) Device(serial string) (models.Device, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.devices[serial]
	return d, ok
}

// LastRun returns when the last pass started and how it ended.
func (p *Poller) LastRun() (time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRun, p.lastErr
}
