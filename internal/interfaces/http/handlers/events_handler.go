package handlers

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/turtacn/contatto/internal/application/service"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/pkg/logger"
)

const (
	defaultClientBuffer = 32
	defaultHeartbeat    = 15 * time.Second
)

// SSEMetrics tracks connected stream clients.
type SSEMetrics interface {
	SSESubscriberDelta(delta int)
}

type sseClient struct {
	id     string
	serial string
	ch     chan models.StatusChange
}

// EventBroker fans accepted status changes out to Server-Sent Events
// clients. The reconciler calls publish under its device lock, so a client
// whose buffer is full misses the change instead of blocking.
type EventBroker struct {
	bridge    service.BridgeAppService
	metrics   SSEMetrics
	logger    logger.Logger
	heartbeat time.Duration
	buffer    int

	mu      sync.Mutex
	clients map[string]*sseClient
	unsub   func()
	closed  bool
}

// NewEventBroker creates a broker and subscribes it to the bridge.
func NewEventBroker(bridge service.BridgeAppService, metrics SSEMetrics, log logger.Logger) *EventBroker {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	b := &EventBroker{
		bridge:    bridge,
		metrics:   metrics,
		logger:    log.WithComponent("sse"),
		heartbeat: defaultHeartbeat,
		buffer:    defaultClientBuffer,
		clients:   make(map[string]*sseClient),
	}
	b.unsub = bridge.Subscribe(b.publish)
	return b
}

// SetHeartbeat changes the keep-alive interval of new streams.
func (b *EventBroker) SetHeartbeat(d time.Duration) {
	if d > 0 {
		b.heartbeat = d
	}
}

// Clients returns the number of connected clients.
func (b *EventBroker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close unsubscribes from the bridge and ends every stream.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.unsub != nil {
		b.unsub()
	}
	for id, cl := range b.clients {
		close(cl.ch)
		delete(b.clients, id)
		b.delta(-1)
	}
}

func (b *EventBroker) publish(change models.StatusChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cl := range b.clients {
		if cl.serial != "" && cl.serial != change.Current.Serial {
			continue
		}
		select {
		case cl.ch <- change:
		default:
			b.logger.Warn(context.Background(), "SSE client too slow, dropping status",
				logger.String("client_id", cl.id),
				logger.Serial(change.Current.Serial))
		}
	}
}

func (b *EventBroker) register(serial string) (*sseClient, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	cl := &sseClient{
		id:     uuid.NewString(),
		serial: serial,
		ch:     make(chan models.StatusChange, b.buffer),
	}
	b.clients[cl.id] = cl
	b.delta(1)
	return cl, true
}

func (b *EventBroker) unregister(cl *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[cl.id]; !ok {
		return
	}
	delete(b.clients, cl.id)
	close(cl.ch)
	b.delta(-1)
}

func (b *EventBroker) delta(d int) {
	if b.metrics != nil {
		b.metrics.SSESubscriberDelta(d)
	}
}

// Stream sends the current status of every device, then each accepted
// change as a "status" event. "?serial=" narrows the stream to one device.
// GET /api/v1/events
func (b *EventBroker) Stream(c *gin.Context) {
	serial := c.Query("serial")
	cl, ok := b.register(serial)
	if !ok {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer b.unregister(cl)

	ctx := c.Request.Context()
	b.logger.Info(ctx, "SSE client connected", logger.String("client_id", cl.id), logger.Serial(serial))

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")

	c.SSEvent("hello", gin.H{"client_id": cl.id})
	for _, d := range b.bridge.Devices() {
		if !d.Visible || (serial != "" && d.Serial != serial) {
			continue
		}
		status := b.bridge.CurrentStatus(d.Serial)
		c.SSEvent("status", models.StatusChange{Previous: status, Current: status})
	}
	c.Writer.Flush()

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case change, open := <-cl.ch:
			if !open {
				return false
			}
			c.SSEvent("status", change)
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", t.Unix())
			return true
		}
	})
	b.logger.Info(ctx, "SSE client disconnected", logger.String("client_id", cl.id))
}
