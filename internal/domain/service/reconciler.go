package service

import (
	"sort"
	"sync"

	"github.com/turtacn/contatto/internal/domain/models"
)

var _ StatusSink = (*StateReconciler)(nil)

// StatusListener receives accepted status changes. It runs while the device's
// lock is held and must not submit statuses for the same device.
type StatusListener func(change models.StatusChange)

type deviceEntry struct {
	mu        sync.Mutex
	status    models.DeviceStatus
	observed  bool
	forceNext bool
	activity  *models.ActivityRecord
}

// StateReconciler merges pushed and polled observations into one status per
// device. A status replaces the held one when it is newer; on equal timestamps
// push wins over poll and anything else is a duplicate. Unknown outputs of an
// accepted status keep their previously known value.
type StateReconciler struct {
	devicesMu sync.Mutex
	devices   map[string]*deviceEntry

	subsMu    sync.RWMutex
	listeners map[uint64]StatusListener
	nextSubID uint64

	metrics Metrics
}

// NewStateReconciler creates an empty reconciler.
func NewStateReconciler(metrics Metrics) *StateReconciler {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &StateReconciler{
		devices:   make(map[string]*deviceEntry),
		listeners: make(map[uint64]StatusListener),
		metrics:   metrics,
	}
}

func (r *StateReconciler) entry(serial string) *deviceEntry {
	r.devicesMu.Lock()
	defer r.devicesMu.Unlock()

	e, ok := r.devices[serial]
	if !ok {
		e = &deviceEntry{status: models.UnknownStatus(serial)}
		r.devices[serial] = e
	}
	return e
}

func (r *StateReconciler) lookup(serial string) (*deviceEntry, bool) {
	r.devicesMu.Lock()
	defer r.devicesMu.Unlock()
	e, ok := r.devices[serial]
	return e, ok
}

// Submit offers a status. It reports whether the status was accepted; every
// accepted status produces exactly one notification.
func (r *StateReconciler) Submit(next models.DeviceStatus) bool {
	if next.Serial == "" {
		return false
	}
	e := r.entry(next.Serial)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !supersedes(e.status, next, e.observed, e.forceNext) {
		r.metrics.RecordStatus(next.Source, false)
		return false
	}

	prev := e.status
	merged := next.FillUnknown(prev)
	e.status = merged
	e.observed = true
	e.forceNext = false
	r.metrics.RecordStatus(next.Source, true)

	r.emit(models.StatusChange{Previous: prev, Current: merged})
	return true
}

// supersedes decides whether next replaces cur.
func supersedes(cur, next models.DeviceStatus, observed, force bool) bool {
	if !observed || force {
		return true
	}
	if next.ObservedAt.After(cur.ObservedAt) {
		return true
	}
	if !next.ObservedAt.Equal(cur.ObservedAt) {
		return false
	}
	if next.Source != cur.Source {
		return next.Source == models.SourcePush
	}
	// same source and instant: only a repeat of the held state is dropped
	return !next.FillUnknown(cur).SameState(cur)
}

// Current returns the held status, or an unknown status for a device never observed.
func (r *StateReconciler) Current(serial string) models.DeviceStatus {
	e, ok := r.lookup(serial)
	if !ok {
		return models.UnknownStatus(serial)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Snapshot returns the held status of every known device ordered by serial.
func (r *StateReconciler) Snapshot() []models.DeviceStatus {
	r.devicesMu.Lock()
	entries := make([]*deviceEntry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}
	r.devicesMu.Unlock()

	out := make([]models.DeviceStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.status)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// ForceResync lets the next status for serial through regardless of recency.
// An empty serial applies to every known device.
func (r *StateReconciler) ForceResync(serial string) {
	if serial != "" {
		e := r.entry(serial)
		e.mu.Lock()
		e.forceNext = true
		e.mu.Unlock()
		return
	}

	r.devicesMu.Lock()
	entries := make([]*deviceEntry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}
	r.devicesMu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.forceNext = true
		e.mu.Unlock()
	}
}

// RecordActivity stores the latest activity of a device. Records older than the
// held one are ignored. It reports whether the record was stored.
func (r *StateReconciler) RecordActivity(rec models.ActivityRecord) bool {
	if rec.Serial == "" || rec.LastAction.IsZero() {
		return false
	}
	e := r.entry(rec.Serial)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activity != nil && rec.LastAction.Before(e.activity.LastAction) {
		return false
	}
	a := rec
	e.activity = &a
	return true
}

// Activity returns the latest activity of a device.
func (r *StateReconciler) Activity(serial string) (models.ActivityRecord, bool) {
	e, ok := r.lookup(serial)
	if !ok {
		return models.ActivityRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activity == nil {
		return models.ActivityRecord{}, false
	}
	return *e.activity, true
}

// Subscribe registers fn for accepted changes and returns a function that removes it.
func (r *StateReconciler) Subscribe(fn StatusListener) func() {
	r.subsMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.listeners[id] = fn
	r.subsMu.Unlock()

	return func() {
		r.subsMu.Lock()
		delete(r.listeners, id)
		r.subsMu.Unlock()
	}
}

func (r *StateReconciler) emit(change models.StatusChange) {
	r.subsMu.RLock()
	listeners := make([]StatusListener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.subsMu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}
