package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/charmbracelet/log"
)

// ErrDispatcherStopped is returned for work submitted after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// SignalEmitter delivers the Desktop Notifications signals.
type SignalEmitter interface {
	EmitActionInvoked(id uint32, actionKey string) error
	EmitNotificationClosed(id uint32, reason notification.CloseReason) error
}

// NopEmitter discards signals. It is used when the daemon runs without a bus.
type NopEmitter struct{}

func (NopEmitter) EmitActionInvoked(uint32, string) error { return nil }

func (NopEmitter) EmitNotificationClosed(uint32, notification.CloseReason) error { return nil }

// DefaultDispatchQueue bounds jobs waiting for the worker.
const DefaultDispatchQueue = 64

type jobKind int

const (
	jobInvoke jobKind = iota
	jobDismiss
)

type dispatchJob struct {
	kind   jobKind
	id     uint32
	key    string
	result chan error
}

type pendingSignal struct {
	invoked bool
	id      uint32
	key     string
	reason  notification.CloseReason
}

// Dispatcher executes user-initiated mutations (action invocation, dismiss)
// on its own worker goroutine. Signals go to a second goroutine through an
// unbounded FIFO, so neither the requester nor later jobs wait for a slow
// bus peer, and per-id signal order is the order of the mutations.
type Dispatcher struct {
	store   *notification.Store
	emitter SignalEmitter
	logger  *log.Logger

	jobs chan dispatchJob

	sigMu    sync.Mutex
	sigQueue []pendingSignal
	sigReady chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	emitDone  chan struct{}
}

// NewDispatcher creates a dispatcher. Call Start before Dispatch.
func NewDispatcher(store *notification.Store, emitter SignalEmitter, queueSize int, logger *log.Logger) *Dispatcher {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	if logger == nil {
		logger = log.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultDispatchQueue
	}
	return &Dispatcher{
		store:    store,
		emitter:  emitter,
		logger:   logger.WithPrefix("dispatch"),
		jobs:     make(chan dispatchJob, queueSize),
		sigReady: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		emitDone: make(chan struct{}),
	}
}

// SetEmitter swaps the signal sink. It must be called before Start.
func (d *Dispatcher) SetEmitter(e SignalEmitter) {
	if e == nil {
		e = NopEmitter{}
	}
	d.emitter = e
}

// Start runs the worker until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.started.Store(true)
		go d.loop(ctx)
		go d.emitLoop(ctx)
	})
}

// Stop stops the worker, flushes queued signals and waits for both
// goroutines to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	if d.started.Load() {
		<-d.doneCh
		<-d.emitDone
	}
}

// Dispatch invokes action key on notification id. A nil error means the
// action was accepted and the notification closed; notification.ErrNotFound
// and notification.ErrUnknownAction report rejected requests.
func (d *Dispatcher) Dispatch(ctx context.Context, id uint32, key string) error {
	return d.submit(ctx, dispatchJob{kind: jobInvoke, id: id, key: key})
}

// Dismiss closes notification id as dismissed by the user.
func (d *Dispatcher) Dismiss(ctx context.Context, id uint32) error {
	return d.submit(ctx, dispatchJob{kind: jobDismiss, id: id})
}

func (d *Dispatcher) submit(ctx context.Context, job dispatchJob) error {
	job.result = make(chan error, 1)

	select {
	case d.jobs <- job:
	case <-d.stopCh:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.result:
		return err
	case <-d.stopCh:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case job := <-d.jobs:
			d.run(job)
		}
	}
}

func (d *Dispatcher) run(job dispatchJob) {
	switch job.kind {
	case jobInvoke:
		d.invoke(job)
	case jobDismiss:
		d.dismiss(job)
	default:
		job.result <- fmt.Errorf("unknown job kind %d", job.kind)
	}
}

func (d *Dispatcher) invoke(job dispatchJob) {
	if _, err := d.store.Activate(job.id, job.key); err != nil {
		d.logger.Debug("action rejected", "id", job.id, "action", job.key, "error", err)
		job.result <- err
		return
	}

	// The requester has its answer; signal delivery happens after.
	job.result <- nil
	d.enqueue(
		pendingSignal{invoked: true, id: job.id, key: job.key},
		pendingSignal{id: job.id, reason: notification.ReasonClosed},
	)
	d.logger.Info("action invoked", "id", job.id, "action", job.key)
}

func (d *Dispatcher) dismiss(job dispatchJob) {
	if !d.store.Close(job.id, notification.ReasonDismissed) {
		job.result <- notification.ErrNotFound
		return
	}
	job.result <- nil
	d.enqueue(pendingSignal{id: job.id, reason: notification.ReasonDismissed})
}

func (d *Dispatcher) enqueue(sigs ...pendingSignal) {
	d.sigMu.Lock()
	d.sigQueue = append(d.sigQueue, sigs...)
	d.sigMu.Unlock()
	select {
	case d.sigReady <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) emitLoop(ctx context.Context) {
	defer close(d.emitDone)
	for {
		select {
		case <-d.sigReady:
			d.flushSignals()
		case <-d.stopCh:
			d.flushSignals()
			return
		case <-ctx.Done():
			d.flushSignals()
			return
		}
	}
}

func (d *Dispatcher) flushSignals() {
	for {
		d.sigMu.Lock()
		batch := d.sigQueue
		d.sigQueue = nil
		d.sigMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, sig := range batch {
			d.emit(sig)
		}
	}
}

func (d *Dispatcher) emit(sig pendingSignal) {
	if sig.invoked {
		if err := d.emitter.EmitActionInvoked(sig.id, sig.key); err != nil {
			d.logger.Warn("emit ActionInvoked failed", "id", sig.id, "error", err)
		}
		return
	}
	if err := d.emitter.EmitNotificationClosed(sig.id, sig.reason); err != nil {
		d.logger.Warn("emit NotificationClosed failed", "id", sig.id, "reason", sig.reason, "error", err)
	}
}
