// Package dispatch owns the outbound poll-and-send loop: it drains pending
// rows from the message store, pushes them through the WhatsApp gateway and
// records each row's terminal status.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/orionwa/dispatch/internal/model"
	"github.com/orionwa/dispatch/internal/normalize"
	"github.com/orionwa/dispatch/internal/repo"
)

// ErrSendTimeout reports a gateway call that did not finish inside the
// bounded-time envelope. It is distinct from an error the gateway returned.
var ErrSendTimeout = errors.New("send timed out")

// Gateway is the transport contract the dispatcher consumes. The session
// behind it (pairing, reconnects) is somebody else's problem; the dispatcher
// only checks readiness and sends.
type Gateway interface {
	IsReady() bool
	SendText(ctx context.Context, address, text string) error
	SendMedia(ctx context.Context, address string, media model.Media) error
}

// SentCache receives a record of every successful delivery. Optional.
type SentCache interface {
	StoreSent(ctx context.Context, id int64, sentAt time.Time) error
}

// Config carries the dispatcher's timing and batching knobs. Zero values are
// filled in by New with the production defaults. A negative MessageDelay
// disables the inter-message spacing entirely.
type Config struct {
	BatchSize     int
	BaseInterval  time.Duration
	SlowInterval  time.Duration
	HighWater     time.Duration
	SendTimeout   time.Duration
	MessageDelay  time.Duration
	CountryPrefix string
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = 10 * time.Second
	}
	if c.SlowInterval <= 0 {
		c.SlowInterval = 2 * time.Minute
	}
	if c.HighWater <= 0 {
		c.HighWater = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.MessageDelay < 0 {
		c.MessageDelay = 0
	} else if c.MessageDelay == 0 {
		c.MessageDelay = 1500 * time.Millisecond
	}
	if c.CountryPrefix == "" {
		c.CountryPrefix = normalize.DefaultCountryPrefix
	}
}

// Snapshot is the read-only session view exposed to the control surface.
type Snapshot struct {
	Running     bool
	Interval    time.Duration
	NextCheck   time.Duration
	SessionSent int64
	LastLog     string
}

// Dispatcher runs the poll cycles. One goroutine owns the loop; all session
// state has a single writer. Stop takes effect at a cycle boundary, only
// Shutdown interrupts in-flight sends.
type Dispatcher struct {
	cfg     Config
	store   repo.MessageRepository
	gateway Gateway
	log     *slog.Logger

	cache   SentCache
	lastLog func() string

	running atomic.Bool
	sent    atomic.Int64

	mu     sync.Mutex // guards lifecycle transitions
	cancel context.CancelFunc
	stopCh chan struct{}
	done   chan struct{}
	kick   chan struct{}

	stateMu  sync.Mutex // guards controller, nextFire, paused
	ivc      *intervalController
	nextFire time.Time
	paused   bool
}

func New(cfg Config, store repo.MessageRepository, gateway Gateway, log *slog.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if gateway == nil {
		return nil, errors.New("gateway must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.applyDefaults()

	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		log:     log,
		kick:    make(chan struct{}, 1),
		ivc:     newIntervalController(cfg.BaseInterval, cfg.SlowInterval, cfg.HighWater),
	}, nil
}

// WithSentCache records successful deliveries into c. Call before Start.
func (d *Dispatcher) WithSentCache(c SentCache) *Dispatcher {
	d.cache = c
	return d
}

// WithLastLog wires the status snapshot's last-log field. Call before Start.
func (d *Dispatcher) WithLastLog(fn func() string) *Dispatcher {
	d.lastLog = fn
	return d
}

// Start launches the loop goroutine. It reports false when already running.
// The first poll cycle runs immediately.
func (d *Dispatcher) Start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	d.running.Store(true)

	go d.run(ctx)
	return true
}

// Stop halts the loop at the next cycle boundary and waits for it. An
// in-flight cycle finishes its sends first. Reports false when not running.
func (d *Dispatcher) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return false
	}

	close(d.stopCh)
	<-d.done
	d.cancel()
	d.running.Store(false)
	return true
}

// Shutdown is Stop plus cancellation of any in-flight send or delay. Meant
// for process exit, where waiting out a 30s envelope is pointless.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return
	}
	d.cancel()
	close(d.stopCh)
	<-d.done
	d.running.Store(false)
	d.mu.Unlock()
}

func (d *Dispatcher) IsRunning() bool {
	return d.running.Load()
}

// SetInterval forces the polling cadence (clamped to 1s) and reschedules the
// next firing immediately. It returns the cadence actually applied.
func (d *Dispatcher) SetInterval(iv time.Duration) time.Duration {
	d.stateMu.Lock()
	applied := d.ivc.Force(iv)
	d.stateMu.Unlock()

	d.log.Info("interval updated", slog.Duration("interval", applied))

	// Non-blocking: a pending kick already covers us.
	select {
	case d.kick <- struct{}{}:
	default:
	}
	return applied
}

// Status returns a point-in-time session snapshot.
func (d *Dispatcher) Status() Snapshot {
	d.stateMu.Lock()
	interval := d.ivc.Current()
	nextFire := d.nextFire
	d.stateMu.Unlock()

	snap := Snapshot{
		Running:     d.running.Load(),
		Interval:    interval,
		SessionSent: d.sent.Load(),
	}
	if snap.Running && !nextFire.IsZero() {
		if until := time.Until(nextFire); until > 0 {
			snap.NextCheck = until
		}
	}
	if d.lastLog != nil {
		snap.LastLog = d.lastLog()
	}
	return snap
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	d.log.Info("dispatcher started", slog.Duration("interval", d.currentInterval()))

	d.safeCycle(ctx)

	timer := time.NewTimer(d.armNext())
	defer timer.Stop()

	for {
		select {
		case <-d.stopCh:
			d.log.Info("dispatcher stopped")
			return
		case <-d.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.armNext())
		case <-timer.C:
			d.safeCycle(ctx)
			timer.Reset(d.armNext())
		}
	}
}

// armNext records the next-fire timestamp and returns the wait duration.
func (d *Dispatcher) armNext() time.Duration {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	iv := d.ivc.Current()
	d.nextFire = time.Now().Add(iv)
	return iv
}

func (d *Dispatcher) currentInterval() time.Duration {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.ivc.Current()
}

func (d *Dispatcher) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("poll cycle panic recovered", slog.Any("panic", r))
		}
	}()
	d.cycle(ctx)
}

// cycle is one poll: readiness gate, bounded fetch, sequential send-and-mark.
// Every failure in here is handled locally; the loop never dies.
func (d *Dispatcher) cycle(ctx context.Context) {
	d.stateMu.Lock()
	d.nextFire = time.Now().Add(d.ivc.Current())
	d.stateMu.Unlock()

	if !d.gateway.IsReady() {
		d.stateMu.Lock()
		wasPaused := d.paused
		d.paused = true
		d.stateMu.Unlock()
		if !wasPaused {
			d.log.Warn("transport not ready, dispatch paused")
		}
		return
	}

	d.stateMu.Lock()
	wasPaused := d.paused
	d.paused = false
	d.stateMu.Unlock()
	if wasPaused {
		d.log.Info("transport ready again, dispatch resumed")
	}

	msgs, err := d.store.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		d.log.Error("fetch pending failed", slog.Any("err", err))
		return
	}

	if len(msgs) == 0 {
		d.stateMu.Lock()
		slowed := d.ivc.ObserveEmpty()
		d.stateMu.Unlock()
		if slowed {
			d.log.Info("queue idle, backing off", slog.Duration("interval", d.cfg.SlowInterval))
		}
		return
	}

	d.stateMu.Lock()
	restored := d.ivc.ObserveBusy()
	d.stateMu.Unlock()
	if restored {
		d.log.Info("pending messages found, restoring base cadence", slog.Duration("interval", d.cfg.BaseInterval))
	}

	d.log.Info("processing batch", slog.Int("count", len(msgs)))

	// Burst 1: the first send goes immediately, every later one waits out
	// the inter-message delay.
	limiter := rate.NewLimiter(rate.Every(d.cfg.MessageDelay), 1)

	for _, m := range msgs {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		d.dispatchOne(ctx, m)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, m model.Message) {
	address, ok := normalize.Recipient(m.Recipient, d.cfg.CountryPrefix)
	if !ok {
		d.log.Warn("invalid recipient, message failed", slog.Int64("id", m.ID))
		d.markFailed(ctx, m.ID)
		return
	}

	if err := d.send(ctx, address, m); err != nil {
		reason := "transport error"
		if errors.Is(err, ErrSendTimeout) {
			reason = "timeout"
		}
		d.log.Warn("send failed", slog.Int64("id", m.ID), slog.String("reason", reason), slog.Any("err", err))
		d.markFailed(ctx, m.ID)
		return
	}

	if err := d.store.MarkSent(ctx, m.ID); err != nil {
		// Row stays pending and will be retried; the recipient may see a
		// duplicate. Known at-least-once gap.
		d.log.Error("mark sent failed, row stays pending", slog.Int64("id", m.ID), slog.Any("err", err))
		return
	}

	d.sent.Add(1)
	if d.cache != nil {
		if err := d.cache.StoreSent(ctx, m.ID, time.Now()); err != nil {
			d.log.Warn("sent cache write failed", slog.Int64("id", m.ID), slog.Any("err", err))
		}
	}
	d.log.Info("message sent", slog.Int64("id", m.ID), slog.String("to", m.Recipient))
}

func (d *Dispatcher) send(ctx context.Context, address string, m model.Message) error {
	if strings.TrimSpace(m.Body) != "" {
		if err := d.withTimeout(ctx, func(ctx context.Context) error {
			return d.gateway.SendText(ctx, address, m.Body)
		}); err != nil {
			return err
		}
	}

	if media, ok := normalize.DecodeAttachment(m.Attachment); ok {
		if err := d.withTimeout(ctx, func(ctx context.Context) error {
			return d.gateway.SendMedia(ctx, address, media)
		}); err != nil {
			return err
		}
		d.log.Info("attachment sent", slog.Int64("id", m.ID), slog.String("mime", media.Mime))
	}

	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, id int64) {
	if err := d.store.MarkFailed(ctx, id); err != nil {
		d.log.Error("mark failed errored, row stays pending", slog.Int64("id", id), slog.Any("err", err))
	}
}

// withTimeout races fn against the send ceiling. On timeout the underlying
// call keeps running in its abandoned goroutine until its context dies; its
// eventual result is discarded.
func (d *Dispatcher) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := make(chan error, 1)
	go func() { res <- fn(callCtx) }()

	timer := time.NewTimer(d.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case err := <-res:
		return err
	case <-timer.C:
		return ErrSendTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
