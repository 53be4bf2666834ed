package listener

import (
	"context"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

// DebouncerConfig tunes a Debouncer.
type DebouncerConfig struct {
	QuietWindow time.Duration
	MaxDelay    time.Duration

	// IsRunning reports whether a generation run is in flight. While it is,
	// the debouncer holds its burst and fires exactly once after the run.
	IsRunning func() bool

	// PollInterval is how often IsRunning is polled while a fire is held.
	PollInterval time.Duration
}

// Burst describes the coalesced requests behind one fire.
type Burst struct {
	Count      int
	FirstAt    time.Time
	LastAt     time.Time
	LastReason string
	Cause      string // "quiet", "max_delay" or "after_running"
}

// Debouncer coalesces bursts of regeneration requests into one call of fire:
//   - a quiet window restarts on every request
//   - the max delay bounds how long a burst can be postponed
//   - while a run is in flight exactly one follow-up is queued
type Debouncer struct {
	cfg  DebouncerConfig
	fire func(context.Context, Burst)
	now  func() time.Time

	signal    chan struct{}
	readyOnce sync.Once
	ready     chan struct{}

	mu              sync.Mutex
	pending         bool
	pendingAfterRun bool
	pollingAfterRun bool
	firstRequestAt  time.Time
	lastRequestAt   time.Time
	lastReason      string
	requestCount    int
}

// NewDebouncer returns a Debouncer calling fire for each burst.
func NewDebouncer(cfg DebouncerConfig, fire func(context.Context, Burst)) (*Debouncer, error) {
	if fire == nil {
		return nil, ferrors.ValidationError("fire callback is required").Build()
	}
	if cfg.QuietWindow <= 0 {
		return nil, ferrors.ValidationError("quiet window must be > 0").Build()
	}
	if cfg.MaxDelay <= 0 {
		return nil, ferrors.ValidationError("max delay must be > 0").Build()
	}
	if cfg.IsRunning == nil {
		cfg.IsRunning = func() bool { return false }
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Debouncer{
		cfg:    cfg,
		fire:   fire,
		now:    time.Now,
		signal: make(chan struct{}, 1),
		ready:  make(chan struct{}),
	}, nil
}

// Ready is closed once Run is accepting requests.
func (d *Debouncer) Ready() <-chan struct{} { return d.ready }

// Request records a regeneration request. It never blocks.
func (d *Debouncer) Request(reason string) {
	d.mu.Lock()
	now := d.now()
	if !d.pending {
		d.pending = true
		d.firstRequestAt = now
		d.requestCount = 0
	}
	d.lastRequestAt = now
	d.lastReason = reason
	d.requestCount++
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// Run drives the timers until ctx is done.
func (d *Debouncer) Run(ctx context.Context) error {
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}
	d.readyOnce.Do(func() { close(d.ready) })

	quietTimer := stoppedTimer()
	maxTimer := stoppedTimer()
	pollTimer := stoppedTimer()
	var quietC, maxC, pollC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-d.signal:
			resetTimer(quietTimer, d.cfg.QuietWindow)
			quietC = quietTimer.C
			if maxC == nil {
				resetTimer(maxTimer, d.cfg.MaxDelay)
				maxC = maxTimer.C
			}

		case <-quietC:
			if d.tryFire(ctx, "quiet") {
				quietC, maxC = nil, nil
			}

		case <-maxC:
			if d.tryFire(ctx, "max_delay") {
				quietC, maxC = nil, nil
			}

		case <-pollC:
			pollC = nil
			if d.tryFireAfterRunning(ctx) {
				quietC, maxC = nil, nil
				continue
			}
			resetTimer(pollTimer, d.cfg.PollInterval)
			pollC = pollTimer.C
		}

		if d.shouldPollAfterRun() && pollC == nil {
			resetTimer(pollTimer, d.cfg.PollInterval)
			pollC = pollTimer.C
		}
	}
}

func (d *Debouncer) shouldPollAfterRun() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingAfterRun && !d.pollingAfterRun
}

func (d *Debouncer) tryFire(ctx context.Context, cause string) bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return true
	}
	if d.cfg.IsRunning() {
		d.pendingAfterRun = true
		d.mu.Unlock()
		return false
	}
	b := Burst{
		Count:      d.requestCount,
		FirstAt:    d.firstRequestAt,
		LastAt:     d.lastRequestAt,
		LastReason: d.lastReason,
		Cause:      cause,
	}
	d.pending = false
	d.pendingAfterRun = false
	d.pollingAfterRun = false
	d.mu.Unlock()

	d.fire(ctx, b)
	return true
}

func (d *Debouncer) tryFireAfterRunning(ctx context.Context) bool {
	d.mu.Lock()
	if !d.pendingAfterRun {
		d.mu.Unlock()
		return true
	}
	d.pollingAfterRun = true
	d.mu.Unlock()

	if d.cfg.IsRunning() {
		return false
	}
	return d.tryFire(ctx, "after_running")
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(after)
}
