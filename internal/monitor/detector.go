package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"offlinewatch/internal/loop"
	"offlinewatch/internal/models"
	"offlinewatch/internal/probe"
)

const (
	// DefaultProbeURL answers 204 when the internet is reachable.
	DefaultProbeURL = "https://www.google.com/generate_204"
	// FallbackProbeURL is tried when the default probe is inconclusive.
	FallbackProbeURL = "http://connectivitycheck.gstatic.com/generate_204"

	defaultProbeTimeout      = 5 * time.Second
	defaultInitialRetryDelay = 5 * time.Second
	defaultMaxRetryDelay     = 2 * time.Minute
	defaultTransitionHistory = 1024

	probeKindDefault  = "default"
	probeKindFallback = "fallback"
	outcomeError      = "error"
)

// Observer receives connection state changes on the loop.
type Observer interface {
	OnConnectionStateChanged(state models.ConnectionState)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(state models.ConnectionState)

// OnConnectionStateChanged calls f(state).
func (f ObserverFunc) OnConnectionStateChanged(state models.ConnectionState) { f(state) }

// NetworkSource reports the platform's current connectivity.
type NetworkSource interface {
	IsConnected() bool
}

// Recorder receives probe outcomes and transitions for metrics.
type Recorder interface {
	RecordProbe(kind, outcome string)
	RecordTransition(t models.StateTransition)
}

type nopRecorder struct{}

func (nopRecorder) RecordProbe(string, string)              {}
func (nopRecorder) RecordTransition(models.StateTransition) {}

// DetectorOptions configures probing and retry policy.
type DetectorOptions struct {
	DefaultURL        string
	FallbackURL       string
	ProbeTimeout      time.Duration
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	// FallbackDelay is how long to wait before probing the fallback URL
	// after the default URL looked like a captive portal.
	FallbackDelay time.Duration
	// MaxRetries bounds consecutive backoff retries; 0 retries forever.
	MaxRetries   int
	HistoryLimit int
}

type observerEntry struct {
	observer Observer
}

type transitionEntry struct {
	fn func(models.StateTransition)
}

// ConnectivityDetector tracks ConnectionState from OS callbacks and HTTP
// probes. Every method except State, Latest, History and HistorySince must
// run on the loop.
type ConnectivityDetector struct {
	loop     *loop.Loop
	prober   probe.Prober
	network  NetworkSource
	recorder Recorder
	opts     DetectorOptions
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// loop-confined
	observers     []*observerEntry
	sinks         []*transitionEntry
	useDefaultURL bool
	probeInFlight bool
	probeCancel   context.CancelFunc
	generation    uint64
	retryTask     loop.TaskID
	retryDelay    time.Duration
	retries       int

	mu         sync.RWMutex
	state      models.ConnectionState
	history    []models.StateTransition
	maxHistory int
}

// NewConnectivityDetector wires a detector. recorder may be nil.
func NewConnectivityDetector(
	l *loop.Loop,
	prober probe.Prober,
	network NetworkSource,
	recorder Recorder,
	opts DetectorOptions,
	logger *zap.Logger,
) *ConnectivityDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if opts.DefaultURL == "" {
		opts.DefaultURL = DefaultProbeURL
	}
	if opts.FallbackURL == "" {
		opts.FallbackURL = FallbackProbeURL
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.InitialRetryDelay <= 0 {
		opts.InitialRetryDelay = defaultInitialRetryDelay
	}
	if opts.MaxRetryDelay < opts.InitialRetryDelay {
		opts.MaxRetryDelay = defaultMaxRetryDelay
		if opts.MaxRetryDelay < opts.InitialRetryDelay {
			opts.MaxRetryDelay = opts.InitialRetryDelay
		}
	}
	if opts.FallbackDelay < 0 {
		opts.FallbackDelay = 0
	}
	historyCap := opts.HistoryLimit
	if historyCap <= 0 {
		historyCap = defaultTransitionHistory
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectivityDetector{
		loop:          l,
		prober:        prober,
		network:       network,
		recorder:      recorder,
		opts:          opts,
		logger:        logger.Named("detector"),
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		useDefaultURL: true,
		retryDelay:    opts.InitialRetryDelay,
		maxHistory:    historyCap,
	}
}

// Subscribe registers an observer and returns a function that removes it.
func (d *ConnectivityDetector) Subscribe(o Observer) func() {
	entry := &observerEntry{observer: o}
	d.observers = append(d.observers, entry)
	return func() {
		for i, e := range d.observers {
			if e == entry {
				d.observers = append(d.observers[:i], d.observers[i+1:]...)
				return
			}
		}
	}
}

// SubscribeTransitions registers fn for full transition records.
func (d *ConnectivityDetector) SubscribeTransitions(fn func(models.StateTransition)) func() {
	entry := &transitionEntry{fn: fn}
	d.sinks = append(d.sinks, entry)
	return func() {
		for i, e := range d.sinks {
			if e == entry {
				d.sinks = append(d.sinks[:i], d.sinks[i+1:]...)
				return
			}
		}
	}
}

// State returns the current connection state. Safe from any goroutine.
func (d *ConnectivityDetector) State() models.ConnectionState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Detect re-evaluates connectivity from the platform's current view.
func (d *ConnectivityDetector) Detect() {
	d.OnNetworkChanged(d.network == nil || d.network.IsConnected())
}

// OnNetworkChanged handles an OS connectivity callback. Disconnection is
// reported immediately; connection starts a fresh probe cycle.
func (d *ConnectivityDetector) OnNetworkChanged(connected bool) {
	d.abandonProbeCycle()
	if !connected {
		d.setState(models.ConnectionStateDisconnected, models.ReasonOSDisconnected)
		return
	}
	d.CheckConnectivityViaHTTPProbe()
}

// CheckConnectivityViaHTTPProbe probes the current URL unless a probe is
// already outstanding.
func (d *ConnectivityDetector) CheckConnectivityViaHTTPProbe() {
	if d.probeInFlight {
		return
	}
	useDefault := d.useDefaultURL
	url := d.opts.FallbackURL
	if useDefault {
		url = d.opts.DefaultURL
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.opts.ProbeTimeout)
	d.probeInFlight = true
	d.probeCancel = cancel
	generation := d.generation

	go func() {
		defer cancel()
		result, err := d.prober.Probe(ctx, url)
		d.loop.Post(func() { d.onProbeCompleted(generation, useDefault, result, err) })
	}()
}

// HasScheduledRetry reports whether a delayed probe is queued.
func (d *ConnectivityDetector) HasScheduledRetry() bool {
	return d.retryTask != 0 && d.loop.HasPending(d.retryTask)
}

// Close cancels outstanding probes and scheduled retries.
func (d *ConnectivityDetector) Close() {
	d.abandonProbeCycle()
	d.cancel()
}

// Latest returns the most recent transition.
func (d *ConnectivityDetector) Latest() (models.StateTransition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.history) == 0 {
		return models.StateTransition{}, false
	}
	return d.history[len(d.history)-1], true
}

// History returns a copy of the retained transitions.
func (d *ConnectivityDetector) History() []models.StateTransition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.history) == 0 {
		return nil
	}
	out := make([]models.StateTransition, len(d.history))
	copy(out, d.history)
	return out
}

// HistorySince returns transitions at or after cutoff.
func (d *ConnectivityDetector) HistorySince(cutoff time.Time) []models.StateTransition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	idx := sort.Search(len(d.history), func(i int) bool {
		return !d.history[i].At.Before(cutoff)
	})
	if idx >= len(d.history) {
		return nil
	}
	out := make([]models.StateTransition, len(d.history)-idx)
	copy(out, d.history[idx:])
	return out
}

func (d *ConnectivityDetector) onProbeCompleted(generation uint64, useDefault bool, result models.ProbeResult, err error) {
	if generation != d.generation {
		return
	}
	d.probeInFlight = false
	d.probeCancel = nil

	kind, reason := probeKindFallback, models.ReasonProbeFallback
	if useDefault {
		kind, reason = probeKindDefault, models.ReasonProbeDefault
	}

	classification := probe.Inconclusive
	outcome := outcomeError
	if err == nil {
		classification = probe.Classify(result)
		outcome = classification.String()
	}
	d.recorder.RecordProbe(kind, outcome)
	d.logger.Debug("probe result",
		zap.String("kind", kind),
		zap.String("url", result.URL),
		zap.Int("status", result.StatusCode),
		zap.Int64("content_length", result.ContentLength),
		zap.String("outcome", outcome),
		zap.Error(err),
	)

	switch classification {
	case probe.Validated:
		d.setState(models.ConnectionStateValidated, reason)
		d.resetRetry()
	case probe.CaptivePortal:
		d.setState(models.ConnectionStateCaptivePortal, reason)
		if useDefault {
			d.useDefaultURL = false
			d.scheduleProbe(d.opts.FallbackDelay)
			return
		}
		d.scheduleRetry()
	default:
		// No signal: the state stays as it is.
		if useDefault {
			d.useDefaultURL = false
			d.CheckConnectivityViaHTTPProbe()
			return
		}
		d.scheduleRetry()
	}
}

func (d *ConnectivityDetector) scheduleRetry() {
	if d.opts.MaxRetries > 0 && d.retries >= d.opts.MaxRetries {
		d.logger.Info("retry budget exhausted, waiting for next network change",
			zap.Int("retries", d.retries))
		d.cancelRetry()
		return
	}
	delay := d.retryDelay
	d.retries++
	d.retryDelay *= 2
	if d.retryDelay > d.opts.MaxRetryDelay {
		d.retryDelay = d.opts.MaxRetryDelay
	}
	d.useDefaultURL = true
	d.scheduleProbe(delay)
}

func (d *ConnectivityDetector) scheduleProbe(delay time.Duration) {
	d.cancelRetry()
	d.retryTask = d.loop.PostDelayed(delay, func() {
		d.retryTask = 0
		d.CheckConnectivityViaHTTPProbe()
	})
}

func (d *ConnectivityDetector) cancelRetry() {
	if d.retryTask != 0 {
		d.loop.Cancel(d.retryTask)
		d.retryTask = 0
	}
}

func (d *ConnectivityDetector) resetRetry() {
	d.cancelRetry()
	d.retries = 0
	d.retryDelay = d.opts.InitialRetryDelay
	d.useDefaultURL = true
}

// abandonProbeCycle drops any in-flight probe result and pending retry.
func (d *ConnectivityDetector) abandonProbeCycle() {
	d.generation++
	if d.probeCancel != nil {
		d.probeCancel()
		d.probeCancel = nil
	}
	d.probeInFlight = false
	d.resetRetry()
}

func (d *ConnectivityDetector) setState(state models.ConnectionState, reason string) {
	d.mu.Lock()
	if state == d.state {
		d.mu.Unlock()
		return
	}
	transition := models.StateTransition{
		From:   d.state,
		To:     state,
		Reason: reason,
		At:     d.now().UTC(),
	}
	d.state = state
	d.history = append(d.history, transition)
	if len(d.history) > d.maxHistory {
		d.history = d.history[len(d.history)-d.maxHistory:]
	}
	d.mu.Unlock()

	d.logger.Info("connection state changed",
		zap.Stringer("from", transition.From),
		zap.Stringer("to", transition.To),
		zap.String("reason", reason),
	)
	d.recorder.RecordTransition(transition)

	sinks := make([]*transitionEntry, len(d.sinks))
	copy(sinks, d.sinks)
	for _, s := range sinks {
		s.fn(transition)
	}
	observers := make([]*observerEntry, len(d.observers))
	copy(observers, d.observers)
	for _, o := range observers {
		o.observer.OnConnectionStateChanged(state)
	}
}
