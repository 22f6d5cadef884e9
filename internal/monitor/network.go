package monitor

import (
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"offlinewatch/internal/loop"
	"offlinewatch/internal/models"
)

const (
	defaultNetworkTarget   = "1.1.1.1"
	defaultNetworkInterval = 15 * time.Second
	defaultNetworkTimeout  = 4 * time.Second
	forcedTarget           = "forced"
)

// NetworkOptions configures the OS-level reachability watcher.
type NetworkOptions struct {
	Enabled      bool
	Target       string
	Interval     time.Duration
	Timeout      time.Duration
	HistoryLimit int
}

type networkListener struct {
	fn func(connected bool)
}

// NetworkNotifier turns periodic reachability checks into connected /
// disconnected callbacks delivered on the loop. It stands in for the
// platform's connectivity change broadcasts.
type NetworkNotifier struct {
	opts       NetworkOptions
	loop       *loop.Loop
	logger     *zap.Logger
	dial       func(network, address string, timeout time.Duration) (net.Conn, error)
	maxHistory int

	mu        sync.RWMutex
	connected bool
	latest    *models.NetworkSample
	history   []models.NetworkSample

	// loop-confined
	listeners []*networkListener

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewNetworkNotifier configures a notifier. Until the first sample arrives
// the network is assumed to be connected.
func NewNetworkNotifier(opts NetworkOptions, l *loop.Loop, logger *zap.Logger) *NetworkNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultNetworkInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultNetworkTimeout
	}
	historyCap := opts.HistoryLimit
	if historyCap <= 0 {
		historyCap = 2048
	}

	return &NetworkNotifier{
		opts:       opts,
		loop:       l,
		logger:     logger.Named("network"),
		dial:       net.DialTimeout,
		maxHistory: historyCap,
		connected:  true,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the polling loop. If disabled, only Force drives changes.
func (n *NetworkNotifier) Start() {
	if !n.opts.Enabled {
		close(n.doneCh)
		return
	}
	go n.run()
}

// Stop requests the polling loop to terminate.
func (n *NetworkNotifier) Stop() {
	select {
	case <-n.doneCh:
		return
	default:
	}
	close(n.stopCh)
	<-n.doneCh
}

// Subscribe registers fn for connectivity changes. Must be called on the loop.
func (n *NetworkNotifier) Subscribe(fn func(connected bool)) func() {
	entry := &networkListener{fn: fn}
	n.listeners = append(n.listeners, entry)
	return func() {
		for i, l := range n.listeners {
			if l == entry {
				n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
				return
			}
		}
	}
}

// IsConnected returns the last known OS connectivity.
func (n *NetworkNotifier) IsConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

// Force injects a connectivity change as if the OS had reported it.
func (n *NetworkNotifier) Force(connected bool) {
	n.record(models.NetworkSample{
		Target:    forcedTarget,
		Connected: connected,
		CheckedAt: time.Now().UTC(),
	})
}

// Latest returns the most recent sample.
func (n *NetworkNotifier) Latest() (models.NetworkSample, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.latest == nil {
		return models.NetworkSample{}, false
	}
	return *n.latest, true
}

// History returns up to maxHistory previous samples.
func (n *NetworkNotifier) History() []models.NetworkSample {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if len(n.history) == 0 {
		return nil
	}
	out := make([]models.NetworkSample, len(n.history))
	copy(out, n.history)
	return out
}

// HistorySince returns samples whose timestamp is >= cutoff.
func (n *NetworkNotifier) HistorySince(cutoff time.Time) []models.NetworkSample {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if len(n.history) == 0 {
		return nil
	}
	idx := sort.Search(len(n.history), func(i int) bool {
		return !n.history[i].CheckedAt.Before(cutoff)
	})
	if idx >= len(n.history) {
		return nil
	}
	out := make([]models.NetworkSample, len(n.history)-idx)
	copy(out, n.history[idx:])
	return out
}

// Restore seeds the sample history, typically from disk at startup. It does
// not change the connectivity state or notify subscribers.
func (n *NetworkNotifier) Restore(samples []models.NetworkSample) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(samples) > n.maxHistory {
		samples = samples[len(samples)-n.maxHistory:]
	}
	n.history = append([]models.NetworkSample(nil), samples...)
	if len(samples) > 0 {
		latest := samples[len(samples)-1]
		n.latest = &latest
	}
}

func (n *NetworkNotifier) run() {
	defer close(n.doneCh)

	n.check()

	ticker := time.NewTicker(n.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.check()
		case <-n.stopCh:
			return
		}
	}
}

func (n *NetworkNotifier) check() {
	target := strings.TrimSpace(n.opts.Target)
	if target == "" {
		target = defaultNetworkTarget
	}
	address := target
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, "53")
	}

	started := time.Now()
	conn, err := n.dial("tcp", address, n.opts.Timeout)

	sample := models.NetworkSample{
		Target:    target,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		sample.Error = err.Error()
	} else {
		sample.Connected = true
		sample.LatencyMs = time.Since(started).Milliseconds()
		_ = conn.Close()
	}
	n.record(sample)
}

func (n *NetworkNotifier) record(sample models.NetworkSample) {
	n.mu.Lock()
	defer n.mu.Unlock()

	changed := n.connected != sample.Connected
	n.connected = sample.Connected
	n.latest = &sample
	n.history = append(n.history, sample)
	if len(n.history) > n.maxHistory {
		n.history = n.history[len(n.history)-n.maxHistory:]
	}
	if !changed {
		return
	}

	n.logger.Info("network connectivity changed",
		zap.Bool("connected", sample.Connected),
		zap.String("target", sample.Target),
		zap.String("error", sample.Error),
	)
	// Posting under the lock keeps deliveries in sample order.
	connected := sample.Connected
	n.loop.Post(func() { n.deliver(connected) })
}

func (n *NetworkNotifier) deliver(connected bool) {
	listeners := make([]*networkListener, len(n.listeners))
	copy(listeners, n.listeners)
	for _, l := range listeners {
		l.fn(connected)
	}
}
