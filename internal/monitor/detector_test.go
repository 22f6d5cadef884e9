package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinewatch/internal/loop"
	"offlinewatch/internal/models"
	"offlinewatch/internal/probe"
)

const stateTimeout = 5 * time.Second

type stateRecorder struct {
	ch chan models.ConnectionState
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan models.ConnectionState, 32)}
}

func (r *stateRecorder) OnConnectionStateChanged(state models.ConnectionState) {
	r.ch <- state
}

func (r *stateRecorder) next(t *testing.T) models.ConnectionState {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(stateTimeout):
		t.Fatal("timed out waiting for connection state")
		return models.ConnectionStateNone
	}
}

func (r *stateRecorder) assertQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case s := <-r.ch:
		t.Fatalf("unexpected connection state %s", s)
	case <-time.After(d):
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/nocontent", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		status, err := strconv.Atoi(r.URL.Query().Get("status"))
		if err != nil {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if r.Method == http.MethodGet && status != http.StatusNotModified {
			_, _ = w.Write([]byte("Echo"))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	loop     *loop.Loop
	detector *ConnectivityDetector
	network  *NetworkNotifier
	states   *stateRecorder
}

func newFixture(t *testing.T, prober probe.Prober, opts DetectorOptions) *fixture {
	t.Helper()
	l := loop.New(nil)
	l.Start()
	t.Cleanup(l.Stop)

	network := NewNetworkNotifier(NetworkOptions{}, l, nil)
	d := NewConnectivityDetector(l, prober, network, nil, opts, nil)
	states := newStateRecorder()
	require.NoError(t, l.Call(func() {
		d.Subscribe(states)
		network.Subscribe(d.OnNetworkChanged)
	}))
	t.Cleanup(func() { _ = l.Call(d.Close) })

	return &fixture{loop: l, detector: d, network: network, states: states}
}

func newHTTPFixture(t *testing.T, method string, opts DetectorOptions) *fixture {
	t.Helper()
	prober := probe.NewHTTPProber(probe.Options{Method: method, Timeout: 2 * time.Second}, nil)
	return newFixture(t, prober, opts)
}

func (f *fixture) probeVia(t *testing.T, useDefault bool) {
	t.Helper()
	require.NoError(t, f.loop.Call(func() {
		f.detector.useDefaultURL = useDefault
		f.detector.CheckConnectivityViaHTTPProbe()
	}))
}

func (f *fixture) hasScheduledRetry(t *testing.T) bool {
	t.Helper()
	var scheduled bool
	require.NoError(t, f.loop.Call(func() { scheduled = f.detector.HasScheduledRetry() }))
	return scheduled
}

func TestProbeDefaultURL(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   models.ConnectionState
	}{
		{name: "204", path: "/nocontent", want: models.ConnectionStateValidated},
		{name: "200 without content", method: http.MethodPost, path: "/echo?status=200", want: models.ConnectionStateValidated},
		{name: "200 with content", path: "/echo?status=200", want: models.ConnectionStateCaptivePortal},
		{name: "304", path: "/echo?status=304", want: models.ConnectionStateCaptivePortal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHTTPFixture(t, tt.method, DetectorOptions{
				DefaultURL:    srv.URL + tt.path,
				FallbackURL:   srv.URL + "/echo?status=304",
				FallbackDelay: time.Hour,
			})
			f.probeVia(t, true)
			assert.Equal(t, tt.want, f.states.next(t))
			assert.Equal(t, tt.want, f.detector.State())
		})
	}
}

func TestCaptivePortalOnDefaultURLSchedulesFallback(t *testing.T) {
	srv := newTestServer(t)
	f := newHTTPFixture(t, "", DetectorOptions{
		DefaultURL:    srv.URL + "/echo?status=200",
		FallbackURL:   srv.URL + "/nocontent",
		FallbackDelay: time.Hour,
	})

	f.probeVia(t, true)
	assert.Equal(t, models.ConnectionStateCaptivePortal, f.states.next(t))
	assert.True(t, f.hasScheduledRetry(t))

	var useDefault bool
	require.NoError(t, f.loop.Call(func() { useDefault = f.detector.useDefaultURL }))
	assert.False(t, useDefault, "the scheduled probe targets the fallback URL")
}

func TestProbeDefaultURLReturning500ProbesFallbackImmediately(t *testing.T) {
	srv := newTestServer(t)
	f := newHTTPFixture(t, "", DetectorOptions{
		DefaultURL:  srv.URL + "/echo?status=500",
		FallbackURL: srv.URL + "/nocontent",
	})

	f.probeVia(t, true)
	assert.Equal(t, models.ConnectionStateValidated, f.states.next(t))
	assert.False(t, f.hasScheduledRetry(t))
}

func TestProbeFallbackURL(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name      string
		path      string
		want      models.ConnectionState
		wantRetry bool
	}{
		{name: "204", path: "/nocontent", want: models.ConnectionStateValidated},
		{name: "304", path: "/echo?status=304", want: models.ConnectionStateCaptivePortal, wantRetry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHTTPFixture(t, "", DetectorOptions{
				DefaultURL:        srv.URL + "/nocontent",
				FallbackURL:       srv.URL + tt.path,
				InitialRetryDelay: time.Hour,
			})
			f.probeVia(t, false)
			assert.Equal(t, tt.want, f.states.next(t))
			assert.Equal(t, tt.wantRetry, f.hasScheduledRetry(t))
		})
	}
}

func TestDetectDisconnectedState(t *testing.T) {
	f := newHTTPFixture(t, "", DetectorOptions{})

	f.network.Force(false)
	assert.Equal(t, models.ConnectionStateDisconnected, f.states.next(t))
	assert.False(t, f.hasScheduledRetry(t))
}

func TestDetectValidatedState(t *testing.T) {
	srv := newTestServer(t)
	f := newHTTPFixture(t, "", DetectorOptions{DefaultURL: srv.URL + "/nocontent"})

	f.network.Force(false)
	assert.Equal(t, models.ConnectionStateDisconnected, f.states.next(t))
	f.network.Force(true)
	assert.Equal(t, models.ConnectionStateValidated, f.states.next(t))

	history := f.detector.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.ReasonOSDisconnected, history[0].Reason)
	assert.Equal(t, models.ConnectionStateDisconnected, history[1].From)
	assert.Equal(t, models.ReasonProbeDefault, history[1].Reason)
}

func TestDetectCaptivePortalAndThenValidatedState(t *testing.T) {
	srv := newTestServer(t)
	f := newHTTPFixture(t, "", DetectorOptions{
		DefaultURL:  srv.URL + "/echo?status=200",
		FallbackURL: srv.URL + "/nocontent",
	})

	f.network.Force(false)
	assert.Equal(t, models.ConnectionStateDisconnected, f.states.next(t))
	f.network.Force(true)
	assert.Equal(t, models.ConnectionStateCaptivePortal, f.states.next(t))
	assert.Equal(t, models.ConnectionStateValidated, f.states.next(t))
	assert.False(t, f.hasScheduledRetry(t))

	latest, ok := f.detector.Latest()
	require.True(t, ok)
	assert.Equal(t, models.ReasonProbeFallback, latest.Reason)
}

func TestDetectCaptivePortalStateForBothURLs(t *testing.T) {
	srv := newTestServer(t)
	f := newHTTPFixture(t, "", DetectorOptions{
		DefaultURL:        srv.URL + "/echo?status=200",
		FallbackURL:       srv.URL + "/echo?status=304",
		FallbackDelay:     time.Hour,
		InitialRetryDelay: time.Hour,
	})

	f.network.Force(false)
	assert.Equal(t, models.ConnectionStateDisconnected, f.states.next(t))
	f.network.Force(true)
	assert.Equal(t, models.ConnectionStateCaptivePortal, f.states.next(t))

	// Reset the state so the fallback result is observable, then run the
	// scheduled fallback probe right away.
	require.NoError(t, f.loop.Call(func() {
		f.detector.setState(models.ConnectionStateNone, models.ReasonForced)
		f.detector.cancelRetry()
		f.detector.CheckConnectivityViaHTTPProbe()
	}))
	assert.Equal(t, models.ConnectionStateNone, f.states.next(t))
	assert.Equal(t, models.ConnectionStateCaptivePortal, f.states.next(t))
	assert.True(t, f.hasScheduledRetry(t))
}

func TestObserverOnlySeesChanges(t *testing.T) {
	srv := newTestServer(t)
	f := newHTTPFixture(t, "", DetectorOptions{DefaultURL: srv.URL + "/nocontent"})

	f.probeVia(t, true)
	assert.Equal(t, models.ConnectionStateValidated, f.states.next(t))
	f.probeVia(t, true)
	f.states.assertQuiet(t, 100*time.Millisecond)
}

func TestTransportFailureIsNoSignal(t *testing.T) {
	srv := newTestServer(t)

	t.Run("fallback answers", func(t *testing.T) {
		f := newHTTPFixture(t, "", DetectorOptions{
			DefaultURL:  "http://127.0.0.1:1/generate_204",
			FallbackURL: srv.URL + "/nocontent",
		})
		f.probeVia(t, true)
		assert.Equal(t, models.ConnectionStateValidated, f.states.next(t))
	})

	t.Run("both unreachable", func(t *testing.T) {
		prober := newFakeProber(func(string) (models.ProbeResult, error) {
			return models.ProbeResult{}, errors.New("connection refused")
		})
		f := newFixture(t, prober, DetectorOptions{InitialRetryDelay: time.Hour})
		f.probeVia(t, true)

		require.Eventually(t, func() bool { return prober.count() == 2 }, stateTimeout, 5*time.Millisecond)
		require.Eventually(t, func() bool { return f.hasScheduledRetry(t) }, stateTimeout, 5*time.Millisecond)
		assert.Equal(t, models.ConnectionStateNone, f.detector.State())
		f.states.assertQuiet(t, 50*time.Millisecond)
	})
}

func TestLastNetworkCallbackWins(t *testing.T) {
	tests := []struct {
		name     string
		sequence []bool
		want     models.ConnectionState
	}{
		{name: "ends disconnected", sequence: []bool{false, true, false}, want: models.ConnectionStateDisconnected},
		{name: "ends connected", sequence: []bool{false, true, false, true}, want: models.ConnectionStateValidated},
		{name: "flapping then down", sequence: []bool{true, false, true, true, false}, want: models.ConnectionStateDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := newFakeProber(func(url string) (models.ProbeResult, error) {
				return models.ProbeResult{URL: url, StatusCode: http.StatusNoContent}, nil
			})
			prober.hold()
			f := newFixture(t, prober, DetectorOptions{DefaultURL: "http://probe.test/generate_204"})

			require.NoError(t, f.loop.Call(func() {
				for _, connected := range tt.sequence {
					f.detector.OnNetworkChanged(connected)
				}
			}))
			var inFlight bool
			require.NoError(t, f.loop.Call(func() { inFlight = f.detector.probeInFlight }))
			assert.Equal(t, tt.sequence[len(tt.sequence)-1], inFlight)

			prober.release()
			if tt.want == models.ConnectionStateValidated {
				require.Eventually(t, func() bool { return f.detector.State() == tt.want }, stateTimeout, 5*time.Millisecond)
				return
			}
			// Results of probes started before the final disconnect are dropped.
			time.Sleep(50 * time.Millisecond)
			require.NoError(t, f.loop.Call(func() {}))
			assert.Equal(t, tt.want, f.detector.State())
			for _, tr := range f.detector.History() {
				assert.NotEqual(t, models.ConnectionStateValidated, tr.To)
			}
		})
	}
}

func TestRetryBackoffIsBounded(t *testing.T) {
	prober := newFakeProber(func(url string) (models.ProbeResult, error) {
		return models.ProbeResult{URL: url, StatusCode: http.StatusServiceUnavailable}, nil
	})
	f := newFixture(t, prober, DetectorOptions{
		InitialRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     40 * time.Millisecond,
		MaxRetries:        3,
	})
	f.probeVia(t, true)

	require.Eventually(t, func() bool { return prober.count() == 8 }, stateTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !f.hasScheduledRetry(t) }, stateTimeout, 5*time.Millisecond)

	var delay time.Duration
	require.NoError(t, f.loop.Call(func() { delay = f.detector.retryDelay }))
	assert.Equal(t, 40*time.Millisecond, delay)
	assert.Equal(t, models.ConnectionStateNone, f.detector.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 8, prober.count())
}

func TestDetectUsesNetworkSource(t *testing.T) {
	prober := newFakeProber(func(url string) (models.ProbeResult, error) {
		return models.ProbeResult{URL: url, StatusCode: http.StatusNoContent}, nil
	})
	f := newFixture(t, prober, DetectorOptions{})

	f.network.Force(false)
	assert.Equal(t, models.ConnectionStateDisconnected, f.states.next(t))
	require.NoError(t, f.loop.Call(f.detector.Detect))
	assert.Zero(t, prober.count())

	f.network.Force(true)
	assert.Equal(t, models.ConnectionStateValidated, f.states.next(t))
	require.NoError(t, f.loop.Call(f.detector.Detect))
	require.Eventually(t, func() bool { return prober.count() == 2 }, stateTimeout, 5*time.Millisecond)
}

func TestSubscribeTransitionsAndUnsubscribe(t *testing.T) {
	f := newHTTPFixture(t, "", DetectorOptions{})

	var (
		mu  sync.Mutex
		got []models.StateTransition
	)
	var unsubscribe func()
	require.NoError(t, f.loop.Call(func() {
		unsubscribe = f.detector.SubscribeTransitions(func(tr models.StateTransition) {
			mu.Lock()
			got = append(got, tr)
			mu.Unlock()
		})
	}))

	f.network.Force(false)
	f.states.next(t)
	require.NoError(t, f.loop.Call(unsubscribe))
	require.NoError(t, f.loop.Call(func() {
		f.detector.setState(models.ConnectionStateNone, models.ReasonForced)
	}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, models.ConnectionStateDisconnected, got[0].To)
}

type fakeProber struct {
	respond func(url string) (models.ProbeResult, error)

	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func newFakeProber(respond func(url string) (models.ProbeResult, error)) *fakeProber {
	return &fakeProber{respond: respond}
}

func (p *fakeProber) hold() {
	p.mu.Lock()
	p.gate = make(chan struct{})
	p.mu.Unlock()
}

func (p *fakeProber) release() {
	p.mu.Lock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
	p.mu.Unlock()
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProber) Probe(ctx context.Context, url string) (models.ProbeResult, error) {
	p.mu.Lock()
	p.calls++
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.ProbeResult{URL: url}, ctx.Err()
		}
	}
	return p.respond(url)
}
