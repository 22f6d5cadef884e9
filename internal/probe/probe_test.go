package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinewatch/internal/models"
)

// newProbeServer mimics the endpoints used by connectivity checks:
// /nocontent answers 204 and /echo?status=N answers N with a body for GET.
func newProbeServer(t *testing.T) *httptest.Server {
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
		if status >= 300 && status < 400 && status != http.StatusNotModified {
			w.Header().Set("Location", "/login")
		}
		w.WriteHeader(status)
		if r.Method == http.MethodGet && status != http.StatusNotModified {
			_, _ = w.Write([]byte("Echo"))
		}
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>sign in</html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProberClassification(t *testing.T) {
	srv := newProbeServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		want       Classification
	}{
		{name: "204", path: "/nocontent", wantStatus: 204, want: Validated},
		{name: "200 without content", method: http.MethodPost, path: "/echo?status=200", wantStatus: 200, want: Validated},
		{name: "200 with content", path: "/echo?status=200", wantStatus: 200, want: CaptivePortal},
		{name: "304", path: "/echo?status=304", wantStatus: 304, want: CaptivePortal},
		{name: "302 is not followed", path: "/echo?status=302", wantStatus: 302, want: CaptivePortal},
		{name: "500", path: "/echo?status=500", wantStatus: 500, want: Inconclusive},
		{name: "404", path: "/echo?status=404", wantStatus: 404, want: Inconclusive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewHTTPProber(Options{Method: tt.method, Timeout: 2 * time.Second}, nil)
			result, err := p.Probe(context.Background(), srv.URL+tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.StatusCode)
			assert.False(t, result.CheckedAt.IsZero())
			assert.Equal(t, tt.want, Classify(result))
		})
	}
}

func TestHTTPProberTransportFailures(t *testing.T) {
	p := NewHTTPProber(Options{Timeout: 500 * time.Millisecond}, nil)

	_, err := p.Probe(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, err = p.Probe(context.Background(), "http://127.0.0.1:1/generate_204")
	assert.Error(t, err)

	_, err = p.Probe(context.Background(), "::not a url::")
	assert.Error(t, err)
}

func TestHTTPProberHonoursContext(t *testing.T) {
	srv := newProbeServer(t)
	p := NewHTTPProber(Options{RatePerSecond: 0.001, Burst: 1}, nil)

	_, err := p.Probe(context.Background(), srv.URL+"/nocontent")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Probe(ctx, srv.URL+"/nocontent")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		result models.ProbeResult
		want   Classification
	}{
		{models.ProbeResult{StatusCode: 204}, Validated},
		{models.ProbeResult{StatusCode: 204, ContentLength: 12}, Validated},
		{models.ProbeResult{StatusCode: 200}, Validated},
		{models.ProbeResult{StatusCode: 200, ContentLength: 1}, CaptivePortal},
		{models.ProbeResult{StatusCode: 301}, CaptivePortal},
		{models.ProbeResult{StatusCode: 399}, CaptivePortal},
		{models.ProbeResult{StatusCode: 400}, Inconclusive},
		{models.ProbeResult{StatusCode: 503}, Inconclusive},
		{models.ProbeResult{StatusCode: 0}, Inconclusive},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.result.StatusCode), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.result))
		})
	}
}
