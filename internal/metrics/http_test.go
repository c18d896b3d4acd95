package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		handler    http.HandlerFunc
		wantPath   string
		wantStatus string
	}{
		{
			name:   "implicit 200",
			method: http.MethodGet,
			path:   "/healthz",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("ok"))
			},
			wantPath:   "/healthz",
			wantStatus: "200",
		},
		{
			name:   "no body written",
			method: http.MethodDelete,
			path:   "/v1/runs/5f0c2b9e",
			handler: func(w http.ResponseWriter, r *http.Request) {
			},
			wantPath:   "/v1/runs/{id}",
			wantStatus: "200",
		},
		{
			name:   "first status wins",
			method: http.MethodPost,
			path:   "/v1/qrels",
			body:   `{"queries":[]}`,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.WriteHeader(http.StatusOK)
			},
			wantPath:   "/v1/qrels",
			wantStatus: "422",
		},
		{
			name:   "unknown path",
			method: http.MethodGet,
			path:   "/wp-admin/setup.php",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantPath:   "other",
			wantStatus: "404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			HTTPMiddleware(m, tt.handler).ServeHTTP(httptest.NewRecorder(), req)

			if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(tt.method, tt.wantPath, tt.wantStatus)); got != 1 {
				t.Errorf("http_requests_total{%s,%s,%s} = %v, want 1", tt.method, tt.wantPath, tt.wantStatus, got)
			}
			if got := testutil.ToFloat64(m.HTTPRequestsInFlight); got != 0 {
				t.Errorf("in-flight = %v after request", got)
			}
		})
	}
}

func TestHTTPMiddleware_ResponseController(t *testing.T) {
	m := New()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush() through middleware: %v", err)
		}
	})
	rec := httptest.NewRecorder()
	HTTPMiddleware(m, handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	if !rec.Flushed {
		t.Error("recorder was not flushed")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/healthz":                     "/healthz",
		"/metrics":                     "/metrics",
		"/v1/runs":                     "/v1/runs",
		"/v1/runs/5f0c2b9e":            "/v1/runs/{id}",
		"/v1/runs/":                    "other",
		"/v1/runs/a/b":                 "other",
		"/v1/datasets/cranfield":       "/v1/datasets/{name}",
		"/v1/datasets/cranfield/qrels": "other",
		"/v1/experiments":              "/v1/experiments",
		"/":                            "other",
		"/wp-admin/setup.php":          "other",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{
		200: "200",
		404: "404",
		422: "422",
		429: "429",
		503: "503",
		101: "1xx",
		201: "2xx",
		302: "3xx",
		418: "4xx",
		599: "5xx",
		700: "700",
	}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

func BenchmarkNormalizePath(b *testing.B) {
	paths := []string{"/v1/runs/5f0c2b9e", "/v1/datasets/cranfield", "/healthz", "/v1/evaluate"}
	for i := 0; i < b.N; i++ {
		normalizePath(paths[i%len(paths)])
	}
}
