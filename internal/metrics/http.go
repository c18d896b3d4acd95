package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPMiddleware records count, latency and request size per route, and the
// number of requests in flight.
func HTTPMiddleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		sw := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		m.RecordHTTP(r.Method, r.URL.Path, sw.Status(), time.Since(start).Seconds(), max(r.ContentLength, 0))
	})
}

// statusRecorder remembers the first status written.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Status returns the written status, 200 if the handler wrote nothing.
func (w *statusRecorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// routes are the API paths recorded verbatim.
var routes = map[string]bool{
	"/healthz":        true,
	"/metrics":        true,
	"/v1/qrels":       true,
	"/v1/evaluate":    true,
	"/v1/cost":        true,
	"/v1/runs":        true,
	"/v1/datasets":    true,
	"/v1/experiments": true,
}

// paramRoutes map a collection prefix to the label used for its items.
var paramRoutes = map[string]string{
	"/v1/runs/":     "/v1/runs/{id}",
	"/v1/datasets/": "/v1/datasets/{name}",
}

// normalizePath maps a request path to a bounded route label. Anything
// that is not an API route becomes "other".
func normalizePath(path string) string {
	if routes[path] {
		return path
	}
	for prefix, label := range paramRoutes {
		rest, ok := strings.CutPrefix(path, prefix)
		if ok && rest != "" && !strings.Contains(rest, "/") {
			return label
		}
	}
	return "other"
}

// statusLabel keeps the codes the API returns and folds the rest into
// their class.
func statusLabel(code int) string {
	switch code {
	case 200, 400, 404, 405, 413, 422, 429, 500, 502, 503, 504:
		return strconv.Itoa(code)
	}
	if code >= 100 && code < 600 {
		return strconv.Itoa(code/100) + "xx"
	}
	return strconv.Itoa(code)
}
