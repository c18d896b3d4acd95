package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResponseMeta is attached to every successful /v1 JSON response.
type ResponseMeta struct {
	RequestID string `json:"request_id"`
	LatencyMS int64  `json:"latency_ms"`
	Timestamp string `json:"timestamp"`
}

// WrappedResponse wraps API responses with data and metadata.
type WrappedResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// bufferedWriter holds the handler's response until it can be wrapped.
type bufferedWriter struct {
	http.ResponseWriter
	body       bytes.Buffer
	statusCode int
	wroteBody  bool
}

func (bw *bufferedWriter) WriteHeader(code int) {
	bw.statusCode = code
}

func (bw *bufferedWriter) Write(b []byte) (int, error) {
	bw.wroteBody = true
	return bw.body.Write(b)
}

// ResponseWrapperMiddleware wraps successful /v1 JSON responses as
// {"data": ..., "meta": {...}}. Errors and non-JSON bodies pass through.
func ResponseWrapperMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		bw := &bufferedWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(bw, r)

		var data any
		if !bw.wroteBody || bw.statusCode >= 400 || json.Unmarshal(bw.body.Bytes(), &data) != nil {
			w.WriteHeader(bw.statusCode)
			w.Write(bw.body.Bytes())
			return
		}

		requestID := w.Header().Get("X-Request-ID")
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(bw.statusCode)
		json.NewEncoder(w).Encode(WrappedResponse{
			Data: data,
			Meta: ResponseMeta{
				RequestID: requestID,
				LatencyMS: time.Since(start).Milliseconds(),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		})
	})
}

// GenerateRequestID returns a short random request ID.
func GenerateRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
