package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeFormat, "qrels line 3 has 2 tokens"),
			want: "FORMAT_ERROR: qrels line 3 has 2 tokens",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
}

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeFormat, http.StatusBadRequest},
		{CodeConfiguration, http.StatusUnprocessableEntity},
		{CodeNotFound, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeEngineError, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
		{CodeStoreError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test")
			if status := err.HTTPStatus(); status != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", status, tt.status)
			}
		})
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := New(CodeFormat, "bad line").
		WithDetail("line", "3").
		WithDetail("tokens", "2")

	if err.Details["line"] != "3" {
		t.Errorf("Details[line] = %s, want 3", err.Details["line"])
	}
	if err.Details["tokens"] != "2" {
		t.Errorf("Details[tokens] = %s, want 2", err.Details["tokens"])
	}
}

func TestAppError_WithDetailsMerges(t *testing.T) {
	err := FormatError("bad qrels line").
		WithDetail("line", "3").
		WithDetails(map[string]string{"tokens": "2", "line": "4"})

	if err.Details["line"] != "4" || err.Details["tokens"] != "2" || len(err.Details) != 2 {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestCodeOf_WrappedChain(t *testing.T) {
	inner := ConfigurationError("empty vocabulary")
	wrapped := fmt.Errorf("synthesizing qrels: %w", inner)

	if got := CodeOf(wrapped); got != CodeConfiguration {
		t.Errorf("CodeOf() = %q, want %q", got, CodeConfiguration)
	}
	if !IsConfiguration(wrapped) {
		t.Error("IsConfiguration(wrapped) = false, want true")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf(plain error) should be empty")
	}
}

func TestIsHelpers(t *testing.T) {
	if !IsNotFound(NotFoundError("run")) {
		t.Error("IsNotFound(NotFoundError) = false, want true")
	}
	if IsNotFound(ValidationError("x")) {
		t.Error("IsNotFound(ValidationError) = true, want false")
	}
	if !IsValidation(ValidationError("x")) {
		t.Error("IsValidation(ValidationError) = false, want true")
	}
	if !IsFormat(FormatError("x")) {
		t.Error("IsFormat(FormatError) = false, want true")
	}
	if IsFormat(errors.New("standard error")) {
		t.Error("IsFormat(standard error) = true, want false")
	}
}

func TestWriteError(t *testing.T) {
	t.Run("app error keeps code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, fmt.Errorf("loading: %w", FormatError("bad qrels")))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Code != CodeFormat {
			t.Errorf("code = %s, want %s", resp.Code, CodeFormat)
		}
	})

	t.Run("plain error is sanitized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("dial tcp 10.0.0.3:6379: refused"))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Error != "internal server error" {
			t.Errorf("error = %q, want sanitized message", resp.Error)
		}
	})
}
