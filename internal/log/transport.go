package log

import (
	"log/slog"
	"net/http"
	"time"
)

type transport struct {
	wrapped http.RoundTripper
	log     *slog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.log.Debug("Sending request", "method", req.Method, "url", req.URL)

	res, err := t.wrapped.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		t.log.Error("Request failed", "error", err, "duration", duration)
		return nil, err
	}

	t.log.Debug("Received response", "status", res.StatusCode, "duration", duration)
	return res, nil
}

var _ http.RoundTripper = (*transport)(nil)

// NewTransport wraps a base transport and logs the start and end of each
// request, along with its duration. If the base transport is nil, it falls
// back to http.DefaultTransport. If the provided logger is nil, it falls
// back to slog.Default(). The resulting transport does not modify the
// request or response in any way.
func NewTransport(t http.RoundTripper, log *slog.Logger) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	if log == nil {
		log = slog.Default()
	}
	return &transport{wrapped: t, log: log}
}
