package main

import (
	"errors"
	"net/http"

	"github.com/deep-rent/jwtverify/internal/router"
	"github.com/deep-rent/jwtverify/jwterr"
	"github.com/deep-rent/jwtverify/verifier"
)

const (
	ReasonUnknownProvider = "unknown_provider"
	ReasonInvalidToken    = "invalid_token"
	ReasonThrottled       = "throttled"
	ReasonUpstream        = "upstream_unavailable"
)

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Header  map[string]any `json:"header"`
	Payload map[string]any `json:"payload"`
}

// verifyHandler returns a route handler for one provider's verifier. v may
// be nil, meaning that provider has no trust-store configuration; every
// request then 404s, since there is nothing it could ever accept.
func verifyHandler(v *verifier.Verifier) router.HandlerFunc {
	return func(e *router.Exchange) error {
		if v == nil {
			return &router.Error{
				Status:      http.StatusNotFound,
				Reason:      ReasonUnknownProvider,
				Description: "no trust-store configuration for this provider",
			}
		}

		var req verifyRequest
		if rerr := e.BindJSON(&req); rerr != nil {
			return rerr
		}
		if req.Token == "" {
			return &router.Error{
				Status:      http.StatusBadRequest,
				Reason:      router.ReasonEmptyBody,
				Description: "missing \"token\"",
			}
		}

		result, err := v.Verify(e.Context(), req.Token)
		if err != nil {
			return toRouterError(err)
		}
		return e.JSON(http.StatusOK, verifyResponse{Header: result.Header, Payload: result.Payload})
	}
}

// toRouterError maps the verifier's typed error taxonomy to an HTTP status:
// caller misconfiguration and structural/claim/signature failures are
// client errors, fetch/throttle conditions are server-side and retriable.
func toRouterError(err error) *router.Error {
	switch {
	case errors.Is(err, jwterr.ErrParameterValidation):
		return &router.Error{Status: http.StatusBadRequest, Reason: ReasonInvalidToken, Description: err.Error()}
	case errors.Is(err, jwterr.ErrWaitPeriodNotYetEnded):
		return &router.Error{Status: http.StatusTooManyRequests, Reason: ReasonThrottled, Description: err.Error()}
	case errors.Is(err, jwterr.ErrFetch), errors.Is(err, jwterr.ErrJwksNotAvailableInCache):
		return &router.Error{Status: http.StatusServiceUnavailable, Reason: ReasonUpstream, Description: err.Error()}
	default:
		return &router.Error{Status: http.StatusUnauthorized, Reason: ReasonInvalidToken, Description: err.Error()}
	}
}

func healthHandler(e *router.Exchange) error {
	return e.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
