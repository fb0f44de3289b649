package testutil

import (
	"net/http"

	"complyd/pkg/requestcontext"
)

// WithRequestID adds a request ID to the request context, as the metadata
// middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithClientIP pins the resolved client address.
func WithClientIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
}
