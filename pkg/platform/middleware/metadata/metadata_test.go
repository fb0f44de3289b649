package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"complyd/pkg/requestcontext"

	"github.com/stretchr/testify/assert"
)

func TestRequestMetadata(t *testing.T) {
	var gotID, gotIP string
	h := RequestMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.RequestID(r.Context())
		gotIP = requestcontext.ClientIP(r.Context())
	}))

	t.Run("inbound request id is propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-123")
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		assert.Equal(t, "req-123", gotID)
		assert.Equal(t, "10.0.0.1", gotIP)
		assert.Equal(t, "req-123", rr.Header().Get(HeaderRequestID))
	})

	t.Run("missing request id is generated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.5:5555"
		rr := httptest.NewRecorder()

		h.ServeHTTP(rr, req)

		assert.NotEmpty(t, gotID)
		assert.Equal(t, "192.168.1.5", gotIP)
		assert.Equal(t, gotID, rr.Header().Get(HeaderRequestID))
	})
}
