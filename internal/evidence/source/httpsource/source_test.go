package httpsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complyd/internal/evidence/models"
)

func TestSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "complyd-test", r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<p>hello</p>"))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	src := New(srv.Client(), "complyd-test")
	ctx := context.Background()

	t.Run("success returns body and content type", func(t *testing.T) {
		raw, err := src.Fetch(ctx, srv.URL+"/ok")
		require.NoError(t, err)
		assert.Equal(t, "<p>hello</p>", string(raw.Content))
		assert.Contains(t, raw.ContentType, "text/html")
	})

	tests := []struct {
		path      string
		category  models.ErrorCategory
		retryable bool
	}{
		{"/missing", models.ErrorNotFound, false},
		{"/forbidden", models.ErrorForbidden, false},
		{"/busy", models.ErrorRateLimited, true},
		{"/broken", models.ErrorUpstream, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := src.Fetch(ctx, srv.URL+tt.path)
			var fe *models.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.category, fe.Category)
			assert.Equal(t, tt.retryable, models.IsRetryable(err))
		})
	}

	t.Run("connection refused is retryable network error", func(t *testing.T) {
		_, err := src.Fetch(ctx, "http://127.0.0.1:1/nothing")
		var fe *models.FetchError
		require.ErrorAs(t, err, &fe)
		assert.True(t, fe.Retryable)
	})
}
