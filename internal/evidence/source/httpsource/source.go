// Package httpsource fetches evidence over plain HTTP(S).
package httpsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"complyd/internal/evidence/models"
)

const maxBodyBytes = 10 << 20

// Source is a generic HTTP GET evidence source.
type Source struct {
	client    *http.Client
	userAgent string
}

// New builds a Source. A nil client gets a pooled default.
func New(client *http.Client, userAgent string) *Source {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if userAgent == "" {
		userAgent = "complyd/1.0"
	}
	return &Source{client: client, userAgent: userAgent}
}

func (s *Source) Fetch(ctx context.Context, url string) (models.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Raw{}, models.NewFetchError(models.ErrorBadData, url, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Raw{}, classifyTransport(url, err)
	}
	defer resp.Body.Close()

	if cat, failed := classifyStatus(resp.StatusCode); failed {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return models.Raw{}, models.NewFetchError(cat, url, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Raw{}, classifyTransport(url, err)
	}
	return models.Raw{Content: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func classifyStatus(code int) (models.ErrorCategory, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusTooManyRequests:
		return models.ErrorRateLimited, true
	case code == http.StatusNotFound || code == http.StatusGone:
		return models.ErrorNotFound, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return models.ErrorForbidden, true
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return models.ErrorTimeout, true
	case code >= 500:
		return models.ErrorUpstream, true
	default:
		return models.ErrorBadData, true
	}
}

func classifyTransport(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewFetchError(models.ErrorTimeout, url, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewFetchError(models.ErrorTimeout, url, err)
	}
	return models.NewFetchError(models.ErrorNetwork, url, err)
}
