//go:generate mockgen -source=source.go -destination=mocks/mocks.go -package=mocks Source

package ports

import (
	"context"

	"complyd/internal/evidence/models"
)

// Source fetches raw evidence. Errors should be *models.FetchError so the
// collector can tell retryable failures from terminal ones.
type Source interface {
	Fetch(ctx context.Context, url string) (models.Raw, error)
}
