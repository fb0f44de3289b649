//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Service

package ports

import (
	"context"
	"encoding/json"

	"complyd/internal/reasoning/models"
)

// Service is the external reasoning capability. It returns the raw verdict
// document; validation happens in the evaluator.
type Service interface {
	Evaluate(ctx context.Context, payload models.Payload) (json.RawMessage, error)
}
