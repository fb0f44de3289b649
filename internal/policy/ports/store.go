//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

package ports

import (
	"context"

	"complyd/internal/policy/models"
	id "complyd/pkg/domain"
)

// Store is the policy store query contract.
type Store interface {
	QueryPolicies(ctx context.Context, criteria models.Criteria) ([]models.Descriptor, error)
	// QueryRules returns the rules of the given policies, dependency edges
	// included.
	QueryRules(ctx context.Context, policyIDs []id.PolicyID) ([]models.Rule, error)
}
