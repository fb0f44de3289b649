package service

import (
	"context"
	"fmt"

	evidence "complyd/internal/evidence/models"
	evidencesvc "complyd/internal/evidence/service"
	"complyd/internal/policy/models"
)

// EvidenceCollector fetches and normalizes evidence. The evidence
// service's Collector implements it.
type EvidenceCollector interface {
	Collect(ctx context.Context, ref evidence.Ref) ([]*evidence.Item, error)
}

// Discovery previews policy resolution for evidence: it runs the same
// collection and resolution a validation run does and stops before any rule is
// evaluated. Nothing is audited.
type Discovery struct {
	collector EvidenceCollector
	resolver  *Resolver
}

func NewDiscovery(collector EvidenceCollector, resolver *Resolver) *Discovery {
	return &Discovery{collector: collector, resolver: resolver}
}

func (d *Discovery) Discover(ctx context.Context, ref evidence.Ref, explicitIDs []string) (models.Discovery, error) {
	items, err := d.collector.Collect(ctx, ref)
	if err != nil {
		return models.Discovery{}, fmt.Errorf("collect evidence: %w", err)
	}
	summary := evidencesvc.Summarize(items)

	res, err := d.resolver.Resolve(ctx, summary, explicitIDs)
	if err != nil {
		return models.Discovery{Skipped: res.Skipped}, err
	}
	rules, err := d.resolver.LoadRules(ctx, res)
	if err != nil {
		return models.Discovery{}, err
	}

	return models.Discovery{
		EvidenceTypes:   summary.Types,
		AutoDetected:    res.AutoDetected,
		Policies:        res.Policies,
		Skipped:         res.Skipped,
		RuleCount:       rules.Len(),
		CrossReferences: CrossReferences(res.Policies),
	}, nil
}
