package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	evidence "complyd/internal/evidence/models"
	"complyd/internal/policy/models"
	dErrors "complyd/pkg/domain-errors"
	"complyd/pkg/platform/httputil"
	pkgstrings "complyd/pkg/platform/strings"
	"complyd/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Discoverer

// SnapshotSource yields the current catalog snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*models.Snapshot, error)
}

// Discoverer previews which policies and rules evidence would be checked
// against.
type Discoverer interface {
	Discover(ctx context.Context, ref evidence.Ref, explicitIDs []string) (models.Discovery, error)
}

// Handler serves the read-only policy catalog and policy discovery.
type Handler struct {
	source     SnapshotSource
	discoverer Discoverer
	logger     *slog.Logger
}

func New(source SnapshotSource, discoverer Discoverer, logger *slog.Logger) *Handler {
	return &Handler{source: source, discoverer: discoverer, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/policies", h.HandleList)
	r.Post("/policies/discover", h.HandleDiscover)
}

type policyResponse struct {
	models.Descriptor
	RuleCount int `json:"rule_count"`
}

type catalogResponse struct {
	LoadedAt time.Time        `json:"loaded_at"`
	Policies []policyResponse `json:"policies"`
}

// HandleList returns every active policy with its rule count.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := h.source.Snapshot(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "policy catalog unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "policy catalog unavailable"))
		return
	}

	counts := make(map[string]int, len(snap.Policies))
	for _, rule := range snap.Rules {
		counts[string(rule.PolicyID)]++
	}
	resp := catalogResponse{LoadedAt: snap.LoadedAt, Policies: make([]policyResponse, len(snap.Policies))}
	for i, p := range snap.Policies {
		resp.Policies[i] = policyResponse{Descriptor: p, RuleCount: counts[string(p.PolicyID)]}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// DiscoverRequest has the shape of a validation submission.
type DiscoverRequest struct {
	EvidenceRef       evidence.Ref `json:"evidence_ref"`
	ExplicitPolicyIDs []string     `json:"explicit_policy_ids,omitempty"`
}

func (r *DiscoverRequest) Validate() error {
	r.EvidenceRef.URLs = pkgstrings.DedupeAndTrim(r.EvidenceRef.URLs)
	r.ExplicitPolicyIDs = pkgstrings.DedupeAndTrim(r.ExplicitPolicyIDs)
	if len(r.EvidenceRef.URLs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "evidence_ref.urls is required")
	}
	return nil
}

type discoverResponse struct {
	EvidenceTypes       []evidence.EvidenceType `json:"evidence_types"`
	AutoDetected        bool                    `json:"auto_detected"`
	Policies            []models.Descriptor     `json:"policies"`
	SkippedPolicyIDs    []string                `json:"skipped_policy_ids,omitempty"`
	ApplicableRuleCount int                     `json:"applicable_rule_count"`
	CrossReferences     []models.CrossReference `json:"cross_policy_references"`
	DiscoveredAt        time.Time               `json:"discovered_at"`
}

// HandleDiscover collects the evidence and resolves policies exactly as a run
// would, without starting one.
func (h *Handler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DiscoverRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	d, err := h.discoverer.Discover(ctx, req.EvidenceRef, req.ExplicitPolicyIDs)
	if err != nil {
		derr := discoveryError(err)
		switch derr.Code {
		case dErrors.CodeInternal, dErrors.CodeUnavailable:
			h.logger.ErrorContext(ctx, "policy discovery failed", "request_id", requestID, "error", err)
		default:
			h.logger.WarnContext(ctx, "policy discovery rejected", "request_id", requestID, "error", err)
		}
		httputil.WriteError(w, derr)
		return
	}

	h.logger.InfoContext(ctx, "policies discovered",
		"request_id", requestID,
		"policies", len(d.Policies),
		"auto_detected", d.AutoDetected,
	)
	resp := discoverResponse{
		EvidenceTypes:       d.EvidenceTypes,
		AutoDetected:        d.AutoDetected,
		Policies:            d.Policies,
		SkippedPolicyIDs:    d.Skipped,
		ApplicableRuleCount: d.RuleCount,
		CrossReferences:     d.CrossReferences,
		DiscoveredAt:        time.Now().UTC(),
	}
	if resp.CrossReferences == nil {
		resp.CrossReferences = []models.CrossReference{}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func discoveryError(err error) *dErrors.Error {
	switch {
	case errors.Is(err, models.ErrPolicyNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "no applicable policy found")
	case errors.Is(err, evidence.ErrNoEvidence), errors.Is(err, evidence.ErrEmptyEvidence):
		return dErrors.Wrap(err, dErrors.CodeValidation, "evidence could not be used")
	case errors.Is(err, evidence.ErrFetchExhausted):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "evidence could not be fetched")
	case errors.Is(err, models.ErrLookupFailed):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "policy catalog unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "policy discovery failed")
	}
}
