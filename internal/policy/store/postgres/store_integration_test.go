//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"complyd/internal/policy/models"
	id "complyd/pkg/domain"
	"complyd/pkg/testutil/containers"
)

type PostgresPolicySuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Store
	ctx   context.Context
}

func TestPostgresPolicySuite(t *testing.T) {
	suite.Run(t, new(PostgresPolicySuite))
}

func (s *PostgresPolicySuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = New(s.pg.DB)
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *PostgresPolicySuite) SetupTest() {
	s.Require().NoError(s.store.Sync(s.ctx,
		[]models.Descriptor{
			{PolicyID: "POL-101", Name: "Tests", Category: "test_execution", Status: models.StatusActive, Keywords: []string{"coverage"}},
			{PolicyID: "POL-201", Name: "Vulns", Category: "security_compliance", Status: models.StatusActive},
			{PolicyID: "POL-900", Name: "Old", Category: "test_execution", Status: models.StatusRetired},
		},
		[]models.Rule{
			{RuleID: "R-101-1", PolicyID: "POL-101", Severity: models.SeverityMandatory},
			{RuleID: "R-101-2", PolicyID: "POL-101", Severity: models.SeverityOptional, ParentRuleIDs: []id.RuleID{"R-101-1"}},
			{RuleID: "R-201-1", PolicyID: "POL-201", Severity: models.SeverityMandatory},
		},
	))
}

// =============================================================================
// Policy queries
// =============================================================================

func (s *PostgresPolicySuite) TestQueryActivePolicies() {
	got, err := s.store.QueryPolicies(s.ctx, models.Criteria{Status: models.StatusActive})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(id.PolicyID("POL-101"), got[0].PolicyID)
	s.Equal([]string{"coverage"}, got[0].Keywords)
}

func (s *PostgresPolicySuite) TestQueryByCategoryAndID() {
	got, err := s.store.QueryPolicies(s.ctx, models.Criteria{Categories: []string{"test_execution"}})
	s.Require().NoError(err)
	s.Len(got, 2)

	got, err = s.store.QueryPolicies(s.ctx, models.Criteria{PolicyIDs: []id.PolicyID{"POL-201"}})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("security_compliance", got[0].Category)
}

// =============================================================================
// Rule queries
// =============================================================================

func (s *PostgresPolicySuite) TestQueryRulesCarriesDependencies() {
	got, err := s.store.QueryRules(s.ctx, []id.PolicyID{"POL-101"})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Empty(got[0].ParentRuleIDs)
	s.Equal([]id.RuleID{"R-101-1"}, got[1].ParentRuleIDs)

	rs, err := models.NewRuleSet(got)
	s.Require().NoError(err)
	s.Equal(2, rs.Len())
}

func (s *PostgresPolicySuite) TestSyncReplacesCatalog() {
	s.Require().NoError(s.store.Sync(s.ctx, []models.Descriptor{
		{PolicyID: "POL-301", Name: "Release", Category: "deployment_validation", Status: models.StatusActive},
	}, nil))

	got, err := s.store.QueryPolicies(s.ctx, models.Criteria{})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(id.PolicyID("POL-301"), got[0].PolicyID)

	rules, err := s.store.QueryRules(s.ctx, []id.PolicyID{"POL-101"})
	s.Require().NoError(err)
	s.Empty(rules)
}
