package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/sumup/agentpay/ap2"
)

// DomainAuthorizer implements [ap2.DomainAuthorizer] over the agent_domains
// table. An agent with no rows at all is unknown.
type DomainAuthorizer struct {
	db DB
}

var _ ap2.DomainAuthorizer = (*DomainAuthorizer)(nil)

// NewDomainAuthorizer builds an authorizer over db.
func NewDomainAuthorizer(db DB) *DomainAuthorizer {
	return &DomainAuthorizer{db: db}
}

// IsAuthorized implements [ap2.DomainAuthorizer].
func (a *DomainAuthorizer) IsAuthorized(ctx context.Context, agentID, domain string) (bool, error) {
	var authorized *bool
	err := a.db.QueryRow(ctx, `
SELECT bool_or(domain = $2) FROM agent_domains WHERE agent_id = $1
`, agentID, normalizeDomain(domain)).Scan(&authorized)
	if err != nil {
		return false, fmt.Errorf("pgstore: lookup agent domains: %w", err)
	}
	if authorized == nil {
		return false, ap2.ErrUnknownAgent
	}
	return *authorized, nil
}

// Grant records that agentID may transact with domain.
func (a *DomainAuthorizer) Grant(ctx context.Context, agentID, domain string) error {
	_, err := a.db.Exec(ctx, `
INSERT INTO agent_domains (agent_id, domain) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`, agentID, normalizeDomain(domain))
	if err != nil {
		return fmt.Errorf("pgstore: grant agent domain: %w", err)
	}
	return nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
