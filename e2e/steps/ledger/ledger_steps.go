package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	POST(path string, body interface{}) error
	UserID(alias string) string
	Remember(alias, value string)
	Lookup(alias string) (string, error)
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers token ledger step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ledgerSteps{tc: tc}

	// Setup steps
	ctx.Step(`^"([^"]*)" holds a token "([^"]*)" worth "([^"]*)" ([A-Z]{3}-CBDC)$`, steps.issueToken)
	ctx.Step(`^token "([^"]*)" has been invalidated$`, steps.invalidateToken)

	// Action steps
	ctx.Step(`^I move tokens "([^"]*)" to "([^"]*)"$`, steps.bulkUpdate)
	ctx.Step(`^I freeze token "([^"]*)"$`, steps.freezeToken)
	ctx.Step(`^I verify the audit chain of token "([^"]*)"$`, steps.verifyChain)

	// Assertion steps
	ctx.Step(`^token "([^"]*)" should be "([^"]*)"$`, steps.tokenStatusShouldBe)
	ctx.Step(`^token "([^"]*)" should be owned by "([^"]*)"$`, steps.tokenOwnerShouldBe)
}

type ledgerSteps struct {
	tc TestContext
}

func (s *ledgerSteps) issueToken(ctx context.Context, owner, alias, denomination, cbdcType string) error {
	err := s.tc.POST("/v1/tokens", map[string]interface{}{
		"owner_id":     s.tc.UserID(owner),
		"cbdc_type":    cbdcType,
		"denomination": denomination,
		"quantity":     1,
		"reason":       "e2e issuance",
	})
	if err != nil {
		return err
	}
	if err := s.expectStatus(201); err != nil {
		return err
	}
	tokenID, err := s.tc.GetResponseField("tokens.0.id")
	if err != nil {
		return err
	}
	s.tc.Remember(alias, fmt.Sprint(tokenID))
	return nil
}

// invalidateToken walks the token through the only path to invalid:
// active -> frozen -> disputed -> invalid.
func (s *ledgerSteps) invalidateToken(ctx context.Context, alias string) error {
	if err := s.freezeToken(ctx, alias); err != nil {
		return err
	}
	if err := s.expectStatus(200); err != nil {
		return err
	}
	for _, target := range []string{"disputed", "invalid"} {
		if err := s.bulkUpdate(ctx, alias, target); err != nil {
			return err
		}
		if err := s.expectStatus(200); err != nil {
			return err
		}
	}
	return nil
}

func (s *ledgerSteps) freezeToken(ctx context.Context, alias string) error {
	tokenID, err := s.tc.Lookup(alias)
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/tokens/"+tokenID+"/freeze", map[string]interface{}{"reason": "e2e"})
}

// bulkUpdate takes a comma separated alias list such as "t1,t2,t3".
func (s *ledgerSteps) bulkUpdate(ctx context.Context, aliases, target string) error {
	ids, err := s.resolveAll(aliases)
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/tokens/bulk-status", map[string]interface{}{
		"token_ids":     ids,
		"target_status": target,
		"reason":        "e2e bulk update",
	})
}

func (s *ledgerSteps) verifyChain(ctx context.Context, alias string) error {
	tokenID, err := s.tc.Lookup(alias)
	if err != nil {
		return err
	}
	return s.tc.GET("/v1/tokens/" + tokenID + "/audit/verify")
}

func (s *ledgerSteps) tokenStatusShouldBe(ctx context.Context, alias, expected string) error {
	return s.tokenFieldShouldBe(alias, "status", expected)
}

func (s *ledgerSteps) tokenOwnerShouldBe(ctx context.Context, alias, owner string) error {
	return s.tokenFieldShouldBe(alias, "owner_id", s.tc.UserID(owner))
}

func (s *ledgerSteps) tokenFieldShouldBe(alias, field, expected string) error {
	tokenID, err := s.tc.Lookup(alias)
	if err != nil {
		return err
	}
	if err := s.tc.GET("/v1/tokens/" + tokenID); err != nil {
		return err
	}
	if err := s.expectStatus(200); err != nil {
		return err
	}
	actual, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(actual) != expected {
		return fmt.Errorf("token %s %s: expected %s but got %v", alias, field, expected, actual)
	}
	return nil
}

func (s *ledgerSteps) resolveAll(aliases string) ([]string, error) {
	var ids []string
	for _, alias := range splitList(aliases) {
		v, err := s.tc.Lookup(alias)
		if err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	return ids, nil
}

func (s *ledgerSteps) expectStatus(code int) error {
	if got := s.tc.GetLastResponseStatus(); got != code {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s", code, got, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
