package arbitration

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	POST(path string, body interface{}) error
	UserID(alias string) string
	Lookup(alias string) (string, error)
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers case and arbitration step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &arbitrationSteps{tc: tc}

	// Action steps
	ctx.Step(`^I assign case "([^"]*)" to "([^"]*)" with note "([^"]*)"$`, steps.assignCase)
	ctx.Step(`^I decide case "([^"]*)" as "([^"]*)" because "([^"]*)"$`, steps.decideCase)
	ctx.Step(`^I open case "([^"]*)"$`, steps.getCase)

	// Assertion steps
	ctx.Step(`^case "([^"]*)" should have status "([^"]*)"$`, steps.caseStatusShouldBe)
	ctx.Step(`^case "([^"]*)" should have resolution "([^"]*)"$`, steps.caseResolutionShouldBe)
	ctx.Step(`^case "([^"]*)" should be unassigned$`, steps.caseShouldBeUnassigned)
	ctx.Step(`^case "([^"]*)" should be assigned to "([^"]*)"$`, steps.caseShouldBeAssignedTo)
}

type arbitrationSteps struct {
	tc TestContext
}

func (s *arbitrationSteps) assignCase(ctx context.Context, caseAlias, arbitrator, note string) error {
	caseID, err := s.tc.Lookup(caseAlias)
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/cases/"+caseID+"/assign", map[string]interface{}{
		"arbitrator_id": s.tc.UserID(arbitrator),
		"note":          note,
	})
}

func (s *arbitrationSteps) decideCase(ctx context.Context, caseAlias, resolution, reasoning string) error {
	caseID, err := s.tc.Lookup(caseAlias)
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/cases/"+caseID+"/decision", map[string]interface{}{
		"resolution": resolution,
		"reasoning":  reasoning,
	})
}

func (s *arbitrationSteps) getCase(ctx context.Context, caseAlias string) error {
	caseID, err := s.tc.Lookup(caseAlias)
	if err != nil {
		return err
	}
	if err := s.tc.GET("/v1/cases/" + caseID); err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != 200 {
		return fmt.Errorf("expected status 200 reading case, got %d\nResponse: %s", got, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *arbitrationSteps) caseStatusShouldBe(ctx context.Context, caseAlias, expected string) error {
	return s.caseFieldShouldBe(ctx, caseAlias, "status", expected)
}

func (s *arbitrationSteps) caseResolutionShouldBe(ctx context.Context, caseAlias, expected string) error {
	return s.caseFieldShouldBe(ctx, caseAlias, "resolution", expected)
}

func (s *arbitrationSteps) caseShouldBeAssignedTo(ctx context.Context, caseAlias, arbitrator string) error {
	return s.caseFieldShouldBe(ctx, caseAlias, "assigned_arbitrator_id", s.tc.UserID(arbitrator))
}

func (s *arbitrationSteps) caseShouldBeUnassigned(ctx context.Context, caseAlias string) error {
	if err := s.getCase(ctx, caseAlias); err != nil {
		return err
	}
	if v, err := s.tc.GetResponseField("assigned_arbitrator_id"); err == nil {
		return fmt.Errorf("case %s is assigned to %v", caseAlias, v)
	}
	return nil
}

func (s *arbitrationSteps) caseFieldShouldBe(ctx context.Context, caseAlias, field, expected string) error {
	if err := s.getCase(ctx, caseAlias); err != nil {
		return err
	}
	actual, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(actual) != expected {
		return fmt.Errorf("case %s %s: expected %s but got %v", caseAlias, field, expected, actual)
	}
	return nil
}
