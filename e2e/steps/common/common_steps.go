package common

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
	ActAs(alias string)
	ClearCaller()
	Lookup(alias string) (string, error)
	GetResponseField(field string) (interface{}, error)
	ResponseContains(field string) bool
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers common step definitions used across features
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	// Background steps
	ctx.Step(`^the fraud engine is running$`, steps.engineIsRunning)
	ctx.Step(`^I am "([^"]*)"$`, steps.actAs)
	ctx.Step(`^I am not authenticated$`, steps.notAuthenticated)

	// Generic request steps
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^I POST to "([^"]*)" with empty body$`, steps.postWithEmptyBody)

	// Response assertion steps
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.responseShouldContain)
	ctx.Step(`^the response should mention "([^"]*)"$`, steps.responseShouldMention)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.responseFieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should be (true|false)$`, steps.responseFieldShouldBeBool)
	ctx.Step(`^log "([^"]*)"$`, steps.logMessage)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) engineIsRunning(ctx context.Context) error {
	if err := s.tc.GET("/health/live"); err != nil {
		return fmt.Errorf("fraud engine is not reachable: %w", err)
	}
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return fmt.Errorf("liveness probe answered %d", status)
	}
	return nil
}

func (s *commonSteps) actAs(ctx context.Context, alias string) error {
	s.tc.ActAs(alias)
	return nil
}

func (s *commonSteps) notAuthenticated(ctx context.Context) error {
	s.tc.ClearCaller()
	return nil
}

func (s *commonSteps) get(ctx context.Context, path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) postWithEmptyBody(ctx context.Context, path string) error {
	return s.tc.POST(path, map[string]interface{}{})
}

func (s *commonSteps) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	actualStatus := s.tc.GetLastResponseStatus()
	if actualStatus != expectedStatus {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s", expectedStatus, actualStatus, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *commonSteps) responseShouldContain(ctx context.Context, field string) error {
	if !s.tc.ResponseContains(field) {
		return fmt.Errorf("response does not contain field: %s\nResponse: %s", field, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

// responseShouldMention checks the body contains the ID bound to alias.
func (s *commonSteps) responseShouldMention(ctx context.Context, alias string) error {
	value, err := s.tc.Lookup(alias)
	if err != nil {
		return err
	}
	if !strings.Contains(string(s.tc.GetLastResponseBody()), value) {
		return fmt.Errorf("response does not mention %s (%s)\nResponse: %s", alias, value, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *commonSteps) responseFieldShouldEqual(ctx context.Context, field, expectedValue string) error {
	actualValue, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}

func (s *commonSteps) responseFieldShouldBeBool(ctx context.Context, field, expected string) error {
	return s.responseFieldShouldEqual(ctx, field, expected)
}

func (s *commonSteps) logMessage(ctx context.Context, message string) error {
	fmt.Println(message)
	return nil
}
