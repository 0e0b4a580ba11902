package gate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"

	id "fraudengine/pkg/domain"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	POST(path string, body interface{}) error
	POSTLedger(path string, body interface{}) error
	UserID(alias string) string
	Remember(alias, value string)
	Lookup(alias string) (string, error)
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers decision gate and reversal step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &gateSteps{tc: tc}

	// Transaction ledger setup
	ctx.Step(`^a settled transaction "([^"]*)" moved token "([^"]*)" worth "([^"]*)" from "([^"]*)" to "([^"]*)"$`, steps.seedTransaction)

	// Scoring steps
	ctx.Step(`^the risk scorer reports "([^"]*)" with score ([0-9.]+) and confidence ([0-9.]+)$`, steps.reportScore)
	ctx.Step(`^the gate action should be "([^"]*)"$`, steps.actionShouldBe)
	ctx.Step(`^the gate reason should be "([^"]*)"$`, steps.reasonShouldBe)
	ctx.Step(`^I save the opened case as "([^"]*)"$`, steps.saveCase)

	// Reversal steps
	ctx.Step(`^the reversal of "([^"]*)" replaced token "([^"]*)" with "([^"]*)"$`, steps.reversalReplaced)
	ctx.Step(`^I fetch the reversal record of "([^"]*)"$`, steps.fetchReversal)
}

type gateSteps struct {
	tc TestContext
}

func (s *gateSteps) seedTransaction(ctx context.Context, txAlias, tokenAlias, amount, payer, payee string) error {
	tokenID, err := s.tc.Lookup(tokenAlias)
	if err != nil {
		return err
	}
	txID := id.NewTransactionID().String()
	err = s.tc.POSTLedger("/v1/transactions", map[string]interface{}{
		"transaction_id": txID,
		"token_id":       tokenID,
		"payer_id":       s.tc.UserID(payer),
		"payee_id":       s.tc.UserID(payee),
		"amount":         amount,
	})
	if err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != 201 {
		return fmt.Errorf("transaction ledger refused seed: status %d\nResponse: %s", got, string(s.tc.GetLastResponseBody()))
	}
	s.tc.Remember(txAlias, txID)
	return nil
}

func (s *gateSteps) reportScore(ctx context.Context, txAlias, score, confidence string) error {
	txID, err := s.tc.Lookup(txAlias)
	if err != nil {
		return err
	}
	sc, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return err
	}
	conf, err := strconv.ParseFloat(confidence, 64)
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/transactions/scored", map[string]interface{}{
		"transaction_id":    txID,
		"score":             sc,
		"confidence":        conf,
		"evidence_snapshot": map[string]interface{}{"source": "e2e"},
	})
}

func (s *gateSteps) actionShouldBe(ctx context.Context, expected string) error {
	return s.fieldShouldBe("action", expected)
}

func (s *gateSteps) reasonShouldBe(ctx context.Context, expected string) error {
	return s.fieldShouldBe("reason", expected)
}

func (s *gateSteps) saveCase(ctx context.Context, alias string) error {
	caseID, err := s.tc.GetResponseField("case_id")
	if err != nil {
		return err
	}
	s.tc.Remember(alias, fmt.Sprint(caseID))
	return nil
}

func (s *gateSteps) fetchReversal(ctx context.Context, txAlias string) error {
	txID, err := s.tc.Lookup(txAlias)
	if err != nil {
		return err
	}
	return s.tc.GET("/v1/reversals/" + txID)
}

// reversalReplaced checks the record links the original token and binds the
// replacement to a new alias for later assertions.
func (s *gateSteps) reversalReplaced(ctx context.Context, txAlias, originalAlias, replacementAlias string) error {
	if err := s.fetchReversal(ctx, txAlias); err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != 200 {
		return fmt.Errorf("expected a reversal record, got status %d\nResponse: %s", got, string(s.tc.GetLastResponseBody()))
	}
	original, err := s.tc.Lookup(originalAlias)
	if err != nil {
		return err
	}
	if err := s.fieldShouldBe("original_token_id", original); err != nil {
		return err
	}
	replacement, err := s.tc.GetResponseField("replacement_token_id")
	if err != nil {
		return err
	}
	if fmt.Sprint(replacement) == original {
		return fmt.Errorf("replacement token equals the original token %s", original)
	}
	s.tc.Remember(replacementAlias, fmt.Sprint(replacement))
	return nil
}

func (s *gateSteps) fieldShouldBe(field, expected string) error {
	actual, err := s.tc.GetResponseField(field)
	if err != nil {
		return fmt.Errorf("%w\nResponse: %s", err, string(s.tc.GetLastResponseBody()))
	}
	if fmt.Sprint(actual) != expected {
		return fmt.Errorf("field %s: expected %s but got %v", field, expected, actual)
	}
	return nil
}
