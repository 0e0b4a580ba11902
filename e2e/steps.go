package e2e

import (
	"github.com/cucumber/godog"

	"fraudengine/e2e/steps/arbitration"
	"fraudengine/e2e/steps/common"
	"fraudengine/e2e/steps/gate"
	"fraudengine/e2e/steps/ledger"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	ledger.RegisterSteps(ctx, tc)
	gate.RegisterSteps(ctx, tc)
	arbitration.RegisterSteps(ctx, tc)
}
