//go:build e2e

package e2e

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
)

var opts = godog.Options{
	Output: colors.Colored(os.Stdout),
	Format: "pretty",
	Paths:  []string{"features"},
	Tags:   os.Getenv("E2E_TAGS"),
	Strict: true,
}

func init() {
	godog.BindCommandLineFlags("godog.", &opts)
}

// TestFeatures runs the feature files against a live engine (BASE_URL) wired
// to the mock transaction ledger (LEDGER_URL) and started with
// FRAUD_POLICY_FILE=e2e/testdata/policy.yaml.
func TestFeatures(t *testing.T) {
	flag.Parse()
	opts.TestingT = t

	suite := godog.TestSuite{
		Name:                 "fraudengine",
		TestSuiteInitializer: InitializeSuite,
		ScenarioInitializer:  InitializeScenario,
		Options:              &opts,
	}
	if status := suite.Run(); status != 0 {
		t.Fatalf("feature run exited with status %d", status)
	}
}

// InitializeSuite waits for the engine to report ready so the first
// scenario does not race its startup.
func InitializeSuite(sc *godog.TestSuiteContext) {
	sc.BeforeSuite(func() {
		base := NewTestContext().BaseURL
		if err := waitReady(base+"/health/ready", 30*time.Second); err != nil {
			panic(fmt.Sprintf("engine at %s never became ready: %v", base, err))
		}
	})
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := NewTestContext()

	// Aliases and the caller never leak between scenarios.
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*tc = *NewTestContext()
		return ctx, nil
	})

	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		if err != nil {
			fmt.Printf("scenario %q failed as %s (HTTP %d)\n%s\n",
				scenario.Name, tc.caller, tc.GetLastResponseStatus(), tc.LastResponseBody)
		}
		return ctx, nil
	})

	RegisterSteps(sc, tc)
}

func waitReady(url string, within time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(within)
	var lastErr error
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}
