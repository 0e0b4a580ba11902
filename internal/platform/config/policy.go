package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the tunable routing and hold rules plus static role grants.
type Policy struct {
	Gate         GatePolicy `yaml:"gate"`
	HoldOnReport bool       `yaml:"hold_on_report"`
	Roles        RoleGrants `yaml:"roles"`
}

// GatePolicy configures the decision gate thresholds. AmbiguityMargin is a
// band just above AutoReverseScore; with DemoteAmbiguous set, scores inside it
// go to arbitration instead of automatic reversal.
type GatePolicy struct {
	AutoReverseScore      float64 `yaml:"auto_reverse_score"`
	AutoReverseConfidence float64 `yaml:"auto_reverse_confidence"`
	ArbitrationFloor      float64 `yaml:"arbitration_floor"`
	AmbiguityMargin       float64 `yaml:"ambiguity_margin"`
	DemoteAmbiguous       bool    `yaml:"demote_ambiguous"`
	HoldOnArbitration     bool    `yaml:"hold_on_arbitration"`
}

// RoleGrants lists user ids per role for the static role directory.
type RoleGrants struct {
	Arbitrators     []string `yaml:"arbitrator"`
	Supervisors     []string `yaml:"arbitration_supervisor"`
	LedgerOperators []string `yaml:"ledger_operator"`
}

func DefaultPolicy() Policy {
	return Policy{
		Gate: GatePolicy{
			AutoReverseScore:      0.90,
			AutoReverseConfidence: 0.80,
			ArbitrationFloor:      0.50,
		},
		HoldOnReport: true,
	}
}

// Validate checks that thresholds are probabilities and ordered.
func (p Policy) Validate() error {
	g := p.Gate
	var errs []error
	for name, v := range map[string]float64{
		"auto_reverse_score":      g.AutoReverseScore,
		"auto_reverse_confidence": g.AutoReverseConfidence,
		"arbitration_floor":       g.ArbitrationFloor,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("gate.%s must be within [0,1], got %v", name, v))
		}
	}
	if g.ArbitrationFloor > g.AutoReverseScore {
		errs = append(errs, errors.New("gate.arbitration_floor must not exceed gate.auto_reverse_score"))
	}
	if g.AmbiguityMargin < 0 || g.AmbiguityMargin > 0.5 {
		errs = append(errs, fmt.Errorf("gate.ambiguity_margin must be within [0,0.5], got %v", g.AmbiguityMargin))
	}
	return errors.Join(errs...)
}

// LoadPolicyFile overlays the YAML file at path onto cfg.Policy. Keys absent
// from the file keep their current values.
func LoadPolicyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	policy := cfg.Policy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("policy file %s: %w", path, err)
	}
	cfg.Policy = policy
	return nil
}
