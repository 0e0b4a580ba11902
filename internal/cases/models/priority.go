package models

import "github.com/shopspring/decimal"

var (
	highValueThreshold     = decimal.NewFromInt(1000)
	criticalValueThreshold = decimal.NewFromInt(10000)
)

// ReportPriority derives the priority of a user report from the disputed
// amount and the kind of fraud claimed.
func ReportPriority(caseType CaseType, amount decimal.Decimal) Priority {
	switch {
	case amount.GreaterThan(criticalValueThreshold):
		return PriorityCritical
	case amount.GreaterThan(highValueThreshold):
		return PriorityHigh
	case caseType == CaseTypeAccountTakeover || caseType == CaseTypeTechnicalFraud:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// ScoredPriority derives the priority of a gate-opened case. The score sets
// the base level and a large amount can only raise it.
func ScoredPriority(score float64, amount decimal.Decimal) Priority {
	var p Priority
	switch {
	case score >= 0.80:
		p = PriorityHigh
	case score >= 0.65:
		p = PriorityMedium
	default:
		p = PriorityLow
	}
	switch {
	case amount.GreaterThan(criticalValueThreshold):
		return PriorityCritical
	case amount.GreaterThan(highValueThreshold):
		return p.AtLeast(PriorityHigh)
	}
	return p
}
