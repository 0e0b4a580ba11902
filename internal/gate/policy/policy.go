// Package policy maps a risk score and confidence to a gate action.
package policy

import (
	"fraudengine/internal/gate/models"
	"fraudengine/internal/platform/config"
)

// Policy evaluates scored transactions against configured thresholds.
type Policy struct {
	autoScore       float64
	autoConfidence  float64
	floor           float64
	margin          float64
	demoteAmbiguous bool
}

func New(cfg config.GatePolicy) Policy {
	return Policy{
		autoScore:       cfg.AutoReverseScore,
		autoConfidence:  cfg.AutoReverseConfidence,
		floor:           cfg.ArbitrationFloor,
		margin:          cfg.AmbiguityMargin,
		demoteAmbiguous: cfg.DemoteAmbiguous,
	}
}

// Evaluate applies the rules in order:
//  1. score >= auto threshold with enough confidence reverses, unless the
//     score sits inside the ambiguity margin and demotion is on
//  2. a high score with low confidence goes to arbitration
//  3. score >= floor goes to arbitration
//  4. anything lower is cleared
func (p Policy) Evaluate(score, confidence float64) (models.Action, models.Reason) {
	if score >= p.autoScore {
		if confidence < p.autoConfidence {
			return models.ActionCaseOpened, models.ReasonLowConfidence
		}
		if p.demoteAmbiguous && score < p.autoScore+p.margin {
			return models.ActionCaseOpened, models.ReasonAmbiguous
		}
		return models.ActionReversed, models.ReasonAutoReverse
	}
	if score >= p.floor {
		if p.margin > 0 && score >= p.autoScore-p.margin {
			return models.ActionCaseOpened, models.ReasonAmbiguous
		}
		return models.ActionCaseOpened, models.ReasonArbitrationBand
	}
	return models.ActionCleared, models.ReasonBelowFloor
}
