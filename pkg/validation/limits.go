package validation

import (
	"fmt"
	"unicode/utf8"

	dErrors "fraudengine/pkg/domain-errors"
)

// Free-text and evidence limits applied at the service boundary.
const (
	// MaxDescriptionLength bounds a reporter's fraud description.
	MaxDescriptionLength = 2000

	// MaxReasonLength bounds operator supplied reasons on token and case operations.
	MaxReasonLength = 1000

	// MaxReasoningLength bounds an arbitrator's decision reasoning.
	MaxReasoningLength = 4000

	MaxNoteLength = 1000

	// MaxEvidenceKeys bounds the number of top-level keys merged into a case's evidence in one call.
	MaxEvidenceKeys = 100
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed max characters.
func CheckStringLength(fieldName, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckEvidence validates the size of an evidence payload.
func CheckEvidence(evidence map[string]any) error {
	return CheckSliceCount("evidence keys", len(evidence), MaxEvidenceKeys)
}
