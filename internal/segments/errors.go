package segments

import (
	"fmt"

	"github.com/donorhub/segmentd/internal/types"
)

// ConversionStep names the stage of a suggestion conversion.
type ConversionStep string

const (
	StepLoad         ConversionStep = "load_suggestion"
	StepCriteria     ConversionStep = "convert_criteria"
	StepCreate       ConversionStep = "create_segment"
	StepMarkAccepted ConversionStep = "mark_accepted"
)

// ConversionError reports a suggestion conversion that did not finish.
// A non-empty SegmentID means the segment exists and retrying the
// conversion will reuse it.
type ConversionError struct {
	Step         ConversionStep
	SuggestionID types.SuggestionID
	SegmentID    types.SegmentID
	Err          error
}

func (e *ConversionError) Error() string {
	if e.SegmentID != "" {
		return fmt.Sprintf("convert suggestion %s: %s (segment %s created): %v", e.SuggestionID, e.Step, e.SegmentID, e.Err)
	}
	return fmt.Sprintf("convert suggestion %s: %s: %v", e.SuggestionID, e.Step, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Partial reports whether the segment was created but the suggestion was
// not marked accepted.
func (e *ConversionError) Partial() bool {
	return e.SegmentID != ""
}
