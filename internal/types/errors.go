package types

import "errors"

// Sentinel errors for segment operations.
var (
	// ErrValidation is the parent of every input validation failure.
	// Transport maps anything wrapping it to INVALID_ARGUMENT.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyName indicates a segment name is empty after trimming.
	ErrEmptyName = errors.New("segment name is required")

	// ErrMissingOrganization indicates a call without organization scope.
	ErrMissingOrganization = errors.New("organization scope is required")

	// ErrMissingRules indicates a DYNAMIC segment without a rules document.
	ErrMissingRules = errors.New("dynamic segment requires rules")

	// ErrInvalidRules indicates a structurally invalid rules document
	// (missing group, unknown logic, no conditions).
	ErrInvalidRules = errors.New("invalid segment rules")

	// ErrUnsupportedRulesVersion indicates a rules document newer than this build.
	ErrUnsupportedRulesVersion = errors.New("unsupported segment rules version")

	// ErrTooManyConditions indicates a group exceeds MaxConditions.
	ErrTooManyConditions = errors.New("rule group has too many conditions")

	// ErrSegmentNotFound indicates no segment with that id in the organization.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrRulesChanged indicates a recalculation whose rules were replaced
	// before its result could be stored.
	ErrRulesChanged = errors.New("segment rules changed during recalculation")

	// ErrStaticSegment indicates a rule-derived operation on a STATIC segment.
	ErrStaticSegment = errors.New("operation only applies to dynamic segments")

	// ErrSuggestionNotFound indicates no suggestion with that id in the organization.
	ErrSuggestionNotFound = errors.New("suggestion not found")

	// ErrSuggestionAccepted indicates the suggestion was already accepted
	// into a different segment.
	ErrSuggestionAccepted = errors.New("suggestion already accepted")
)
