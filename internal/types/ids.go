package types

import (
	"github.com/google/uuid"
)

// NewSegmentID generates a UUIDv7 segment identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSegmentID() SegmentID {
	return SegmentID(uuid.Must(uuid.NewV7()).String())
}

// NewSuggestionID generates a UUIDv7 suggestion identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSuggestionID() SuggestionID {
	return SuggestionID(uuid.Must(uuid.NewV7()).String())
}

// NewConditionID generates a condition key for the authoring UI.
// Unique within one group is all that is required.
func NewConditionID() string {
	return "cond-" + uuid.Must(uuid.NewV7()).String()
}

// ParseSegmentID validates and converts a string to SegmentID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseSegmentID(s string) (SegmentID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return SegmentID(s), nil
}

// ParseSuggestionID validates and converts a string to SuggestionID.
func ParseSuggestionID(s string) (SuggestionID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return SuggestionID(s), nil
}
