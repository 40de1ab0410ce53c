// Package types provides domain models shared across segmentd components.
//
// Storage-agnostic: rows are mapped to these types in internal/core/db and
// to transport messages in internal/core/api. ID helpers in ids.go import
// uuid; everything else is plain data.
package types

import (
	"encoding/json"
	"time"
)

// OrganizationID scopes every donor, segment and suggestion (tenant boundary).
type OrganizationID string

// SegmentID represents a UUIDv7 segment identifier.
type SegmentID string

// SuggestionID represents a UUIDv7 suggestion identifier.
type SuggestionID string

// DonorID identifies a donor record owned by the donation-processing side.
type DonorID string

// SegmentType distinguishes fixed membership from rule-derived membership.
type SegmentType string

const (
	SegmentStatic  SegmentType = "STATIC"
	SegmentDynamic SegmentType = "DYNAMIC"
)

// Segment is a named, organization-scoped grouping of donors.
//
// DonorCount is a cache. nil means "needs recalculation": set when a
// DYNAMIC segment's rules change and the eager recount has not landed.
// RulesRevision increments on every rules change; a count computed from
// an older revision is never stored.
type Segment struct {
	ID             SegmentID      `json:"id"`
	OrganizationID OrganizationID `json:"organization_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Color          string         `json:"color,omitempty"`
	Type           SegmentType    `json:"type"`
	Rules          *SegmentRules  `json:"rules,omitempty"`
	DonorCount     *int           `json:"donor_count"`
	CountedAt      *time.Time     `json:"counted_at,omitempty"`
	RulesRevision  int            `json:"-"`
	SuggestionID   SuggestionID   `json:"suggestion_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NeedsRecalculation reports whether the cached count cannot be shown as current.
func (s *Segment) NeedsRecalculation() bool {
	return s.Type == SegmentDynamic && s.DonorCount == nil
}

// Donor is the record the evaluator filters. Owned by donation processing;
// segmentd only reads it (Upsert exists for imports and fixtures).
// Nil pointers are NULL columns.
type Donor struct {
	ID                DonorID        `json:"id"`
	OrganizationID    OrganizationID `json:"organizationId"`
	TotalDonations    float64        `json:"totalDonations"`
	DonationCount     int            `json:"donationCount"`
	LastDonationDate  *time.Time     `json:"lastDonationDate,omitempty"`
	FirstDonationDate *time.Time     `json:"firstDonationDate,omitempty"`
	Segment           *string        `json:"segment,omitempty"`
	Score             *float64       `json:"score,omitempty"`
	Country           *string        `json:"country,omitempty"`
	PreferredLanguage *string        `json:"preferredLanguage,omitempty"`
	UnsubscribedAt    *time.Time     `json:"unsubscribedAt,omitempty"`
}

// Suggestion is an externally generated candidate segment definition.
// Criteria is either a SegmentRules document or a legacy criteria map.
type Suggestion struct {
	ID             SuggestionID    `json:"id"`
	OrganizationID OrganizationID  `json:"organization_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Criteria       json.RawMessage `json:"criteria"`
	DonorCount     int             `json:"donor_count"`
	Confidence     float64         `json:"confidence"`
	ClusterID      int             `json:"cluster_id"`
	Accepted       bool            `json:"accepted"`
	AcceptedAt     *time.Time      `json:"accepted_at,omitempty"`
	SegmentID      SegmentID       `json:"segment_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Resource limits enforced at the lifecycle boundary.
const (
	// MaxConditions bounds the WHERE clause width of a compiled rule.
	MaxConditions = 64

	// MaxNameLength matches the segments.name column width.
	MaxNameLength = 255

	// MaxDescriptionLength keeps descriptions to UI-sized text.
	MaxDescriptionLength = 2000
)
