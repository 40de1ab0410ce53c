package rules

import (
	"time"

	"github.com/donorhub/segmentd/internal/types"
)

// Engine is the single compiler shared by preview and recalculation so the
// two paths cannot diverge. It only holds the clock; safe for concurrent use.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an engine. A nil clock uses time.Now.
func NewEngine(clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{now: clock}
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Compile compiles group for org at the engine's current time.
func (e *Engine) Compile(group *types.RuleGroup, org types.OrganizationID) *Predicate {
	return Compile(group, org, e.now())
}
