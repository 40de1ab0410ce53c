package segments

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/donorhub/segmentd/internal/types"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("segmentcolor", func(fl validator.FieldLevel) bool {
		return colorPattern.MatchString(fl.Field().String())
	})
}

// CreateInput describes a new segment. Rules is required for DYNAMIC and
// ignored for STATIC.
type CreateInput struct {
	Name        string              `json:"name" validate:"required,max=255"`
	Description string              `json:"description" validate:"max=2000"`
	Color       string              `json:"color" validate:"omitempty,segmentcolor"`
	Type        types.SegmentType   `json:"type" validate:"required,oneof=STATIC DYNAMIC"`
	Rules       *types.SegmentRules `json:"rules" validate:"-"`
}

// UpdatePatch changes the non-nil fields of a segment.
type UpdatePatch struct {
	Name        *string             `json:"name" validate:"omitempty,max=255"`
	Description *string             `json:"description" validate:"omitempty,max=2000"`
	Color       *string             `json:"color" validate:"omitempty,segmentcolor"`
	Rules       *types.SegmentRules `json:"rules" validate:"-"`
}

// ListOptions pages List. Zero Limit means DefaultListLimit.
type ListOptions struct {
	Type   types.SegmentType `json:"type" validate:"omitempty,oneof=STATIC DYNAMIC"`
	Limit  int               `json:"limit" validate:"gte=0,lte=500"`
	Offset int               `json:"offset" validate:"gte=0"`
}

// DefaultListLimit is the page size when ListOptions.Limit is zero.
const DefaultListLimit = 50

func (in *CreateInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Type = types.SegmentType(strings.ToUpper(string(in.Type)))
}

func (p *UpdatePatch) normalize() {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		p.Name = &name
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		p.Description = &desc
	}
}

func (p *UpdatePatch) empty() bool {
	return p.Name == nil && p.Description == nil && p.Color == nil && p.Rules == nil
}

func validateCreate(in *CreateInput) error {
	if in.Name == "" {
		return fmt.Errorf("%w: %w", types.ErrValidation, types.ErrEmptyName)
	}
	return structError(validate.Struct(in))
}

func validatePatch(p *UpdatePatch) error {
	if p.Name != nil && *p.Name == "" {
		return fmt.Errorf("%w: %w", types.ErrValidation, types.ErrEmptyName)
	}
	return structError(validate.Struct(p))
}

func validateList(o *ListOptions) error {
	return structError(validate.Struct(o))
}

// structError flattens validator output into one ErrValidation error.
func structError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	case "segmentcolor":
		return field + " must be a #RRGGBB color"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
