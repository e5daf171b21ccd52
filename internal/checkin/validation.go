package checkin

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kosumphisai/koshare/backend/internal/sanitizer"
)

// Field limits in characters
const (
	MaxLocationNameLength = 100
	MaxDescriptionLength  = 300
	MaxCategoryLength     = 50
	DefaultCategory       = "general"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// FieldError describes one invalid field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when input is malformed or out of range.
// Nothing is persisted when it occurs.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// NewCheckIn is the client-supplied part of a check-in
type NewCheckIn struct {
	LocationName string  `json:"locationName" validate:"required,max=100"`
	Latitude     float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude    float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Description  string  `json:"description" validate:"max=300"`
	Category     string  `json:"category" validate:"max=50"`
}

// Normalize sanitizes every text field and applies the default category
func (c NewCheckIn) Normalize() NewCheckIn {
	c.LocationName = sanitizer.Sanitize(c.LocationName, MaxLocationNameLength)
	c.Description = sanitizer.Sanitize(c.Description, MaxDescriptionLength)
	c.Category = sanitizer.Sanitize(c.Category, MaxCategoryLength)
	if c.Category == "" {
		c.Category = DefaultCategory
	}
	return c
}

// Validate checks a normalized check-in
func (c NewCheckIn) Validate() error {
	var fields []FieldError

	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) {
		fields = append(fields, FieldError{Field: "latitude", Message: "must be a finite number"})
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		fields = append(fields, FieldError{Field: "longitude", Message: "must be a finite number"})
	}

	if err := validate.Struct(c); err != nil {
		var vErrs validator.ValidationErrors
		if !errors.As(err, &vErrs) {
			return err
		}
		for _, fe := range vErrs {
			if fe.Field() == "Latitude" && hasField(fields, "latitude") ||
				fe.Field() == "Longitude" && hasField(fields, "longitude") {
				continue
			}
			fields = append(fields, toFieldError(fe))
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func toFieldError(fe validator.FieldError) FieldError {
	name := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return FieldError{Field: name, Message: "is required"}
	case "max":
		return FieldError{Field: name, Message: fmt.Sprintf("must be at most %s characters", fe.Param())}
	case "gte", "lte":
		return FieldError{Field: name, Message: fmt.Sprintf("must be between %s", coordinateRange(fe.Field()))}
	default:
		return FieldError{Field: name, Message: "is invalid"}
	}
}

func coordinateRange(field string) string {
	if field == "Latitude" {
		return "-90 and 90"
	}
	return "-180 and 180"
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func hasField(fields []FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}
