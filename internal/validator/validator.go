package validator

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/pauljones0/holemonitor/internal/models"
)

// Validator is a wrapper around the validator library.
type Validator struct {
	validate *validator.Validate
}

// New creates a new Validator instance.
func New() *Validator {
	return &Validator{
		validate: validator.New(),
	}
}

// ValidateStruct validates a struct based on its tags.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// FilterPosts drops posts that fail validation and returns the rest in order.
func (v *Validator) FilterPosts(posts []models.Post) []models.Post {
	valid := posts[:0:0]
	for _, p := range posts {
		if err := v.ValidateStruct(p); err != nil {
			slog.Warn("Skipping invalid post", "pid", p.PID, "error", err)
			continue
		}
		valid = append(valid, p)
	}
	return valid
}

// FilterComments drops comments that fail validation.
func (v *Validator) FilterComments(comments []models.Comment) []models.Comment {
	valid := comments[:0:0]
	for _, c := range comments {
		if err := v.ValidateStruct(c); err != nil {
			slog.Warn("Skipping invalid comment", "cid", c.CID, "pid", c.PID, "error", err)
			continue
		}
		valid = append(valid, c)
	}
	return valid
}
