package requests

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/janhq/catalog-api/internal/domain/catalog"
)

// EntityTypeURI binds the collection segment of entity routes.
type EntityTypeURI struct {
	Type string `uri:"type" binding:"required,entity_type"`
}

// EntityURI binds routes addressing one entity.
type EntityURI struct {
	Type string `uri:"type" binding:"required,entity_type"`
	ID   string `uri:"id" binding:"required,max=64"`
}

// PatchURI binds routes addressing one patch.
type PatchURI struct {
	PatchID string `uri:"patch_id" binding:"required,len=26,alphanum"`
}

// SubmitRequest carries the proposed entity fields of a create or update.
type SubmitRequest struct {
	Payload map[string]any `json:"payload" binding:"required"`
}

// ModerateRequest applies a moderation action to a patch.
type ModerateRequest struct {
	Action string `json:"action" binding:"required,oneof=accept reject request_changes"`
	Note   string `json:"note,omitempty" binding:"max=2000"`
}

// ResubmitRequest replaces the proposal of a patch awaiting author changes.
type ResubmitRequest struct {
	Payload map[string]any `json:"payload" binding:"required"`
}

// RegisterValidators installs the custom tags used above on gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return v.RegisterValidation("entity_type", func(fl validator.FieldLevel) bool {
		_, err := catalog.ParseEntityType(fl.Field().String())
		return err == nil
	})
}
