package responses

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/diff"
	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/utils/platformerrors"
)

// HandleError maps err onto the platform error envelope and aborts.
func HandleError(c *gin.Context, log zerolog.Logger, err error, message string) {
	platformerrors.WriteError(c, err, message, log)
}

// HandleBindError reports request binding and validation failures.
func HandleBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		platformerrors.WriteValidationError(c, "invalid field "+fe.Field()+": failed "+fe.Tag())
		return
	}
	platformerrors.WriteValidationError(c, "invalid request: "+err.Error())
}

// HandleMissingActor rejects requests that reached a handler without an actor.
func HandleMissingActor(c *gin.Context) {
	platformerrors.WriteUnauthorized(c, "actor reference is required")
}

// EntityResponse is a stored catalog entity.
type EntityResponse struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Verified  bool           `json:"verified"`
	Version   int64          `json:"version"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// FromEntity maps the domain entity to its DTO.
func FromEntity(e *catalog.Entity) EntityResponse {
	return EntityResponse{
		Type:      string(e.Type),
		ID:        e.ID,
		Verified:  e.Verified,
		Version:   e.Version,
		Fields:    e.Fields,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// PatchResponse is a patch with its full history.
type PatchResponse struct {
	ID            string              `json:"id"`
	Type          string              `json:"type"`
	TargetRef     catalog.Ref         `json:"targetRef"`
	TargetPath    string              `json:"targetPath"`
	AuthorRef     string              `json:"authorRef"`
	Status        string              `json:"status"`
	Changes       diff.Tree           `json:"changes"`
	BeforeChanges map[string]any      `json:"beforeChanges"`
	BaseVersion   int64               `json:"baseVersion"`
	CreatedRefs   []catalog.Ref       `json:"createdRefs"`
	Actions       []patch.ActionEntry `json:"actions"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// FromPatch maps the domain patch to its DTO.
func FromPatch(p *patch.Patch) PatchResponse {
	return PatchResponse{
		ID:            p.ID,
		Type:          string(p.Kind),
		TargetRef:     p.Target,
		TargetPath:    p.TargetPath,
		AuthorRef:     p.AuthorRef,
		Status:        string(p.Status),
		Changes:       p.Changes,
		BeforeChanges: p.BeforeChanges,
		BaseVersion:   p.BaseVersion,
		CreatedRefs:   p.CreatedRefs,
		Actions:       p.Actions,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// Created writes a 201 with body.
func Created(c *gin.Context, body any) {
	c.JSON(http.StatusCreated, body)
}
