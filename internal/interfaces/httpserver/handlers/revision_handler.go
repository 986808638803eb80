package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/domain/revision"
	"github.com/janhq/catalog-api/internal/infrastructure/auth"
	"github.com/janhq/catalog-api/internal/interfaces/httpserver/requests"
	"github.com/janhq/catalog-api/internal/interfaces/httpserver/responses"
)

// RevisionHandler exposes submissions and moderation over HTTP.
type RevisionHandler struct {
	service revision.Operations
	log     zerolog.Logger
}

// NewRevisionHandler constructs the handler.
func NewRevisionHandler(service revision.Operations, log zerolog.Logger) *RevisionHandler {
	return &RevisionHandler{
		service: service,
		log:     log.With().Str("handler", "revision").Logger(),
	}
}

// SubmitCreate handles POST /v1/entities/:type
func (h *RevisionHandler) SubmitCreate(c *gin.Context) {
	var uri requests.EntityTypeURI
	if err := c.ShouldBindUri(&uri); err != nil {
		responses.HandleBindError(c, err)
		return
	}
	var req requests.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleBindError(c, err)
		return
	}
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	t, _ := catalog.ParseEntityType(uri.Type)
	result, err := h.service.SubmitCreate(c.Request.Context(), t, req.Payload, actor)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to submit entity")
		return
	}
	responses.Created(c, result)
}

// SubmitUpdate handles PATCH /v1/entities/:type/:id
func (h *RevisionHandler) SubmitUpdate(c *gin.Context) {
	var uri requests.EntityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		responses.HandleBindError(c, err)
		return
	}
	var req requests.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleBindError(c, err)
		return
	}
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	t, _ := catalog.ParseEntityType(uri.Type)
	result, err := h.service.SubmitUpdate(c.Request.Context(), t, uri.ID, req.Payload, actor)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to submit update")
		return
	}
	responses.Created(c, result)
}

// GetEntity handles GET /v1/entities/:type/:id
func (h *RevisionHandler) GetEntity(c *gin.Context) {
	var uri requests.EntityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		responses.HandleBindError(c, err)
		return
	}

	t, _ := catalog.ParseEntityType(uri.Type)
	entity, err := h.service.GetEntity(c.Request.Context(), t, uri.ID)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to get entity")
		return
	}
	c.JSON(http.StatusOK, responses.FromEntity(entity))
}

// GetPatch handles GET /v1/patches/:patch_id
func (h *RevisionHandler) GetPatch(c *gin.Context) {
	var uri requests.PatchURI
	if err := c.ShouldBindUri(&uri); err != nil {
		responses.HandleBindError(c, err)
		return
	}

	p, err := h.service.GetPatch(c.Request.Context(), uri.PatchID)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to get patch")
		return
	}
	c.JSON(http.StatusOK, responses.FromPatch(p))
}

// Moderate handles POST /v1/patches/:patch_id/moderate
func (h *RevisionHandler) Moderate(c *gin.Context) {
	var uri requests.PatchURI
	if err := c.ShouldBindUri(&uri); err != nil {
		responses.HandleBindError(c, err)
		return
	}
	var req requests.ModerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleBindError(c, err)
		return
	}
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	action, err := patch.ParseAction(req.Action)
	if err != nil {
		responses.HandleError(c, h.log, err, "invalid action")
		return
	}
	result, err := h.service.Moderate(c.Request.Context(), uri.PatchID, action, req.Note, actor)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to moderate patch")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Resubmit handles POST /v1/patches/:patch_id/resubmit
func (h *RevisionHandler) Resubmit(c *gin.Context) {
	var uri requests.PatchURI
	if err := c.ShouldBindUri(&uri); err != nil {
		responses.HandleBindError(c, err)
		return
	}
	var req requests.ResubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleBindError(c, err)
		return
	}
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	result, err := h.service.Resubmit(c.Request.Context(), uri.PatchID, req.Payload, actor)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to resubmit patch")
		return
	}
	c.JSON(http.StatusOK, result)
}

func requireActor(c *gin.Context) (string, bool) {
	actor := auth.ActorRef(c)
	if actor == "" {
		responses.HandleMissingActor(c)
		return "", false
	}
	return actor, true
}
