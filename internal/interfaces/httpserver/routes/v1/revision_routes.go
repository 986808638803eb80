package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/janhq/catalog-api/internal/interfaces/httpserver/handlers"
)

func registerRevisionRoutes(router gin.IRoutes, handler *handlers.RevisionHandler) {
	router.POST("/entities/:type", handler.SubmitCreate)
	router.GET("/entities/:type/:id", handler.GetEntity)
	router.PATCH("/entities/:type/:id", handler.SubmitUpdate)

	router.GET("/patches/:patch_id", handler.GetPatch)
	router.POST("/patches/:patch_id/moderate", handler.Moderate)
	router.POST("/patches/:patch_id/resubmit", handler.Resubmit)
}
