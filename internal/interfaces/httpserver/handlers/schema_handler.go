package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"github.com/janhq/catalog-api/internal/domain/catalog"
)

// SchemaHandler publishes the relation schema driving nested resolution.
type SchemaHandler struct {
	schema *catalog.Schema
	shape  *jsonschema.Schema
}

// NewSchemaHandler constructs the handler.
func NewSchemaHandler(schema *catalog.Schema) *SchemaHandler {
	return &SchemaHandler{
		schema: schema,
		shape:  jsonschema.Reflect(&catalog.SchemaDocument{}),
	}
}

// Get handles GET /v1/schema
func (h *SchemaHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jsonSchema": h.shape,
		"relations":  h.schema.Document().Relations,
	})
}
