package handlers

import (
	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/revision"
)

// Provider wires all HTTP handlers for dependency injection.
type Provider struct {
	Revision *RevisionHandler
	Schema   *SchemaHandler
}

// NewProvider constructs the handler provider with domain services.
func NewProvider(service revision.Operations, schema *catalog.Schema, log zerolog.Logger) *Provider {
	return &Provider{
		Revision: NewRevisionHandler(service, log),
		Schema:   NewSchemaHandler(schema),
	}
}
