package dbschema_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/diff"
	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/infrastructure/database/dbschema"
)

func TestPatch_ConvertsBothWays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	before := map[string]any{"title": map[string]any{"default": "A"}, "votes": 3.0}
	after := map[string]any{"title": map[string]any{"default": "B"}, "votes": 3.0}

	p := patch.New(patch.Params{
		Kind:        patch.KindUpdate,
		Target:      catalog.Ref{Type: catalog.EntityTypeAnime, ID: "12"},
		AuthorRef:   "user-1",
		Changes:     diff.NewDiffer().Diff(before, after),
		Before:      before,
		Payload:     after,
		BaseVersion: 3,
		CreatedRefs: []catalog.Ref{{Type: catalog.EntityTypePerson, ID: "7"}},
	}, now)
	_, err := p.Apply(patch.ActionRequestChanges, "mod-1", "needs a source", now.Add(time.Minute))
	require.NoError(t, err)

	model, err := dbschema.NewSchemaPatch(p)
	require.NoError(t, err)
	assert.Equal(t, "Anime", model.TargetCollection)
	assert.Equal(t, "awaiting_author_changes", model.Status)
	require.Len(t, model.Changes, 1)
	assert.Equal(t, []string{"title", "default"}, model.Changes[0].Path)

	back, err := model.EtoD()
	require.NoError(t, err)
	assert.Equal(t, p.ID, back.ID)
	assert.Equal(t, "Anime/12", back.TargetPath)
	assert.Equal(t, p.Changes, back.Changes)
	assert.Equal(t, before, back.BeforeChanges)
	assert.Equal(t, after, back.Payload)
	assert.Equal(t, p.CreatedRefs, back.CreatedRefs)
	require.Len(t, back.Actions, 1)
	assert.Equal(t, "needs a source", back.Actions[0].Note)
}

func TestEntity_NilFieldsStoreEmptyObject(t *testing.T) {
	model, err := dbschema.NewSchemaEntity(&catalog.Entity{Type: catalog.EntityTypeCompany, ID: "1", Version: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(model.Fields))

	back, err := model.EtoD()
	require.NoError(t, err)
	assert.Equal(t, catalog.Ref{Type: catalog.EntityTypeCompany, ID: "1"}, back.Ref())
	assert.Empty(t, back.Fields)
}
