package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RelationSpec describes one relation field of an entity type.
type RelationSpec struct {
	Field  string     `yaml:"field" json:"field" jsonschema:"required"`
	Target EntityType `yaml:"target" json:"target" jsonschema:"required,enum=Anime,enum=Manga,enum=Character,enum=Person,enum=Company,enum=Track,enum=Group"`
	// Unique rejects the same ID appearing twice in the resolved list.
	Unique bool `yaml:"unique" json:"unique"`
}

// SchemaDocument is the on-disk shape of a relation schema override.
type SchemaDocument struct {
	Relations map[EntityType][]RelationSpec `yaml:"relations" json:"relations" jsonschema:"required"`
}

// Schema maps each entity type to its relation fields.
type Schema struct {
	relations map[EntityType][]RelationSpec
}

// DefaultSchema returns the built-in relation layout.
func DefaultSchema() *Schema {
	return &Schema{relations: map[EntityType][]RelationSpec{
		EntityTypeAnime: {
			{Field: "companies", Target: EntityTypeCompany},
			{Field: "staff", Target: EntityTypePerson},
			{Field: "characters", Target: EntityTypeCharacter, Unique: true},
			{Field: "tracks", Target: EntityTypeTrack, Unique: true},
		},
		EntityTypeManga: {
			{Field: "companies", Target: EntityTypeCompany},
			{Field: "staff", Target: EntityTypePerson},
			{Field: "characters", Target: EntityTypeCharacter, Unique: true},
		},
		EntityTypeCharacter: {
			{Field: "voiceActors", Target: EntityTypePerson},
		},
		EntityTypePerson: {
			{Field: "groups", Target: EntityTypeGroup, Unique: true},
		},
		EntityTypeCompany: nil,
		EntityTypeTrack: {
			{Field: "artists", Target: EntityTypePerson},
			{Field: "groups", Target: EntityTypeGroup, Unique: true},
		},
		EntityTypeGroup: {
			{Field: "members", Target: EntityTypePerson, Unique: true},
		},
	}}
}

// NewSchema validates doc and builds a Schema from it. Types missing from the
// document get no relations.
func NewSchema(doc SchemaDocument) (*Schema, error) {
	known := make(map[EntityType]struct{}, len(AllEntityTypes))
	for _, t := range AllEntityTypes {
		known[t] = struct{}{}
	}

	relations := make(map[EntityType][]RelationSpec, len(AllEntityTypes))
	for t, specs := range doc.Relations {
		if _, ok := known[t]; !ok {
			return nil, fmt.Errorf("schema: unknown entity type %q", t)
		}
		seen := make(map[string]struct{}, len(specs))
		for _, spec := range specs {
			if spec.Field == "" {
				return nil, fmt.Errorf("schema: %s has a relation without field name", t)
			}
			if _, ok := known[spec.Target]; !ok {
				return nil, fmt.Errorf("schema: %s.%s targets unknown type %q", t, spec.Field, spec.Target)
			}
			if _, dup := seen[spec.Field]; dup {
				return nil, fmt.Errorf("schema: %s.%s declared twice", t, spec.Field)
			}
			seen[spec.Field] = struct{}{}
		}
		relations[t] = append([]RelationSpec(nil), specs...)
	}
	return &Schema{relations: relations}, nil
}

// LoadSchema reads a YAML schema document from path. An empty path yields the
// default schema.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var doc SchemaDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	return NewSchema(doc)
}

// Relations returns the relation specs of t in declaration order.
func (s *Schema) Relations(t EntityType) []RelationSpec {
	return s.relations[t]
}

// Relation looks up the spec for field on t.
func (s *Schema) Relation(t EntityType, field string) (RelationSpec, bool) {
	for _, spec := range s.relations[t] {
		if spec.Field == field {
			return spec, true
		}
	}
	return RelationSpec{}, false
}

// Document renders the schema back into its serializable form.
func (s *Schema) Document() SchemaDocument {
	doc := SchemaDocument{Relations: make(map[EntityType][]RelationSpec, len(s.relations))}
	for t, specs := range s.relations {
		doc.Relations[t] = append([]RelationSpec{}, specs...)
	}
	return doc
}
