package dbschema

import "time"

// IdentifierCounter holds the highest committed identifier of a collection.
// Rows are seeded by migration; a missing row is an operator error.
type IdentifierCounter struct {
	Collection string    `gorm:"column:collection;type:varchar(32);primaryKey"`
	Value      int64     `gorm:"column:value;not null;default:0"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}
