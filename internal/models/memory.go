package models

import (
	"time"

	"gorm.io/datatypes"
)

// MemoryCollection records the fixed vector shape of a collection in the
// database-backed vector index.
type MemoryCollection struct {
	Name      string    `json:"name" gorm:"primaryKey"`
	Dimension int       `json:"dimension" gorm:"not null"`
	Metric    string    `json:"metric" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemoryRecord is one embedded point of the database-backed vector index.
type MemoryRecord struct {
	ID         string                       `json:"id" gorm:"primaryKey"`
	Collection string                       `json:"collection" gorm:"not null;index"`
	Vector     datatypes.JSONSlice[float32] `json:"-" gorm:"not null"`
	Payload    datatypes.JSON               `json:"payload"`
	CreatedAt  time.Time                    `json:"createdAt"`
}

func (MemoryCollection) TableName() string {
	return "memory_collections"
}

func (MemoryRecord) TableName() string {
	return "memory_records"
}
