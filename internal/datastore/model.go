package datastore

import "time"

// Identification is one successfully identified photo.
type Identification struct {
	ID             uint   `gorm:"primaryKey"`
	RequestID      string `gorm:"size:36;index"`
	ChatID         int64  `gorm:"index:idx_identifications_chat_created,priority:1"`
	UserID         int64  `gorm:"index"`
	ScientificName string `gorm:"size:128;index"`
	CommonName     string `gorm:"size:128"`
	Location       string `gorm:"size:256"`
	Confidence     float64
	Latitude       *float64
	Longitude      *float64
	Batch          bool
	CreatedAt      time.Time `gorm:"index:idx_identifications_chat_created,priority:2"`
}

// SpeciesCount is an aggregated row of TopSpecies.
type SpeciesCount struct {
	ScientificName string
	CommonName     string
	Count          int64
}
