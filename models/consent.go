package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Consent is one signed consent form. A mobile number can sign at most once
// per calendar day.
type Consent struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Mobile       string    `gorm:"not null;uniqueIndex:idx_consents_mobile_day"`
	ConsentDate  time.Time `gorm:"type:date;not null;uniqueIndex:idx_consents_mobile_day"`
	ParentName   string    `gorm:"not null"`
	SignatureURL string    `gorm:"not null"`
	Children     []Child   `gorm:"foreignKey:ConsentID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Child is a child covered by a consent, kept in form order.
type Child struct {
	ID          uint      `gorm:"primaryKey"`
	ConsentID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Position    int       `gorm:"not null"`
	LegalName   string    `gorm:"not null"`
	DisplayName string
	DateOfBirth time.Time `gorm:"type:date;not null"`
}

func (c *Consent) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
