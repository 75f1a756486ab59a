package models

import "time"

const (
	EventConsentSubmitted = "consent_submitted"
	EventConsentDeleted   = "consent_deleted"
)

// ConsentEvent is published on the consent topic after a write.
type ConsentEvent struct {
	Event string          `json:"event"`
	Data  ConsentDocument `json:"data"`
}

// ConsentDocument is the search-index view of a consent. The signature is
// left out.
type ConsentDocument struct {
	ID          string          `json:"id"`
	Mobile      string          `json:"mobile"`
	ParentName  string          `json:"parentName"`
	ConsentDate string          `json:"consentDate"`
	Children    []ChildDocument `json:"children"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

type ChildDocument struct {
	LegalName   string `json:"legalName"`
	DisplayName string `json:"displayName,omitempty"`
	DateOfBirth string `json:"dob"`
}

func NewConsentDocument(c *Consent) ConsentDocument {
	doc := ConsentDocument{
		ID:          c.ID.String(),
		Mobile:      c.Mobile,
		ParentName:  c.ParentName,
		ConsentDate: c.ConsentDate.Format("2006-01-02"),
		Children:    make([]ChildDocument, len(c.Children)),
		SubmittedAt: c.CreatedAt,
	}
	for i, ch := range c.Children {
		doc.Children[i] = ChildDocument{
			LegalName:   ch.LegalName,
			DisplayName: ch.DisplayName,
			DateOfBirth: ch.DateOfBirth.Format("2006-01-02"),
		}
	}
	return doc
}
