package wizard

import "time"

// Step is one of the three visible form steps.
type Step string

const (
	StepMobileEntry Step = "mobile"
	StepDetails     Step = "details"
	StepConsent     Step = "consent"
)

// DateLayout is the calendar date format used for dates of birth.
const DateLayout = "2006-01-02"

// ChildRecord is one child row of the details step.
type ChildRecord struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	LegalName   string `json:"legalName"`
	DisplayName string `json:"displayName,omitempty"`
	DateOfBirth string `json:"dob"`
}

// ChildInput carries the editable fields of a child row.
type ChildInput struct {
	LegalName   string `json:"legalName"`
	DisplayName string `json:"displayName"`
	DateOfBirth string `json:"dob"`
}

// Session is the in-memory state of one parent's pass through the form.
type Session struct {
	ID               string        `json:"id"`
	Step             Step          `json:"step"`
	Mobile           string        `json:"mobile"`
	ParentName       string        `json:"parentName"`
	Children         []ChildRecord `json:"children"`
	Signature        string        `json:"-"`
	ExistingCustomer bool          `json:"existingCustomer"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	// Revision identifies the stored copy this session was loaded from.
	// Session stores set it; the wizard carries it unchanged.
	Revision string `json:"-"`
}

// NewSession returns an empty session at the mobile entry step.
func NewSession(id string) Session {
	return Session{ID: id, Step: StepMobileEntry}
}

func (s *Session) reset() {
	s.Step = StepMobileEntry
	s.Mobile = ""
	s.ParentName = ""
	s.Children = nil
	s.Signature = ""
	s.ExistingCustomer = false
}

func (s Session) clone() Session {
	c := s
	c.Children = append([]ChildRecord(nil), s.Children...)
	return c
}
