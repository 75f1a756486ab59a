package wizard

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChildRow is the render model of one child record. Key is stable across
// removals; Label and the field ids follow the current position.
type ChildRow struct {
	Key         string `json:"key"`
	Index       int    `json:"index"`
	Label       string `json:"label"`
	LegalField  string `json:"legalField"`
	NameField   string `json:"displayField"`
	DOBField    string `json:"dobField"`
	LegalName   string `json:"legalName"`
	DisplayName string `json:"displayName,omitempty"`
	DateOfBirth string `json:"dob"`
	Removable   bool   `json:"removable"`
}

// RenderChildren maps records to rows in order.
func RenderChildren(children []ChildRecord) []ChildRow {
	rows := make([]ChildRow, len(children))
	for i, c := range children {
		n := i + 1
		rows[i] = ChildRow{
			Key:         c.ID,
			Index:       n,
			Label:       fmt.Sprintf("Child %d", n),
			LegalField:  fmt.Sprintf("child-%d-legalname", n),
			NameField:   fmt.Sprintf("child-%d-displayname", n),
			DOBField:    fmt.Sprintf("child-%d-dob", n),
			LegalName:   c.LegalName,
			DisplayName: c.DisplayName,
			DateOfBirth: c.DateOfBirth,
			Removable:   n > 1,
		}
	}
	return rows
}

func newChild(in ChildInput) ChildRecord {
	return ChildRecord{
		ID:          uuid.NewString(),
		LegalName:   strings.TrimSpace(in.LegalName),
		DisplayName: strings.TrimSpace(in.DisplayName),
		DateOfBirth: strings.TrimSpace(in.DateOfBirth),
	}
}

func appendChild(children []ChildRecord, in ChildInput) []ChildRecord {
	rec := newChild(in)
	rec.Index = len(children) + 1
	return append(children, rec)
}

func findChild(children []ChildRecord, id string) int {
	for i := range children {
		if children[i].ID == id {
			return i
		}
	}
	return -1
}

func removeChild(children []ChildRecord, id string) ([]ChildRecord, error) {
	i := findChild(children, id)
	if i < 0 {
		return children, ErrChildNotFound
	}
	if i == 0 {
		return children, ErrChildNotRemovable
	}
	out := make([]ChildRecord, 0, len(children)-1)
	out = append(out, children[:i]...)
	out = append(out, children[i+1:]...)
	reindex(out)
	return out, nil
}

// reindex renumbers records 1..n by position.
func reindex(children []ChildRecord) {
	for i := range children {
		children[i].Index = i + 1
	}
}
