package wizard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMobile(t *testing.T) {
	tests := []struct {
		mobile string
		valid  bool
	}{
		{"9876543210", true},
		{"6000000000", true},
		{"7123456789", true},
		{"8999999999", true},
		{"1234567890", false},
		{"5876543210", false},
		{"98765432", false},
		{"98765432101", false},
		{"98765x3210", false},
		{" 9876543210", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mobile, func(t *testing.T) {
			err := ValidateMobile(tt.mobile)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "mobile", verr.Field)
		})
	}
}

func TestValidateParentName(t *testing.T) {
	assert.Error(t, ValidateParentName("", false))
	assert.Error(t, ValidateParentName("   ", false))
	assert.NoError(t, ValidateParentName("", true))
	assert.NoError(t, ValidateParentName("Asha", false))
}

func TestValidateChild_BirthDateBoundary(t *testing.T) {
	today := time.Date(2026, time.October, 14, 23, 59, 0, 0, time.UTC)

	tests := []struct {
		name  string
		dob   string
		valid bool
	}{
		{"exactly two years", "2024-10-14", true},
		{"one day short", "2024-10-15", false},
		{"older", "2015-02-28", true},
		{"not a calendar date", "2020-02-30", false},
		{"wrong layout", "14/10/2020", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateChild(ChildRecord{ID: "c1", LegalName: "Kid", DateOfBirth: tt.dob}, today)
			if tt.valid {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Equal(t, "dob", errs[0].Field)
			assert.Equal(t, "c1", errs[0].ChildID)
		})
	}
}

func TestValidateChild_MissingLegalName(t *testing.T) {
	errs := ValidateChild(ChildRecord{ID: "c1", LegalName: " ", DateOfBirth: "2019-01-01"}, testToday)

	require.Len(t, errs, 1)
	assert.Equal(t, "legalName", errs[0].Field)
}

func TestValidateChildren_InsertsRowWhenEmpty(t *testing.T) {
	var children []ChildRecord

	errs := ValidateChildren(&children, testToday)

	require.Len(t, errs, 1)
	assert.Equal(t, "children", errs[0].Field)
	require.Len(t, children, 1)
	assert.Equal(t, 1, children[0].Index)
	assert.NotEmpty(t, children[0].ID)
}

func TestLatestBirthDate_LeapDay(t *testing.T) {
	got := LatestBirthDate(time.Date(2028, time.February, 29, 10, 0, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestReindex_Idempotent(t *testing.T) {
	children := []ChildRecord{{ID: "a", Index: 3}, {ID: "b", Index: 1}, {ID: "c", Index: 7}}

	reindex(children)
	first := append([]ChildRecord(nil), children...)
	reindex(children)

	assert.Equal(t, first, children)
	assert.Equal(t, []string{"a", "b", "c"}, []string{children[0].ID, children[1].ID, children[2].ID})
	assert.Equal(t, 3, children[2].Index)
}

func TestComposeConsentText(t *testing.T) {
	children := []ChildRecord{
		{LegalName: "Meera Rao", DisplayName: "Mimi"},
		{LegalName: "Arjun Rao"},
	}

	got := ComposeConsentText("Asha Rao", children)

	assert.Equal(t, got, ComposeConsentText("Asha Rao", children))
	assert.Contains(t, got, "I, Asha Rao,")
	assert.Contains(t, got, "Meera Rao (Mimi), Arjun Rao.")
	assert.NotContains(t, got, "Arjun Rao (")
}

func TestChildName(t *testing.T) {
	assert.Equal(t, "Meera", ChildName(ChildRecord{LegalName: "Meera", DisplayName: "  "}))
	assert.Equal(t, "Meera (Mimi)", ChildName(ChildRecord{LegalName: "Meera", DisplayName: "Mimi"}))
}
