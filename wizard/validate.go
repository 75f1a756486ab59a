package wizard

import (
	"regexp"
	"strings"
	"time"
)

// MinChildAgeYears is how old a child must be on the day of the visit.
const MinChildAgeYears = 2

var mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// ValidateMobile checks a 10 digit mobile number starting with 6-9.
func ValidateMobile(mobile string) error {
	if !mobilePattern.MatchString(mobile) {
		return &ValidationError{Field: "mobile", Message: "invalid mobile"}
	}
	return nil
}

// ValidateParentName requires a name unless the customer was prefilled.
func ValidateParentName(name string, existingCustomer bool) error {
	if existingCustomer {
		return nil
	}
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "parentName", Message: "missing name"}
	}
	return nil
}

// LatestBirthDate is the last date of birth accepted on the given day.
func LatestBirthDate(today time.Time) time.Time {
	y, m, d := today.Date()
	return time.Date(y-MinChildAgeYears, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateChild checks one record against the visit day.
func ValidateChild(rec ChildRecord, today time.Time) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(rec.LegalName) == "" {
		errs = append(errs, &ValidationError{Field: "legalName", ChildID: rec.ID, Message: "missing legal name"})
	}

	dob, err := time.Parse(DateLayout, strings.TrimSpace(rec.DateOfBirth))
	switch {
	case err != nil:
		errs = append(errs, &ValidationError{Field: "dob", ChildID: rec.ID, Message: "invalid date of birth"})
	case dob.After(LatestBirthDate(today)):
		errs = append(errs, &ValidationError{Field: "dob", ChildID: rec.ID, Message: "child must be at least 2 years old"})
	}
	return errs
}

// ValidateChildren checks every record. An empty list gets one blank
// record appended so there is always a row to fill in, and fails.
func ValidateChildren(children *[]ChildRecord, today time.Time) ValidationErrors {
	if len(*children) == 0 {
		*children = appendChild(*children, ChildInput{})
		return ValidationErrors{{Field: "children", Message: "at least one child is required"}}
	}

	var errs ValidationErrors
	for _, rec := range *children {
		errs = append(errs, ValidateChild(rec, today)...)
	}
	return errs
}
