package wizard

import (
	"fmt"
	"strings"
)

// ChildName is the legal name, with the display name in parentheses when set.
func ChildName(c ChildRecord) string {
	legal := strings.TrimSpace(c.LegalName)
	if display := strings.TrimSpace(c.DisplayName); display != "" {
		return fmt.Sprintf("%s (%s)", legal, display)
	}
	return legal
}

// ComposeConsentText builds the statement shown above the signature pad.
func ComposeConsentText(parentName string, children []ChildRecord) string {
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = ChildName(c)
	}
	return fmt.Sprintf(
		"I, %s, am the parent or legal guardian of %s. I consent to my child(ren) "+
			"using the play facility and its equipment, confirm that I have read and accept "+
			"the facility rules and waiver, and accept responsibility for their supervision "+
			"during the visit.",
		strings.TrimSpace(parentName), strings.Join(names, ", "),
	)
}
