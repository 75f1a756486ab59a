package wizard

import (
	"errors"
	"net/url"
)

// CompletionURL is the page shown after a stored consent.
func CompletionURL(page, mobile string) string {
	return page + "?" + url.Values{"mobile": {mobile}}.Encode()
}

func buildPayload(s Session) SubmitPayload {
	p := SubmitPayload{
		ParentName: s.ParentName,
		Mobile:     s.Mobile,
		Children:   make([]WireChild, len(s.Children)),
		Signature:  s.Signature,
	}
	for i, c := range s.Children {
		p.Children[i] = WireChild{LegalName: c.LegalName, DisplayName: c.DisplayName, DOB: c.DateOfBirth}
	}
	return p
}

func outcomeOf(err error) string {
	var appErr *ApplicationError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &appErr) && appErr.Duplicate:
		return OutcomeDuplicate
	case errors.As(err, &appErr):
		return OutcomeRejected
	default:
		return OutcomeNetwork
	}
}
