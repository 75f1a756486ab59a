// Package wizard implements the three-step consent form: mobile lookup,
// parent and child details, then signature and submission.
package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
)

// Observer receives wizard events, typically for metrics.
type Observer interface {
	StepChanged(from, to Step)
	PrefillFailed()
	SubmissionFinished(outcome string)
}

type nopObserver struct{}

func (nopObserver) StepChanged(Step, Step)    {}
func (nopObserver) PrefillFailed()            {}
func (nopObserver) SubmissionFinished(string) {}

// Submission outcomes reported to the Observer.
const (
	OutcomeSuccess   = "success"
	OutcomeBlocked   = "blocked"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeNetwork   = "network_error"
)

// Options tunes a Wizard. Zero values take the defaults below.
type Options struct {
	Timeout        time.Duration `default:"10s"`
	CompletionPage string        `default:"complete.html"`

	Now      func() time.Time
	Logger   *slog.Logger
	Observer Observer
	// Resolver is shared between wizards so lookups of the same mobile
	// are deduplicated; nil gets a private one.
	Resolver *Resolver
}

// Completion is the result of a stored consent.
type Completion struct {
	RedirectURL string `json:"redirectUrl"`
}

// View is what the current step renders.
type View struct {
	SessionID          string     `json:"sessionId"`
	Step               Step       `json:"step"`
	Mobile             string     `json:"mobile,omitempty"`
	ParentName         string     `json:"parentName"`
	ParentNameReadOnly bool       `json:"parentNameReadOnly"`
	ExistingCustomer   bool       `json:"existingCustomer"`
	Children           []ChildRow `json:"children"`
	ConsentText        string     `json:"consentText,omitempty"`
}

// Wizard drives one Session through the steps. It is safe for concurrent
// use; backend calls run without holding the lock.
type Wizard struct {
	backend  Backend
	resolver *Resolver
	opts     Options

	mu         sync.Mutex
	session    Session
	generation uint64
	cancel     context.CancelFunc
	submitting bool
}

// New starts a fresh session.
func New(backend Backend, opts Options) (*Wizard, error) {
	return Resume(backend, NewSession(uuid.NewString()), opts)
}

// Resume continues a previously saved session.
func Resume(backend Backend, s Session, opts Options) (*Wizard, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("wizard options: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(backend, opts.Timeout, opts.Logger, opts.Observer)
	}
	if s.Step == "" {
		s.Step = StepMobileEntry
	}
	w := &Wizard{backend: backend, resolver: opts.Resolver, opts: opts, session: s.clone()}
	reindex(w.session.Children)
	return w, nil
}

// Session returns a copy of the current state.
func (w *Wizard) Session() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.clone()
}

// View renders the current step.
func (w *Wizard) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.session
	v := View{
		SessionID:          s.ID,
		Step:               s.Step,
		Mobile:             s.Mobile,
		ParentName:         s.ParentName,
		ParentNameReadOnly: s.ExistingCustomer,
		ExistingCustomer:   s.ExistingCustomer,
		Children:           RenderChildren(s.Children),
	}
	if s.Step == StepConsent {
		v.ConsentText = ComposeConsentText(s.ParentName, s.Children)
	}
	return v
}

// EnterMobile validates the number, prefills from the backend and moves to
// the details step. Any earlier session state is discarded. If the session
// is reset while the lookup is pending, ErrLookupAbandoned is returned and
// the result is dropped.
func (w *Wizard) EnterMobile(ctx context.Context, mobile string) error {
	mobile = strings.TrimSpace(mobile)
	if err := ValidateMobile(mobile); err != nil {
		return err
	}

	w.mu.Lock()
	if w.session.Step != StepMobileEntry {
		w.mu.Unlock()
		return ErrWrongStep
	}
	w.resetLocked()
	gen := w.generation
	lctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	res := w.resolver.Resolve(lctx, mobile)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation {
		return ErrLookupAbandoned
	}
	w.cancel = nil

	w.session.Mobile = mobile
	if res.Exists {
		w.session.ParentName = res.ParentName
		w.session.ExistingCustomer = true
		for _, c := range res.Children {
			w.session.Children = appendChild(w.session.Children, c)
		}
	}
	if len(w.session.Children) == 0 {
		w.session.Children = appendChild(w.session.Children, ChildInput{})
	}
	w.moveLocked(StepDetails)
	return nil
}

// SetParentName edits the parent name on the details step. Prefilled names
// cannot be changed.
func (w *Wizard) SetParentName(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.Step != StepDetails {
		return ErrWrongStep
	}
	name = strings.TrimSpace(name)
	if w.session.ExistingCustomer {
		if name != "" && name != w.session.ParentName {
			return ErrParentNameReadOnly
		}
		return nil
	}
	w.session.ParentName = name
	w.touchLocked()
	return nil
}

// AddChild appends a child row.
func (w *Wizard) AddChild(in ChildInput) (ChildRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.Step != StepDetails {
		return ChildRecord{}, ErrWrongStep
	}
	w.session.Children = appendChild(w.session.Children, in)
	w.touchLocked()
	return w.session.Children[len(w.session.Children)-1], nil
}

// UpdateChild replaces the fields of a child row.
func (w *Wizard) UpdateChild(id string, in ChildInput) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.Step != StepDetails {
		return ErrWrongStep
	}
	i := findChild(w.session.Children, id)
	if i < 0 {
		return ErrChildNotFound
	}
	rec := newChild(in)
	rec.ID, rec.Index = id, w.session.Children[i].Index
	w.session.Children[i] = rec
	w.touchLocked()
	return nil
}

// RemoveChild drops a child row and renumbers the rest.
func (w *Wizard) RemoveChild(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.Step != StepDetails {
		return ErrWrongStep
	}
	children, err := removeChild(w.session.Children, id)
	if err != nil {
		return err
	}
	w.session.Children = children
	w.touchLocked()
	return nil
}

// Continue validates the details and moves to the consent step, returning
// the statement to sign. Failures come back as ValidationErrors.
func (w *Wizard) Continue() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session.Step != StepDetails {
		return "", ErrWrongStep
	}

	var errs ValidationErrors
	if err := ValidateParentName(w.session.ParentName, w.session.ExistingCustomer); err != nil {
		errs = append(errs, err.(*ValidationError))
	}
	errs = append(errs, ValidateChildren(&w.session.Children, w.opts.Now())...)
	if len(errs) > 0 {
		return "", errs
	}

	w.moveLocked(StepConsent)
	return ComposeConsentText(w.session.ParentName, w.session.Children), nil
}

// Back goes one step back. Leaving the details step clears the session; on
// the first step it abandons a pending lookup.
func (w *Wizard) Back() {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.session.Step {
	case StepConsent:
		w.moveLocked(StepDetails)
	case StepDetails:
		w.resetLocked()
		w.opts.Observer.StepChanged(StepDetails, StepMobileEntry)
	default:
		w.resetLocked()
	}
}

// Submit checks the signature and stores the consent. On any failure the
// wizard stays on the consent step so the parent can retry.
func (w *Wizard) Submit(ctx context.Context, signature string) (Completion, error) {
	w.mu.Lock()
	if w.session.Step != StepConsent {
		w.mu.Unlock()
		return Completion{}, ErrWrongStep
	}
	if w.submitting {
		w.mu.Unlock()
		return Completion{}, ErrSubmissionInProgress
	}
	if _, _, err := DecodeSignature(signature); err != nil {
		w.mu.Unlock()
		w.opts.Observer.SubmissionFinished(OutcomeBlocked)
		return Completion{}, err
	}
	w.session.Signature = signature
	payload := buildPayload(w.session)
	w.submitting = true
	w.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()
	err := w.backend.Submit(sctx, payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	w.opts.Observer.SubmissionFinished(outcomeOf(err))
	if err != nil {
		w.opts.Logger.Warn("consent submission failed", "session", w.session.ID, "error", err)
		return Completion{}, err
	}
	w.opts.Logger.Info("consent submitted", "session", w.session.ID, "children", len(payload.Children))
	return Completion{RedirectURL: CompletionURL(w.opts.CompletionPage, payload.Mobile)}, nil
}

func (w *Wizard) resetLocked() {
	w.generation++
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.session.reset()
	w.touchLocked()
}

func (w *Wizard) moveLocked(to Step) {
	from := w.session.Step
	w.session.Step = to
	w.touchLocked()
	w.opts.Observer.StepChanged(from, to)
}

func (w *Wizard) touchLocked() {
	w.session.UpdatedAt = w.opts.Now()
}
