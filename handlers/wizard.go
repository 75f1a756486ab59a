package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"playzone-consent/utils"
	"playzone-consent/wizard"
)

// SessionStore persists wizard sessions between requests.
type SessionStore interface {
	Load(ctx context.Context, id string) (wizard.Session, error)
	Save(ctx context.Context, s wizard.Session) error
	// SaveIfUnchanged saves only while the stored copy still matches
	// s.Revision and reports whether it did.
	SaveIfUnchanged(ctx context.Context, s wizard.Session) (bool, error)
	Delete(ctx context.Context, id string) error
	// Watch signals writes made to the session by other requests.
	Watch(ctx context.Context, id string) (utils.Subscription, error)
	LockSubmission(ctx context.Context, id string, ttl time.Duration) (func(), bool, error)
}

// WizardHandler exposes the consent wizard as a JSON API. Every request
// loads the session, applies one user action and saves the result.
type WizardHandler struct {
	store   SessionStore
	backend wizard.Backend
	opts    wizard.Options
	logger  *slog.Logger
}

func NewWizardHandler(store SessionStore, backend wizard.Backend, opts wizard.Options) *WizardHandler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = wizard.NewResolver(backend, opts.Timeout, opts.Logger, opts.Observer)
	}
	return &WizardHandler{store: store, backend: backend, opts: opts, logger: opts.Logger}
}

func (h *WizardHandler) Register(r gin.IRouter) {
	g := r.Group("/wizard/sessions")
	g.POST("", h.CreateSession)
	g.GET("/:id", h.GetSession)
	g.POST("/:id/mobile", h.EnterMobile)
	g.PUT("/:id/parent", h.SetParentName)
	g.POST("/:id/children", h.AddChild)
	g.PUT("/:id/children/:childId", h.UpdateChild)
	g.DELETE("/:id/children/:childId", h.RemoveChild)
	g.POST("/:id/continue", h.Continue)
	g.POST("/:id/back", h.Back)
	g.POST("/:id/submit", h.Submit)
}

type wizardResponse struct {
	wizard.View
	Errors      wizard.ValidationErrors `json:"errors,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Duplicate   bool                    `json:"duplicate,omitempty"`
	RedirectURL string                  `json:"redirectUrl,omitempty"`
}

type mobileRequest struct {
	Mobile string `json:"mobile"`
}

type parentRequest struct {
	ParentName string `json:"parentName"`
}

type childRequest struct {
	LegalName   string `json:"legalName"`
	DisplayName string `json:"displayName"`
	DateOfBirth string `json:"dob"`
}

func (r childRequest) input() wizard.ChildInput {
	return wizard.ChildInput{LegalName: r.LegalName, DisplayName: r.DisplayName, DateOfBirth: r.DateOfBirth}
}

type submitRequest struct {
	Signature string `json:"signature"`
}

func (h *WizardHandler) CreateSession(c *gin.Context) {
	w, err := wizard.New(h.backend, h.opts)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}
	if !h.save(c, w) {
		return
	}
	c.JSON(http.StatusCreated, wizardResponse{View: w.View()})
}

func (h *WizardHandler) GetSession(c *gin.Context) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, wizardResponse{View: w.View()})
}

// EnterMobile runs the customer lookup. A write to the session by another
// request (a Back, say) cancels the lookup, and the result is only saved
// over the revision it started from.
func (h *WizardHandler) EnterMobile(c *gin.Context) {
	var req mobileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, ok := h.load(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()
	id := w.Session().ID
	ctx, cancel := context.WithCancel(reqCtx)
	defer cancel()

	var moved atomic.Bool
	if sub, err := h.store.Watch(ctx, id); err != nil {
		h.logger.Warn("session watch unavailable", "session", id, "error", err)
	} else {
		defer sub.Close()
		go func() {
			select {
			case <-sub.Messages():
				moved.Store(true)
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	if err := w.EnterMobile(ctx, req.Mobile); err != nil {
		h.fail(c, w, err)
		return
	}
	if moved.Load() {
		h.abandoned(c, id)
		return
	}

	saved, err := h.store.SaveIfUnchanged(reqCtx, w.Session())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return
	}
	if !saved {
		h.abandoned(c, id)
		return
	}
	c.JSON(http.StatusOK, wizardResponse{View: w.View()})
}

// abandoned reports a lookup overtaken by another request along with the
// session as that request left it.
func (h *WizardHandler) abandoned(c *gin.Context, id string) {
	current, err := h.store.Load(c.Request.Context(), id)
	if errors.Is(err, utils.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	w, err := wizard.Resume(h.backend, current, h.opts)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusConflict, wizardResponse{View: w.View(), Error: wizard.ErrLookupAbandoned.Error()})
}

func (h *WizardHandler) SetParentName(c *gin.Context) {
	var req parentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.apply(c, func(w *wizard.Wizard) error { return w.SetParentName(req.ParentName) })
}

func (h *WizardHandler) AddChild(c *gin.Context) {
	var req childRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.apply(c, func(w *wizard.Wizard) error {
		_, err := w.AddChild(req.input())
		return err
	})
}

func (h *WizardHandler) UpdateChild(c *gin.Context) {
	var req childRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	childID := c.Param("childId")
	h.apply(c, func(w *wizard.Wizard) error { return w.UpdateChild(childID, req.input()) })
}

func (h *WizardHandler) RemoveChild(c *gin.Context) {
	childID := c.Param("childId")
	h.apply(c, func(w *wizard.Wizard) error { return w.RemoveChild(childID) })
}

func (h *WizardHandler) Continue(c *gin.Context) {
	h.apply(c, func(w *wizard.Wizard) error {
		_, err := w.Continue()
		return err
	})
}

func (h *WizardHandler) Back(c *gin.Context) {
	h.apply(c, func(w *wizard.Wizard) error {
		w.Back()
		return nil
	})
}

func (h *WizardHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, ok := h.load(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	id := w.Session().ID
	release, locked, err := h.store.LockSubmission(ctx, id, h.submitLockTTL())
	if err != nil {
		h.fail(c, w, err)
		return
	}
	if !locked {
		h.fail(c, w, wizard.ErrSubmissionInProgress)
		return
	}
	defer release()

	done, err := w.Submit(ctx, req.Signature)
	if err != nil {
		h.fail(c, w, err)
		return
	}

	if err := h.store.Delete(ctx, id); err != nil {
		h.logger.Warn("failed to delete completed wizard session", "session", id, "error", err)
	}
	c.JSON(http.StatusOK, wizardResponse{View: w.View(), RedirectURL: done.RedirectURL})
}

func (h *WizardHandler) submitLockTTL() time.Duration {
	if h.opts.Timeout > 0 {
		return h.opts.Timeout + 5*time.Second
	}
	return 15 * time.Second
}

// apply runs one synchronous wizard action and saves the session on success.
func (h *WizardHandler) apply(c *gin.Context, action func(w *wizard.Wizard) error) {
	w, ok := h.load(c)
	if !ok {
		return
	}
	if err := action(w); err != nil {
		h.fail(c, w, err)
		return
	}
	h.respond(c, w)
}

func (h *WizardHandler) load(c *gin.Context) (*wizard.Wizard, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}

	s, err := h.store.Load(c.Request.Context(), id)
	if errors.Is(err, utils.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return nil, false
	}
	w, err := wizard.Resume(h.backend, s, h.opts)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return nil, false
	}
	return w, true
}

func (h *WizardHandler) save(c *gin.Context, w *wizard.Wizard) bool {
	if err := h.store.Save(c.Request.Context(), w.Session()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return false
	}
	return true
}

func (h *WizardHandler) respond(c *gin.Context, w *wizard.Wizard) {
	if !h.save(c, w) {
		return
	}
	c.JSON(http.StatusOK, wizardResponse{View: w.View()})
}

// fail maps a wizard error onto a status code. Validation may have changed
// the session (an empty child list gains a blank row), so it is saved.
func (h *WizardHandler) fail(c *gin.Context, w *wizard.Wizard, err error) {
	resp := wizardResponse{View: w.View()}

	var (
		verrs  wizard.ValidationErrors
		verr   *wizard.ValidationError
		appErr *wizard.ApplicationError
		netErr *wizard.NetworkError
	)
	switch {
	case errors.As(err, &verrs):
		if !h.save(c, w) {
			return
		}
		resp.Errors = verrs
		c.JSON(http.StatusUnprocessableEntity, resp)
	case errors.As(err, &verr):
		resp.Errors = wizard.ValidationErrors{verr}
		c.JSON(http.StatusUnprocessableEntity, resp)
	case errors.Is(err, wizard.ErrSignatureRequired):
		resp.Errors = wizard.ValidationErrors{{Field: "signature", Message: "signature required"}}
		c.JSON(http.StatusUnprocessableEntity, resp)
	case errors.As(err, &appErr):
		resp.Error = appErr.UserMessage()
		resp.Duplicate = appErr.Duplicate
		c.JSON(http.StatusConflict, resp)
	case errors.As(err, &netErr):
		resp.Error = "The consent service could not be reached. Please try again."
		c.JSON(http.StatusBadGateway, resp)
	case errors.Is(err, wizard.ErrChildNotFound):
		resp.Error = err.Error()
		c.JSON(http.StatusNotFound, resp)
	case errors.Is(err, wizard.ErrWrongStep),
		errors.Is(err, wizard.ErrSubmissionInProgress),
		errors.Is(err, wizard.ErrLookupAbandoned),
		errors.Is(err, wizard.ErrParentNameReadOnly),
		errors.Is(err, wizard.ErrChildNotRemovable):
		resp.Error = err.Error()
		c.JSON(http.StatusConflict, resp)
	default:
		_ = c.Error(err)
		resp.Error = "internal error"
		c.JSON(http.StatusInternalServerError, resp)
	}
}
