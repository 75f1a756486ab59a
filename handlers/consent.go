package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/schema"

	"playzone-consent/models"
	"playzone-consent/monitoring"
	"playzone-consent/utils"
	"playzone-consent/wizard"
)

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// ConsentHandler serves the consent storage API used by the wizard.
type ConsentHandler struct {
	repo       models.Repository
	cache      utils.RedisClient
	kafka      utils.KafkaProducer
	search     utils.ElasticsearchClient
	signatures utils.SignatureStore
	logger     *slog.Logger

	topic    string
	location *time.Location
	cacheTTL time.Duration
	now      func() time.Time
}

type ConsentHandlerOptions struct {
	Topic    string
	Location *time.Location
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// NewConsentHandler wires the handler. Nil optional dependencies are
// skipped.
func NewConsentHandler(
	repo models.Repository,
	cache utils.RedisClient,
	kafka utils.KafkaProducer,
	search utils.ElasticsearchClient,
	signatures utils.SignatureStore,
	opts ConsentHandlerOptions,
) *ConsentHandler {
	if signatures == nil {
		signatures = utils.InlineSignatureStore{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.Topic == "" {
		opts.Topic = "consent_events"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ConsentHandler{
		repo:       repo,
		cache:      cache,
		kafka:      kafka,
		search:     search,
		signatures: signatures,
		logger:     opts.Logger,
		topic:      opts.Topic,
		location:   opts.Location,
		cacheTTL:   opts.CacheTTL,
		now:        time.Now,
	}
}

func (h *ConsentHandler) Register(r gin.IRouter) {
	g := r.Group("/api/v1/consent")
	g.GET("", h.GetConsent)
	g.POST("", h.CreateConsent)
	g.GET("/search", h.SearchConsents)
	g.DELETE("/:id", h.DeleteConsent)
}

type lookupQuery struct {
	Mobile string `schema:"mobile,required"`
}

type searchQuery struct {
	Q     string `schema:"q,required"`
	Limit int    `schema:"limit"`
}

type ConsentChild struct {
	LegalName   string `json:"legalName"`
	DisplayName string `json:"displayName"`
	DateOfBirth string `json:"dob"`
}

type ConsentData struct {
	ParentName string         `json:"parentName"`
	Children   []ConsentChild `json:"children"`
}

type LookupResponse struct {
	Exists bool         `json:"exists"`
	Data   *ConsentData `json:"data,omitempty"`
}

// discardSignature removes an upload whose consent was not saved. It runs
// even when the request has been cancelled.
func (h *ConsentHandler) discardSignature(ctx context.Context, signature utils.StoredSignature) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := h.signatures.Delete(ctx, signature.Ref); err != nil {
		h.logger.Warn("failed to delete orphaned signature", "ref", signature.Ref, "error", err)
	}
}

func lookupCacheKey(mobile string) string {
	return "consent:mobile:" + mobile
}

// GetConsent returns the latest stored details for a mobile number.
func (h *ConsentHandler) GetConsent(c *gin.Context) {
	var q lookupQuery
	if err := queryDecoder.Decode(&q, c.Request.URL.Query()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mobile is required"})
		return
	}
	mobile := strings.TrimSpace(q.Mobile)
	if err := wizard.ValidateMobile(mobile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if resp, ok := h.cachedLookup(ctx, mobile); ok {
		monitoring.LookupCacheHits.WithLabelValues("hit").Inc()
		c.JSON(http.StatusOK, resp)
		return
	}
	monitoring.LookupCacheHits.WithLabelValues("miss").Inc()

	consent, err := h.repo.LatestByMobile(ctx, mobile)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusOK, LookupResponse{Exists: false})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load consent"})
		return
	}

	resp := toLookupResponse(consent)
	h.cacheLookup(ctx, mobile, resp)
	c.JSON(http.StatusOK, resp)
}

// CreateConsent stores a signed consent. A second consent for the same
// mobile number on the same facility day is rejected with 409.
func (h *ConsentHandler) CreateConsent(c *gin.Context) {
	var req wizard.SubmitPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wizard.SubmitResponse{Success: false, Message: "invalid consent payload: " + err.Error()})
		return
	}

	today := h.now().In(h.location)
	consent, err := h.buildConsent(req, today)
	if err != nil {
		c.JSON(http.StatusBadRequest, wizard.SubmitResponse{Success: false, Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	exists, err := h.repo.HasConsentOn(ctx, consent.Mobile, consent.ConsentDate)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, wizard.SubmitResponse{Success: false, Message: "failed to store consent"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, wizard.SubmitResponse{Success: false, Message: models.ErrDuplicateSubmission.Error()})
		return
	}

	signature, err := h.signatures.Store(ctx, consent.Mobile, req.Signature)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, wizard.SubmitResponse{Success: false, Message: "failed to store signature"})
		return
	}
	consent.SignatureURL = signature.URL

	if err := h.repo.CreateConsent(ctx, consent); err != nil {
		h.discardSignature(ctx, signature)
		if errors.Is(err, models.ErrDuplicateSubmission) {
			c.JSON(http.StatusConflict, wizard.SubmitResponse{Success: false, Message: err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, wizard.SubmitResponse{Success: false, Message: "failed to store consent"})
		return
	}
	monitoring.ConsentsStored.Inc()
	h.logger.Info("consent stored", "consent_id", consent.ID, "children", len(consent.Children))

	h.cacheLookup(ctx, consent.Mobile, toLookupResponse(consent))
	if h.kafka != nil {
		go h.sendKafkaEvent(models.EventConsentSubmitted, consent)
	}

	c.JSON(http.StatusCreated, wizard.SubmitResponse{Success: true})
}

// DeleteConsent removes a stored consent, for corrections made at the
// front desk.
func (h *ConsentHandler) DeleteConsent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid consent ID format"})
		return
	}

	ctx := c.Request.Context()
	consent, err := h.repo.DeleteConsent(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "consent not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete consent"})
		return
	}

	if h.cache != nil {
		if err := h.cache.DeleteFromCache(ctx, lookupCacheKey(consent.Mobile)); err != nil {
			h.logger.Warn("consent cache delete failed", "error", err)
		}
	}
	if h.kafka != nil {
		go h.sendKafkaEvent(models.EventConsentDeleted, consent)
	}

	c.Status(http.StatusNoContent)
}

func (h *ConsentHandler) SearchConsents(c *gin.Context) {
	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}
	var q searchQuery
	if err := queryDecoder.Decode(&q, c.Request.URL.Query()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	docs, err := h.search.SearchConsents(c.Request.Context(), q.Q, q.Limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": docs, "count": len(docs)})
}

// buildConsent validates the payload the same way the wizard does.
func (h *ConsentHandler) buildConsent(req wizard.SubmitPayload, today time.Time) (*models.Consent, error) {
	mobile := strings.TrimSpace(req.Mobile)
	var errs wizard.ValidationErrors
	if err := wizard.ValidateMobile(mobile); err != nil {
		errs = append(errs, err.(*wizard.ValidationError))
	}
	if err := wizard.ValidateParentName(req.ParentName, false); err != nil {
		errs = append(errs, err.(*wizard.ValidationError))
	}

	consent := &models.Consent{
		Mobile:      mobile,
		ConsentDate: time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC),
		ParentName:  strings.TrimSpace(req.ParentName),
	}
	for i, wc := range req.Children {
		in := wc.Input()
		rec := wizard.ChildRecord{
			ID:          childKey(i),
			Index:       i + 1,
			LegalName:   strings.TrimSpace(in.LegalName),
			DisplayName: strings.TrimSpace(in.DisplayName),
			DateOfBirth: strings.TrimSpace(in.DateOfBirth),
		}
		if cerrs := wizard.ValidateChild(rec, today); len(cerrs) > 0 {
			errs = append(errs, cerrs...)
			continue
		}
		dob, _ := time.Parse(wizard.DateLayout, rec.DateOfBirth)
		consent.Children = append(consent.Children, models.Child{
			LegalName:   rec.LegalName,
			DisplayName: rec.DisplayName,
			DateOfBirth: dob,
		})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if _, _, err := wizard.DecodeSignature(req.Signature); err != nil {
		return nil, err
	}
	return consent, nil
}

func childKey(i int) string {
	return "child-" + strconv.Itoa(i+1)
}

func (h *ConsentHandler) cachedLookup(ctx context.Context, mobile string) (LookupResponse, bool) {
	if h.cache == nil {
		return LookupResponse{}, false
	}
	raw, err := h.cache.GetFromCache(ctx, lookupCacheKey(mobile))
	if err != nil {
		if !errors.Is(err, utils.ErrCacheMiss) {
			h.logger.Warn("consent cache read failed", "error", err)
		}
		return LookupResponse{}, false
	}
	var resp LookupResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return LookupResponse{}, false
	}
	return resp, true
}

func (h *ConsentHandler) cacheLookup(ctx context.Context, mobile string, resp LookupResponse) {
	if h.cache == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := h.cache.SetToCache(ctx, lookupCacheKey(mobile), string(raw), h.cacheTTL); err != nil {
		h.logger.Warn("consent cache write failed", "error", err)
	}
}

func (h *ConsentHandler) sendKafkaEvent(eventType string, consent *models.Consent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := models.ConsentEvent{Event: eventType, Data: models.NewConsentDocument(consent)}
	jsonData, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal Kafka event", "error", err)
		return
	}

	if err := h.kafka.SendMessage(ctx, h.topic, []byte(consent.Mobile), jsonData); err != nil {
		h.logger.Error("failed to send Kafka message", "topic", h.topic, "error", err)
	}
}

func toLookupResponse(consent *models.Consent) LookupResponse {
	data := &ConsentData{
		ParentName: consent.ParentName,
		Children:   make([]ConsentChild, len(consent.Children)),
	}
	for i, ch := range consent.Children {
		data.Children[i] = ConsentChild{
			LegalName:   ch.LegalName,
			DisplayName: ch.DisplayName,
			DateOfBirth: ch.DateOfBirth.Format(wizard.DateLayout),
		}
	}
	return LookupResponse{Exists: true, Data: data}
}
