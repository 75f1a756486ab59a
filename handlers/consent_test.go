package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playzone-consent/models"
	"playzone-consent/wizard"
)

type consentFixture struct {
	router     *gin.Engine
	repo       *fakeRepo
	cache      *fakeCache
	kafka      *fakeKafka
	signatures *fakeSignatures
}

func setupConsentRouter(t *testing.T) consentFixture {
	t.Helper()
	f := consentFixture{
		repo:       &fakeRepo{},
		cache:      newFakeCache(),
		kafka:      &fakeKafka{sent: make(chan []byte, 4)},
		signatures: newFakeSignatures(),
	}
	search := &fakeSearch{docs: []models.ConsentDocument{{ID: "1", ParentName: "Asha Rao"}}}
	h := NewConsentHandler(f.repo, f.cache, f.kafka, search, f.signatures, ConsentHandlerOptions{})
	h.now = func() time.Time { return testToday }

	f.router = gin.New()
	h.Register(f.router)
	return f
}

func validPayload(t *testing.T) map[string]any {
	return map[string]any{
		"parentName": "Asha Rao",
		"mobile":     "9876543210",
		"children": []map[string]string{
			{"legalname": "Meera Rao", "displayname": "Mimi", "dob": "2019-05-01"},
			{"legalName": "Arjun Rao", "dateOfBirth": "2021-02-03"},
		},
		"signature": signatureDataURL(t, true),
	}
}

func TestGetConsent_Unknown(t *testing.T) {
	f := setupConsentRouter(t)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/consent?mobile=9876543210", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"exists":false}`, w.Body.String())
}

func TestGetConsent_InvalidMobile(t *testing.T) {
	f := setupConsentRouter(t)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/consent", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/consent?mobile=555", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateConsent_ThenLookup(t *testing.T) {
	f := setupConsentRouter(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/consent", validPayload(t))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	require.Len(t, f.repo.consents, 1)
	stored := f.repo.consents[0]
	assert.Equal(t, time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC), stored.ConsentDate)
	require.Len(t, stored.Children, 2)
	assert.Equal(t, "Mimi", stored.Children[0].DisplayName)
	assert.Equal(t, time.Date(2021, 2, 3, 0, 0, 0, 0, time.UTC), stored.Children[1].DateOfBirth)
	assert.Equal(t, "https://img.example/9876543210-1.png", stored.SignatureURL)

	select {
	case raw := <-f.kafka.sent:
		var event models.ConsentEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, models.EventConsentSubmitted, event.Event)
		assert.Equal(t, "9876543210", event.Data.Mobile)
		assert.Len(t, event.Data.Children, 2)
	case <-time.After(time.Second):
		t.Fatal("no consent event published")
	}

	// served from the cache written on create
	w = doJSON(t, f.router, http.MethodGet, "/api/v1/consent?mobile=9876543210", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.repo.lookups)

	var lookup wizard.LookupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lookup))
	res := lookup.Result()
	assert.True(t, res.Exists)
	assert.Equal(t, "Asha Rao", res.ParentName)
	require.Len(t, res.Children, 2)
	assert.Equal(t, wizard.ChildInput{LegalName: "Meera Rao", DisplayName: "Mimi", DateOfBirth: "2019-05-01"}, res.Children[0])
}

func TestGetConsent_FallsBackToRepository(t *testing.T) {
	f := setupConsentRouter(t)
	f.repo.consents = []*models.Consent{{
		Mobile:     "9876543210",
		ParentName: "Asha Rao",
		Children:   []models.Child{{LegalName: "Meera Rao", DateOfBirth: time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)}},
	}}

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/consent?mobile=9876543210", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"exists":true,"data":{"parentName":"Asha Rao","children":[{"legalName":"Meera Rao","displayName":"","dob":"2019-05-01"}]}}`,
		w.Body.String())
	assert.Equal(t, 1, f.repo.lookups)
	assert.Contains(t, f.cache.data, "consent:mobile:9876543210")
}

func TestCreateConsent_DuplicateSameDay(t *testing.T) {
	f := setupConsentRouter(t)

	w := doJSON(t, f.router, http.MethodPost, "/api/v1/consent", validPayload(t))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, f.router, http.MethodPost, "/api/v1/consent", validPayload(t))

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp wizard.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "already submitted today")

	uploads, live := f.signatures.count()
	assert.Equal(t, 1, uploads, "duplicate is rejected before uploading")
	assert.Equal(t, 1, live)
}

func TestCreateConsent_FailedInsertDiscardsSignature(t *testing.T) {
	f := setupConsentRouter(t)
	w := doJSON(t, f.router, http.MethodPost, "/api/v1/consent", validPayload(t))
	require.Equal(t, http.StatusCreated, w.Code)

	f.repo.racingInsert = true
	w = doJSON(t, f.router, http.MethodPost, "/api/v1/consent", validPayload(t))

	assert.Equal(t, http.StatusConflict, w.Code)
	uploads, live := f.signatures.count()
	assert.Equal(t, 2, uploads)
	assert.Equal(t, 1, live, "only the stored consent keeps its signature")
	assert.Len(t, f.repo.consents, 1)
}

func TestCreateConsent_RejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p map[string]any)
	}{
		{"missing children", func(p map[string]any) { p["children"] = []map[string]string{} }},
		{"bad mobile", func(p map[string]any) { p["mobile"] = "1234567890" }},
		{"child too young", func(p map[string]any) {
			p["children"] = []map[string]string{{"legalname": "Baby Rao", "dob": "2024-10-15"}}
		}},
		{"blank signature", func(p map[string]any) { p["signature"] = signatureDataURL(t, false) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupConsentRouter(t)
			p := validPayload(t)
			tt.mutate(p)

			w := doJSON(t, f.router, http.MethodPost, "/api/v1/consent", p)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"success":false`)
			assert.Empty(t, f.repo.consents)
		})
	}
}

func TestSearchConsents(t *testing.T) {
	f := setupConsentRouter(t)

	w := doJSON(t, f.router, http.MethodGet, "/api/v1/consent/search?q=Asha", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(t, f.router, http.MethodGet, "/api/v1/consent/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteConsent(t *testing.T) {
	f := setupConsentRouter(t)
	w := doJSON(t, f.router, http.MethodPost, "/api/v1/consent", validPayload(t))
	require.Equal(t, http.StatusCreated, w.Code)
	<-f.kafka.sent
	id := f.repo.consents[0].ID.String()

	w = doJSON(t, f.router, http.MethodDelete, "/api/v1/consent/"+id, nil)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.repo.consents)
	assert.NotContains(t, f.cache.data, "consent:mobile:9876543210")

	select {
	case raw := <-f.kafka.sent:
		var event models.ConsentEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, models.EventConsentDeleted, event.Event)
		assert.Equal(t, id, event.Data.ID)
	case <-time.After(time.Second):
		t.Fatal("no delete event published")
	}

	w = doJSON(t, f.router, http.MethodDelete, "/api/v1/consent/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, f.router, http.MethodDelete, "/api/v1/consent/nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
