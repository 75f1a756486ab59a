package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"playzone-consent/models"
	"playzone-consent/utils"
	"playzone-consent/wizard"
)

var testToday = time.Date(2026, time.October, 14, 15, 30, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
	locked   map[string]bool
	watchers map[string][]chan string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: map[string][]byte{},
		locked:   map[string]bool{},
		watchers: map[string][]chan string{},
	}
}

func (f *fakeSessionStore) Load(_ context.Context, id string) (wizard.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.sessions[id]
	if !ok {
		return wizard.Session{}, utils.ErrSessionNotFound
	}
	var s wizard.Session
	err := json.Unmarshal(raw, &s)
	s.Revision = utils.Digest(string(raw))
	return s, err
}

func (f *fakeSessionStore) Save(_ context.Context, s wizard.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = raw
	f.notifyLocked(s.ID)
	return nil
}

func (f *fakeSessionStore) SaveIfUnchanged(_ context.Context, s wizard.Session) (bool, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.sessions[s.ID]
	if !ok || utils.Digest(string(cur)) != s.Revision {
		return false, nil
	}
	f.sessions[s.ID] = raw
	f.notifyLocked(s.ID)
	return true, nil
}

func (f *fakeSessionStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	f.notifyLocked(id)
	return nil
}

func (f *fakeSessionStore) Watch(_ context.Context, id string) (utils.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan string, 4)
	f.watchers[id] = append(f.watchers[id], ch)
	return fakeSubscription(ch), nil
}

func (f *fakeSessionStore) notifyLocked(id string) {
	for _, ch := range f.watchers[id] {
		select {
		case ch <- id:
		default:
		}
	}
}

type fakeSubscription chan string

func (s fakeSubscription) Messages() <-chan string { return s }
func (s fakeSubscription) Close() error            { return nil }

func (f *fakeSessionStore) LockSubmission(_ context.Context, id string, _ time.Duration) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[id] {
		return func() {}, false, nil
	}
	f.locked[id] = true
	return func() {
		f.mu.Lock()
		delete(f.locked, id)
		f.mu.Unlock()
	}, true, nil
}

type fakeBackend struct {
	lookup func(mobile string) (wizard.LookupResult, error)
	// lookupCtx, when set, replaces lookup and sees the lookup context.
	lookupCtx func(ctx context.Context, mobile string) (wizard.LookupResult, error)
	submit    func(p wizard.SubmitPayload) error

	mu          sync.Mutex
	submissions []wizard.SubmitPayload
}

func (f *fakeBackend) Lookup(ctx context.Context, mobile string) (wizard.LookupResult, error) {
	if f.lookupCtx != nil {
		return f.lookupCtx(ctx, mobile)
	}
	if f.lookup == nil {
		return wizard.LookupResult{}, nil
	}
	return f.lookup(mobile)
}

func (f *fakeBackend) Submit(_ context.Context, p wizard.SubmitPayload) error {
	f.mu.Lock()
	f.submissions = append(f.submissions, p)
	f.mu.Unlock()
	if f.submit == nil {
		return nil
	}
	return f.submit(p)
}

type fakeRepo struct {
	mu       sync.Mutex
	consents []*models.Consent
	lookups  int
	// racingInsert hides existing rows from HasConsentOn, as when two
	// submissions pass the check before either inserts.
	racingInsert bool
}

func (f *fakeRepo) HasConsentOn(_ context.Context, mobile string, day time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.racingInsert {
		return false, nil
	}
	for _, c := range f.consents {
		if c.Mobile == mobile && c.ConsentDate.Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) CreateConsent(_ context.Context, c *models.Consent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.consents {
		if existing.Mobile == c.Mobile && existing.ConsentDate.Equal(c.ConsentDate) {
			return models.ErrDuplicateSubmission
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = testToday
	f.consents = append(f.consents, c)
	return nil
}

func (f *fakeRepo) LatestByMobile(_ context.Context, mobile string) (*models.Consent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	for i := len(f.consents) - 1; i >= 0; i-- {
		if f.consents[i].Mobile == mobile {
			return f.consents[i], nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeRepo) DeleteConsent(_ context.Context, id uuid.UUID) (*models.Consent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.consents {
		if c.ID == id {
			f.consents = append(f.consents[:i], f.consents[i+1:]...)
			return c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string]string{}} }

func (f *fakeCache) GetFromCache(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", utils.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) SetToCache(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	f.data[key] = value
	f.mu.Unlock()
	return nil
}

func (f *fakeCache) DeleteFromCache(_ context.Context, keys ...string) error {
	f.mu.Lock()
	for _, k := range keys {
		delete(f.data, k)
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeCache) CompareAndSwap(_ context.Context, key, digest, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.data[key]
	if ok && utils.Digest(cur) != digest || !ok && digest != "" {
		return false, nil
	}
	f.data[key] = value
	return true, nil
}

func (f *fakeCache) AcquireLock(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = token
	return true, nil
}

func (f *fakeCache) ReleaseLock(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[key] == token {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeCache) Publish(context.Context, string, string) error { return nil }

func (f *fakeCache) Subscribe(context.Context, string) (utils.Subscription, error) {
	return fakeSubscription(make(chan string)), nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }
func (f *fakeCache) Close() error               { return nil }

type fakeSignatures struct {
	mu     sync.Mutex
	nextID int
	stored map[string]string
}

func newFakeSignatures() *fakeSignatures {
	return &fakeSignatures{stored: map[string]string{}}
}

func (f *fakeSignatures) Store(_ context.Context, mobile, dataURL string) (utils.StoredSignature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := mobile + "-" + strconv.Itoa(f.nextID)
	f.stored[ref] = dataURL
	return utils.StoredSignature{URL: "https://img.example/" + ref + ".png", Ref: ref}, nil
}

func (f *fakeSignatures) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	delete(f.stored, ref)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignatures) count() (uploads, live int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID, len(f.stored)
}

type fakeKafka struct {
	sent chan []byte
}

func (f *fakeKafka) SendMessage(_ context.Context, _ string, _, value []byte) error {
	f.sent <- value
	return nil
}

func (f *fakeKafka) Close() error { return nil }

type fakeSearch struct {
	docs []models.ConsentDocument
}

func (f *fakeSearch) IndexConsent(context.Context, models.ConsentDocument) error { return nil }
func (f *fakeSearch) DeleteConsent(context.Context, string) error                { return nil }
func (f *fakeSearch) Close() error                                               { return nil }

func (f *fakeSearch) SearchConsents(_ context.Context, text string, _ int) ([]models.ConsentDocument, error) {
	var out []models.ConsentDocument
	for _, d := range f.docs {
		if strings.Contains(d.ParentName, text) {
			out = append(out, d)
		}
	}
	return out, nil
}

func signatureDataURL(t *testing.T, drawn bool) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if drawn {
		img.Set(2, 5, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
