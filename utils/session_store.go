package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"playzone-consent/wizard"
)

var ErrSessionNotFound = errors.New("wizard session not found")

// WizardSessionStore keeps wizard sessions in Redis between requests.
type WizardSessionStore struct {
	cache RedisClient
	ttl   time.Duration
}

func NewWizardSessionStore(cache RedisClient, ttl time.Duration) *WizardSessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &WizardSessionStore{cache: cache, ttl: ttl}
}

func sessionKey(id string) string { return "wizard:session:" + id }
func submitKey(id string) string  { return "wizard:submit:" + id }
func changedKey(id string) string { return "wizard:session:" + id + ":changed" }

func (s *WizardSessionStore) Load(ctx context.Context, id string) (wizard.Session, error) {
	raw, err := s.cache.GetFromCache(ctx, sessionKey(id))
	if errors.Is(err, ErrCacheMiss) {
		return wizard.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return wizard.Session{}, err
	}

	var sess wizard.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return wizard.Session{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	sess.Revision = Digest(raw)
	return sess, nil
}

// Save writes the session, restarts its expiry and notifies watchers.
func (s *WizardSessionStore) Save(ctx context.Context, sess wizard.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	if err := s.cache.SetToCache(ctx, sessionKey(sess.ID), string(raw), s.ttl); err != nil {
		return err
	}
	s.notify(ctx, sess.ID)
	return nil
}

// SaveIfUnchanged writes the session only while the stored copy is still
// the one identified by sess.Revision. It reports false when another
// request saved or deleted the session in between.
func (s *WizardSessionStore) SaveIfUnchanged(ctx context.Context, sess wizard.Session) (bool, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return false, fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	if sess.Revision == "" {
		return false, fmt.Errorf("session %s has no stored revision", sess.ID)
	}
	ok, err := s.cache.CompareAndSwap(ctx, sessionKey(sess.ID), sess.Revision, string(raw), s.ttl)
	if err != nil || !ok {
		return false, err
	}
	s.notify(ctx, sess.ID)
	return true, nil
}

func (s *WizardSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.cache.DeleteFromCache(ctx, sessionKey(id), submitKey(id)); err != nil {
		return err
	}
	s.notify(ctx, id)
	return nil
}

// Watch subscribes to writes of the session made through this store. The
// caller must close the subscription.
func (s *WizardSessionStore) Watch(ctx context.Context, id string) (Subscription, error) {
	return s.cache.Subscribe(ctx, changedKey(id))
}

// notify is best effort; the stored revision still guards the write.
func (s *WizardSessionStore) notify(ctx context.Context, id string) {
	_ = s.cache.Publish(context.WithoutCancel(ctx), changedKey(id), id)
}

// LockSubmission marks a submission in flight for the session. The returned
// release must be called when the submission finishes.
func (s *WizardSessionStore) LockSubmission(ctx context.Context, id string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := s.cache.AcquireLock(ctx, submitKey(id), token, ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		_ = s.cache.ReleaseLock(context.Background(), submitKey(id), token)
	}, true, nil
}
