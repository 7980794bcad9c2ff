package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"danmakuoverlay/core/backend/store"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrLockedOut  = errors.New("too many failed attempts, please try again later")
)

const (
	keyScheme        = "dk_"
	keyPrefixLen     = 8
	maxAuthFailures  = 5
	lockoutDuration  = 5 * time.Minute
	validatedKeepFor = 5 * time.Minute
	bcryptCost       = 10
)

// Service issues and checks API keys. Keys are shown once at creation and
// stored as bcrypt hashes.
type Service struct {
	store *store.Store

	rateMu   sync.Mutex
	failures map[string]authFailure

	cacheMu   sync.Mutex
	validated map[string]validatedKey
}

type authFailure struct {
	count    int
	lockedAt time.Time
}

type validatedKey struct {
	key     store.APIKey
	expires time.Time
}

// CreatedKey carries the plain key, which is never retrievable again.
type CreatedKey struct {
	Key    string       `json:"key"`
	Record store.APIKey `json:"record"`
}

func New(storeDB *store.Store) *Service {
	return &Service{
		store:     storeDB,
		failures:  make(map[string]authFailure),
		validated: make(map[string]validatedKey),
	}
}

func (s *Service) CreateKey(ctx context.Context, name string, description string) (*CreatedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	plain, err := generateKey()
	if err != nil {
		return nil, errors.New("failed to generate api key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return nil, errors.New("failed to hash api key")
	}
	record, err := s.store.CreateAPIKey(ctx, store.APIKey{
		Name:        name,
		Prefix:      keyPrefix(plain),
		Hash:        string(hash),
		Description: strings.TrimSpace(description),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[auth] api key created: %s", record.Name)
	return &CreatedKey{Key: plain, Record: *record}, nil
}

func (s *Service) ListKeys(ctx context.Context) ([]store.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}

func (s *Service) DeleteKey(ctx context.Context, name string) (bool, error) {
	ok, err := s.store.DeleteAPIKey(ctx, name)
	if ok {
		s.cacheMu.Lock()
		for token, v := range s.validated {
			if v.key.Name == strings.TrimSpace(name) {
				delete(s.validated, token)
			}
		}
		s.cacheMu.Unlock()
	}
	return ok, err
}

// HasKeys reports whether any key exists. Until one does, key creation is
// open so the first key can be bootstrapped.
func (s *Service) HasKeys(ctx context.Context) (bool, error) {
	n, err := s.store.CountAPIKeys(ctx)
	return n > 0, err
}

// Validate checks token for client. Repeated failures from one client lock
// it out for a while.
func (s *Service) Validate(ctx context.Context, client string, token string) (*store.APIKey, error) {
	token = strings.TrimSpace(token)
	if s.isLockedOut(client) {
		return nil, ErrLockedOut
	}
	if !strings.HasPrefix(token, keyScheme) || len(token) <= len(keyScheme)+keyPrefixLen {
		s.recordFailure(client)
		return nil, ErrInvalidKey
	}

	digest := tokenDigest(token)
	if key, ok := s.cached(digest); ok {
		return &key, nil
	}

	candidates, err := s.store.FindAPIKeysByPrefix(ctx, keyPrefix(token))
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(candidate.Hash), []byte(token)) != nil {
			continue
		}
		s.clearFailure(client)
		s.remember(digest, candidate)
		_ = s.store.TouchAPIKey(ctx, candidate.ID)
		return &candidate, nil
	}
	s.recordFailure(client)
	return nil, ErrInvalidKey
}

func (s *Service) cached(digest string) (store.APIKey, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	v, ok := s.validated[digest]
	if !ok {
		return store.APIKey{}, false
	}
	if time.Now().After(v.expires) {
		delete(s.validated, digest)
		return store.APIKey{}, false
	}
	return v.key, true
}

func (s *Service) remember(digest string, key store.APIKey) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.validated[digest] = validatedKey{key: key, expires: time.Now().Add(validatedKeepFor)}
}

func (s *Service) isLockedOut(client string) bool {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	f, ok := s.failures[client]
	if !ok {
		return false
	}
	if f.count >= maxAuthFailures && time.Since(f.lockedAt) < lockoutDuration {
		return true
	}
	if time.Since(f.lockedAt) >= lockoutDuration {
		delete(s.failures, client)
	}
	return false
}

func (s *Service) recordFailure(client string) {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	f := s.failures[client]
	f.count++
	f.lockedAt = time.Now()
	s.failures[client] = f
	if f.count == maxAuthFailures {
		log.Printf("[auth][warn] client %s locked out after %d failed attempts", client, f.count)
	}
}

func (s *Service) clearFailure(client string) {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	delete(s.failures, client)
}

func generateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return keyScheme + hex.EncodeToString(b), nil
}

func keyPrefix(token string) string {
	body := strings.TrimPrefix(token, keyScheme)
	if len(body) < keyPrefixLen {
		return body
	}
	return body[:keyPrefixLen]
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
