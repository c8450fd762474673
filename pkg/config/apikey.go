package config

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/cache"
)

// KeyType classifies an Anthropic API key by its prefix. Classification happens
// once when the key is saved; readers only ever see the stored enum value.
type KeyType string

const (
	KeyTypeAdmin    KeyType = "admin"
	KeyTypeStandard KeyType = "standard"
	KeyTypeOAuth    KeyType = "oauth"
	KeyTypeUnknown  KeyType = "unknown"
)

var ErrInvalidAPIKey = errors.New("api key must start with sk-ant-")

// ClassifyKey derives the key class from the key prefix.
func ClassifyKey(key string) KeyType {
	switch {
	case strings.HasPrefix(key, "sk-ant-admin"):
		return KeyTypeAdmin
	case strings.HasPrefix(key, "sk-ant-oat"):
		return KeyTypeOAuth
	case strings.HasPrefix(key, "sk-ant-"):
		return KeyTypeStandard
	default:
		return KeyTypeUnknown
	}
}

type APIKeyConfig struct {
	APIKey    string    `json:"apiKey"`
	KeyType   KeyType   `json:"keyType"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Masked returns the key in display form: prefix plus last four characters.
func (c APIKeyConfig) Masked() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) <= 11 {
		return "sk-ant-..."
	}
	return "sk-ant-..." + c.APIKey[len(c.APIKey)-4:]
}

// APIKeyStore persists the single API-key record as a JSON file.
type APIKeyStore struct {
	mu   sync.RWMutex
	path string
	cfg  *APIKeyConfig
}

func NewAPIKeyStore(path string) *APIKeyStore {
	s := &APIKeyStore{path: path}
	var cfg APIKeyConfig
	if err := cache.LoadJSON(path, &cfg); err == nil && cfg.APIKey != "" {
		if cfg.KeyType == "" {
			// Pre-enum files carry no type; never re-classify at read time.
			cfg.KeyType = KeyTypeUnknown
		}
		s.cfg = &cfg
	}
	return s
}

func (s *APIKeyStore) Get() (APIKeyConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return APIKeyConfig{}, false
	}
	return *s.cfg, true
}

// Set validates, classifies and persists a new key. Invalid input is rejected
// before any state changes.
func (s *APIKeyStore) Set(key string) (APIKeyConfig, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, "sk-ant-") {
		return APIKeyConfig{}, ErrInvalidAPIKey
	}
	cfg := APIKeyConfig{
		APIKey:    key,
		KeyType:   ClassifyKey(key),
		UpdatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := cache.SaveJSON(s.path, cfg); err != nil {
		return APIKeyConfig{}, err
	}
	s.cfg = &cfg
	return cfg, nil
}

func (s *APIKeyStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = nil
	err := removeIfExists(s.path)
	return err
}
