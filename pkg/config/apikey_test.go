package config

import (
	"path/filepath"
	"testing"
)

func TestClassifyKey(t *testing.T) {
	cases := []struct {
		key  string
		want KeyType
	}{
		{"sk-ant-admin01-abc", KeyTypeAdmin},
		{"sk-ant-oat01-abc", KeyTypeOAuth},
		{"sk-ant-api03-abc", KeyTypeStandard},
		{"sk-openai-whatever", KeyTypeUnknown},
		{"", KeyTypeUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyKey(tc.key); got != tc.want {
			t.Fatalf("ClassifyKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestAPIKeyStoreRejectsBadPrefix(t *testing.T) {
	s := NewAPIKeyStore(filepath.Join(t.TempDir(), "apikey.json"))
	if _, err := s.Set("sk-openai-nope"); err != ErrInvalidAPIKey {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Fatal("rejected key must not be stored")
	}
}

func TestAPIKeyStorePersistsClassification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apikey.json")
	s := NewAPIKeyStore(path)
	cfg, err := s.Set("sk-ant-admin01-secret-tail")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.KeyType != KeyTypeAdmin {
		t.Fatalf("expected admin classification, got %q", cfg.KeyType)
	}

	restored := NewAPIKeyStore(path)
	got, ok := restored.Get()
	if !ok {
		t.Fatal("expected persisted key after restart")
	}
	if got.APIKey != "sk-ant-admin01-secret-tail" || got.KeyType != KeyTypeAdmin {
		t.Fatalf("unexpected restored config: %+v", got)
	}
}

func TestMaskedShowsOnlyTail(t *testing.T) {
	cfg := APIKeyConfig{APIKey: "sk-ant-api03-abcdefgh1234"}
	if got := cfg.Masked(); got != "sk-ant-...1234" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := (APIKeyConfig{APIKey: "sk-ant-x"}).Masked(); got != "sk-ant-..." {
		t.Fatalf("short keys must not leak their tail: %q", got)
	}
	if got := (APIKeyConfig{}).Masked(); got != "" {
		t.Fatalf("empty key must mask to empty, got %q", got)
	}
}

func TestAPIKeyStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apikey.json")
	s := NewAPIKeyStore(path)
	if _, err := s.Set("sk-ant-api03-abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Fatal("expected no key after delete")
	}
	if _, ok := NewAPIKeyStore(path).Get(); ok {
		t.Fatal("deleted key must not survive a restart")
	}
}
