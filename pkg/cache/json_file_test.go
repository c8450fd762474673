package cache

import (
	"os"
	"path/filepath"
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cache.json")
	in := payload{Name: "hello", Count: 7}
	if err := SaveJSON(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	// No stray temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file still present: %v", err)
	}

	var out payload
	if err := LoadJSON(path, &out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestLoadJSONMissingIsErrNotFound(t *testing.T) {
	var out payload
	if err := LoadJSON(filepath.Join(t.TempDir(), "nope.json"), &out); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLoadJSONZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json.zst")
	in := payload{Name: "compressed", Count: 99}
	if err := SaveJSONZstd(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	// The file on disk is a zstd frame, not plain JSON.
	var direct payload
	if err := LoadJSON(path, &direct); err == nil {
		t.Fatal("expected plain JSON load of compressed file to fail")
	}

	var out payload
	if err := LoadJSONZstd(path, &out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestLoadJSONZstdMissingIsErrNotFound(t *testing.T) {
	var out payload
	if err := LoadJSONZstd(filepath.Join(t.TempDir(), "nope.zst"), &out); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
