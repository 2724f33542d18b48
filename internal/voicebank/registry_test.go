package voicebank

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAddGet_RoundTrip(t *testing.T) {
	reg := NewRegistry()
	info := Info{ID: "yuki-ja", Name: "Yuki", Language: "ja", SampleRateHz: 44100}
	if err := reg.Add(info); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := reg.Get(context.Background(), "yuki-ja")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != info {
		t.Fatalf("got %+v, want %+v", got, info)
	}
}

func TestAdd_DuplicateID(t *testing.T) {
	reg := NewRegistry()
	info := Info{ID: "yuki-ja", Name: "Yuki", Language: "ja"}
	if err := reg.Add(info); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(info); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList_FiltersByLanguageAndTags(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Add(Info{ID: "a", Name: "A", Language: "ja", Tags: []string{"soprano"}})
	_ = reg.Add(Info{ID: "b", Name: "B", Language: "en", Tags: []string{"alto"}})
	_ = reg.Add(Info{ID: "c", Name: "C", Language: "ja", Tags: []string{"alto", "licensed"}})

	got := reg.List(context.Background(), "ja", nil)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected language filter result: %+v", got)
	}

	got = reg.List(context.Background(), "ja", []string{"licensed"})
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("unexpected tag filter result: %+v", got)
	}
}

func TestLoadManifestFromReader_SeedsRegistry(t *testing.T) {
	const doc = `
voicebanks:
  - id: yuki-ja
    name: Yuki
    language: ja
    sample_rate_hz: 44100
  - id: ""
    name: invalid
    language: en
`
	mf, err := LoadManifestFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadManifestFromReader: %v", err)
	}
	reg := NewRegistry()
	added, skipped := Seed(reg, mf)
	if added != 1 {
		t.Fatalf("expected 1 added, got %d (skipped=%v)", added, skipped)
	}
	if len(skipped) != 1 {
		t.Fatalf("expected 1 skipped invalid entry, got %v", skipped)
	}
	if _, err := reg.Get(context.Background(), "yuki-ja"); err != nil {
		t.Fatalf("expected seeded entry to be retrievable: %v", err)
	}
}
