package filter

import (
	"testing"
	"time"

	"github.com/perfectra1n/claude-code-sync/pkg/discovery"
)

func TestExcludeOlderThanDays(t *testing.T) {
	days := 7
	f, err := Compile(Config{ExcludeOlderThanDays: &days})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)

	fresh := discovery.Candidate{ProjectKey: "p1", ModTime: now.Add(-24 * time.Hour)}
	stale := discovery.Candidate{ProjectKey: "p1", ModTime: now.Add(-30 * 24 * time.Hour)}

	if !f.Accept(fresh, now).Accept {
		t.Fatal("fresh candidate should be accepted")
	}
	if f.Accept(stale, now).Accept {
		t.Fatal("stale candidate should be rejected")
	}
}

func TestIncludeExcludeGlobPrecedence(t *testing.T) {
	f, err := Compile(Config{
		IncludePatterns: []string{"-home-*"},
		ExcludePatterns: []string{"-home-secret-*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	ok := discovery.Candidate{ProjectKey: "-home-alice-proj", ModTime: now}
	if !f.Accept(ok, now).Accept {
		t.Fatal("want accept for matching include")
	}

	excluded := discovery.Candidate{ProjectKey: "-home-secret-proj", ModTime: now}
	if f.Accept(excluded, now).Accept {
		t.Fatal("exclude should take precedence over include")
	}

	notIncluded := discovery.Candidate{ProjectKey: "-var-other", ModTime: now}
	if f.Accept(notIncluded, now).Accept {
		t.Fatal("non-matching project-key should be rejected when include set")
	}
}

func TestMaxFileSizeDefault(t *testing.T) {
	f, err := Compile(Config{})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	big := discovery.Candidate{ProjectKey: "p", ModTime: now, Size: DefaultMaxFileSizeBytes + 1}
	if f.Accept(big, now).Accept {
		t.Fatal("want reject over default max size")
	}
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := DecodeYAML([]byte(`
exclude_older_than_days: 30
include_patterns:
  - "-home-*"
exclude_attachments: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExcludeOlderThanDays == nil || *cfg.ExcludeOlderThanDays != 30 {
		t.Fatalf("want exclude_older_than_days=30, got %+v", cfg.ExcludeOlderThanDays)
	}
	if len(cfg.IncludePatterns) != 1 || cfg.IncludePatterns[0] != "-home-*" {
		t.Fatalf("want one include pattern, got %+v", cfg.IncludePatterns)
	}
	if !cfg.ExcludeAttachments {
		t.Fatal("want exclude_attachments=true")
	}
}
