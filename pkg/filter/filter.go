// Package filter implements the accept/reject predicate over a discovered
// candidate session: age, project-key glob, size cap, and attachment
// exclusion. Filter is pure and holds no state beyond its configuration
// and compiled glob patterns.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/gobwas/glob"

	"github.com/perfectra1n/claude-code-sync/pkg/discovery"
)

// DefaultMaxFileSizeBytes is the default max_file_size_bytes: 10 MiB.
const DefaultMaxFileSizeBytes = 10 * 1 << 20

// Config is the caller-supplied Filter configuration. It carries yaml
// struct tags so a collaborator config loader can decode directly into it;
// the core itself never reads a config file.
type Config struct {
	ExcludeOlderThanDays *int     `yaml:"exclude_older_than_days"`
	IncludePatterns      []string `yaml:"include_patterns"`
	ExcludePatterns      []string `yaml:"exclude_patterns"`
	MaxFileSizeBytes     int64    `yaml:"max_file_size_bytes"`
	ExcludeAttachments   bool     `yaml:"exclude_attachments"`
}

// Filter is a compiled Config ready to evaluate candidates.
type Filter struct {
	excludeOlderThanDays *int
	maxFileSizeBytes     int64
	excludeAttachments   bool
	include              []glob.Glob
	exclude              []glob.Glob
}

// DecodeYAML parses a Filter configuration from YAML, the format a
// collaborator config loader hands the core's Filter (the core never
// reads a config file path itself; callers decode bytes sourced however
// they like and pass the result here).
func DecodeYAML(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("filter: decode yaml config: %w", err)
	}
	return cfg, nil
}

// Compile validates cfg and compiles its glob patterns once.
func Compile(cfg Config) (*Filter, error) {
	maxSize := cfg.MaxFileSizeBytes
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSizeBytes
	}

	f := &Filter{
		excludeOlderThanDays: cfg.ExcludeOlderThanDays,
		maxFileSizeBytes:     maxSize,
		excludeAttachments:   cfg.ExcludeAttachments,
	}
	for _, p := range cfg.IncludePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("filter: compile include pattern %q: %w", p, err)
		}
		f.include = append(f.include, g)
	}
	for _, p := range cfg.ExcludePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("filter: compile exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, g)
	}
	return f, nil
}

// Decision records why a candidate was accepted or rejected.
type Decision struct {
	Accept bool
	Reason string
}

// Accept evaluates candidate c against the filter at time now. Exclude
// patterns take precedence over include patterns when both match.
func (f *Filter) Accept(c discovery.Candidate, now time.Time) Decision {
	for _, g := range f.exclude {
		if g.Match(c.ProjectKey) {
			return Decision{Accept: false, Reason: "matched exclude_patterns"}
		}
	}

	if f.excludeOlderThanDays != nil {
		age := now.Sub(c.ModTime)
		if age > time.Duration(*f.excludeOlderThanDays)*24*time.Hour {
			return Decision{Accept: false, Reason: "older than exclude_older_than_days"}
		}
	}

	if f.maxFileSizeBytes > 0 && c.Size > f.maxFileSizeBytes {
		return Decision{Accept: false, Reason: "exceeds max_file_size_bytes"}
	}

	if f.excludeAttachments && !strings.HasSuffix(c.Path, ".jsonl") {
		return Decision{Accept: false, Reason: "non-jsonl attachment excluded"}
	}

	if len(f.include) > 0 {
		matched := false
		for _, g := range f.include {
			if g.Match(c.ProjectKey) {
				matched = true
				break
			}
		}
		if !matched {
			return Decision{Accept: false, Reason: "did not match include_patterns"}
		}
	}

	return Decision{Accept: true}
}

// Apply filters candidates, returning the accepted subset in original
// order. now is passed explicitly so callers (and tests) control the age
// computation instead of the filter reaching for the wall clock itself.
func Apply(f *Filter, candidates []discovery.Candidate, now time.Time) []discovery.Candidate {
	var out []discovery.Candidate
	for _, c := range candidates {
		if f.Accept(c, now).Accept {
			out = append(out, c)
		}
	}
	return out
}
