// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"pkt.systems/pslog"
)

// Predicate is one named completion heuristic. Predicates are matched
// in order against escape-stripped complete lines; first match wins.
type Predicate struct {
	Name string
	Re   *regexp.Regexp
}

// DefaultPredicates returns the built-in heuristic set. These are
// tool- and phrasing-specific, which is why heuristics ship disabled;
// deployments replace them via a pattern file.
func DefaultPredicates() []Predicate {
	return []Predicate{
		{Name: "done-phrase", Re: regexp.MustCompile(`(?i)^(task |all )?done[.!]?$`)},
		{Name: "completed-phrase", Re: regexp.MustCompile(`(?i)\b(completed successfully|build complete)\b`)},
		{Name: "bare-prompt", Re: regexp.MustCompile(`^[\w.@~/-]*[$%#>]\s*$`)},
	}
}

// PatternSet holds a swappable ordered predicate list shared by
// detectors. Replacing the list is atomic with respect to Match.
type PatternSet struct {
	mu    sync.RWMutex
	preds []Predicate
}

// NewPatternSet creates a pattern set with the given predicates.
func NewPatternSet(preds []Predicate) *PatternSet {
	return &PatternSet{preds: preds}
}

// Match returns the name of the first predicate matching line.
func (ps *PatternSet) Match(line string) (string, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, p := range ps.preds {
		if p.Re.MatchString(line) {
			return p.Name, true
		}
	}
	return "", false
}

// Replace swaps in a new predicate list.
func (ps *PatternSet) Replace(preds []Predicate) {
	ps.mu.Lock()
	ps.preds = preds
	ps.mu.Unlock()
}

// Len returns the number of predicates.
func (ps *PatternSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.preds)
}

type patternFile struct {
	Patterns []struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"patterns"`
}

// LoadPatternFile parses a YAML heuristic pattern file:
//
//	patterns:
//	  - name: make-done
//	    pattern: '^make: .* is up to date'
func LoadPatternFile(path string) ([]Predicate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf patternFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse pattern file %s: %w", path, err)
	}
	preds := make([]Predicate, 0, len(pf.Patterns))
	for _, p := range pf.Patterns {
		if p.Name == "" || p.Pattern == "" {
			return nil, fmt.Errorf("pattern file %s: entries need both name and pattern", path)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.Name, err)
		}
		preds = append(preds, Predicate{Name: p.Name, Re: re})
	}
	return preds, nil
}

// WatchPatternFile loads path into ps and hot-reloads it whenever the
// file changes, until ctx is done. A reload that fails to parse keeps
// the previous set.
func WatchPatternFile(ctx context.Context, ps *PatternSet, path string, logger pslog.Logger) error {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}

	preds, err := LoadPatternFile(path)
	if err != nil {
		return err
	}
	ps.Replace(preds)
	logger.Info("completion patterns loaded", "path", path, "count", len(preds))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files by rename, which drops
	// a watch held on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				preds, err := LoadPatternFile(path)
				if err != nil {
					logger.Warn("pattern reload failed, keeping previous set", "path", path, "err", err)
					continue
				}
				ps.Replace(preds)
				logger.Info("completion patterns reloaded", "path", path, "count", len(preds))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("pattern watcher error", "err", err)
			}
		}
	}()

	return nil
}
