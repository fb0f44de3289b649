// Package catalogfile loads the policy catalog from a YAML file and watches it
// for changes.
package catalogfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"complyd/internal/policy/models"
	id "complyd/pkg/domain"
)

// Catalog is a validated policy catalog.
type Catalog struct {
	Policies []models.Descriptor
	Rules    []models.Rule
}

type document struct {
	Policies []policyEntry `yaml:"policies"`
}

type policyEntry struct {
	models.Descriptor `yaml:",inline"`
	Rules             []models.Rule `yaml:"rules"`
}

// Load reads and validates a catalog file.
func Load(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates catalog YAML. Unknown fields are rejected.
// Every problem found is reported, not just the first.
func Parse(raw []byte) (Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}

	var (
		cat  Catalog
		errs []error
		seen = make(map[id.PolicyID]bool)
	)
	for i, entry := range doc.Policies {
		p := entry.Descriptor
		if _, err := id.ParsePolicyID(string(p.PolicyID)); err != nil {
			errs = append(errs, fmt.Errorf("policies[%d]: %w", i, err))
			continue
		}
		if seen[p.PolicyID] {
			errs = append(errs, fmt.Errorf("policies[%d]: duplicate policy id %s", i, p.PolicyID))
			continue
		}
		seen[p.PolicyID] = true
		if p.Status == "" {
			p.Status = models.StatusActive
		}
		switch p.Status {
		case models.StatusActive, models.StatusDraft, models.StatusRetired:
		default:
			errs = append(errs, fmt.Errorf("policy %s: unknown status %q", p.PolicyID, p.Status))
		}
		if p.Category == "" {
			errs = append(errs, fmt.Errorf("policy %s: category is required", p.PolicyID))
		}
		cat.Policies = append(cat.Policies, p)

		for j, r := range entry.Rules {
			if r.PolicyID == "" {
				r.PolicyID = p.PolicyID
			}
			if r.PolicyID != p.PolicyID {
				errs = append(errs, fmt.Errorf("policy %s rules[%d]: belongs to %s", p.PolicyID, j, r.PolicyID))
				continue
			}
			if _, err := id.ParseRuleID(string(r.RuleID)); err != nil {
				errs = append(errs, fmt.Errorf("policy %s rules[%d]: %w", p.PolicyID, j, err))
				continue
			}
			if r.Severity == "" {
				r.Severity = models.SeverityMandatory
			}
			if !r.Severity.IsValid() {
				errs = append(errs, fmt.Errorf("rule %s: unknown severity %q", r.RuleID, r.Severity))
			}
			cat.Rules = append(cat.Rules, r)
		}
	}
	if len(errs) == 0 {
		if _, err := models.NewRuleSet(cat.Rules); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// Watch reloads the catalog whenever the file changes and passes each valid
// version to onChange. Invalid versions are logged and ignored, so the last
// good catalog stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Catalog)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.InfoContext(ctx, "policy catalog watch started", "path", path)

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("catalog watcher closed")
			}
			if filepath.Base(event.Name) != name || event.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("catalog watcher closed")
			}
			logger.ErrorContext(ctx, "policy catalog watch error", "error", err)
		case <-timer.C:
			cat, err := Load(path)
			if err != nil {
				logger.ErrorContext(ctx, "policy catalog reload rejected", "path", path, "error", err)
				continue
			}
			logger.InfoContext(ctx, "policy catalog reloaded",
				"path", path,
				"policies", len(cat.Policies),
				"rules", len(cat.Rules),
			)
			onChange(cat)
		}
	}
}
