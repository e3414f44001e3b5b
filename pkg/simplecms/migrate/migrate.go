package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/keyspace"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
)

// Action is what the migrator did, or would do, with one key.
type Action string

const (
	ActionMoved    Action = "moved"
	ActionRetagged Action = "retagged"
	ActionSkipped  Action = "skipped"
	ActionConflict Action = "conflict"
	ActionFailed   Action = "failed"
)

// Step records the outcome for one legacy key.
type Step struct {
	Namespace string `json:"namespace"`
	SourceKey string `json:"source_key"`
	TargetKey string `json:"target_key,omitempty"`
	Action    Action `json:"action"`
	Reason    string `json:"reason,omitempty"`
}

// Result summarizes a migration run.
type Result struct {
	Steps    []Step `json:"steps"`
	Moved    int    `json:"moved"`
	Retagged int    `json:"retagged"`
	Failed   int    `json:"failed"`
}

func (r *Result) add(s Step) {
	r.Steps = append(r.Steps, s)
	switch s.Action {
	case ActionMoved:
		r.Moved++
	case ActionRetagged:
		r.Retagged++
	case ActionFailed, ActionConflict:
		r.Failed++
	}
}

// Options configures a migration run.
type Options struct {
	// DryRun plans every step without writing
	DryRun bool
}

// Migrator rewrites objects stored under the historic path-keyed scheme,
// e.g. unpublished/content/blog/post.md, to canonical
// {namespace}/{collection}/{slug} keys with slug metadata. The raw path is
// kept in the legacy-path field.
type Migrator struct {
	repo   *simplecms.Repository
	codec  metadata.Codec
	logger *slog.Logger
}

// New creates a migrator on repo.
func New(repo *simplecms.Repository, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{repo: repo, logger: logger.With("component", "migrate")}
}

// Run migrates every legacy object in the unpublished and published namespaces.
// Each object is copied to its canonical key and then deleted, so an
// interrupted run is resumed by running it again.
func (m *Migrator) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}
	for _, ns := range []keyspace.Namespace{keyspace.Unpublished, keyspace.Published} {
		objects, err := m.repo.ListKeys(ctx, ns)
		if err != nil {
			return result, fmt.Errorf("failed to list %s: %w", ns, err)
		}
		for _, o := range objects {
			step, err := m.migrateKey(ctx, ns, o.Key, opts)
			if err != nil {
				return result, err
			}
			if step.Action != ActionSkipped {
				result.add(step)
			}
		}
	}
	m.logger.Info("migration finished", "moved", result.Moved, "retagged", result.Retagged, "failed", result.Failed, "dry_run", opts.DryRun)
	return result, nil
}

// MigratePath migrates one object addressed by its historic raw path.
func (m *Migrator) MigratePath(ctx context.Context, ns keyspace.Namespace, rawPath string, opts Options) (Step, error) {
	key, err := m.repo.Keys().LegacyKey(ns, rawPath)
	if err != nil {
		return Step{}, err
	}
	return m.migrateKey(ctx, ns, key, opts)
}

// migrateKey returns an error only for store failures that make continuing
// pointless; per-object problems are reported in the step.
func (m *Migrator) migrateKey(ctx context.Context, ns keyspace.Namespace, key string, opts Options) (Step, error) {
	keys := m.repo.Keys()
	cfg := m.repo.Config()
	store := m.repo.Store()
	step := Step{Namespace: ns.String(), SourceKey: key}

	head, err := store.Head(ctx, key)
	if err != nil {
		if simplecms.IsNotFound(err) {
			step.Action, step.Reason = ActionSkipped, "object vanished"
			return step, nil
		}
		return step, err
	}

	_, _, parseErr := keys.ParseEntryKey(ns, key)
	_, decodeErr := m.codec.Decode(head.Metadata, metadata.Canonical)
	if parseErr == nil && (decodeErr == nil || (ns == keyspace.Published && len(head.Metadata) == 0)) {
		step.Action = ActionSkipped
		return step, nil
	}

	meta, err := m.codec.Decode(head.Metadata, metadata.Legacy)
	if err != nil {
		step.Action, step.Reason = ActionFailed, err.Error()
		m.logger.Warn("legacy object cannot be migrated", "key", key, "err", err)
		return step, nil
	}

	rawPath, err := keys.Strip(ns, key)
	if err != nil {
		step.Action, step.Reason = ActionFailed, err.Error()
		return step, nil
	}
	slug := strings.TrimSuffix(path.Base(rawPath), cfg.EntryExtension)
	target, err := keys.EntryKey(ns, meta.Collection, slug+cfg.EntryExtension)
	if err != nil {
		step.Action, step.Reason = ActionFailed, err.Error()
		return step, nil
	}
	step.TargetKey = target

	meta.Slug = slug
	if meta.LegacyPath == "" {
		meta.LegacyPath = rawPath
	}

	if target == key {
		step.Action = ActionRetagged
	} else {
		step.Action = ActionMoved
		if _, err := store.Head(ctx, target); err == nil {
			step.Action, step.Reason = ActionConflict, "canonical key already exists"
			return step, nil
		} else if !simplecms.IsNotFound(err) {
			return step, err
		}
	}
	if opts.DryRun {
		m.logger.Info("[DRY-RUN] would migrate", "source", key, "target", target, "action", step.Action)
		return step, nil
	}

	err = store.Copy(ctx, simplecms.CopyParams{
		SourceKey:       key,
		DestKey:         target,
		ReplaceMetadata: true,
		Metadata:        m.codec.Encode(meta),
		ContentType:     head.ContentType,
		CacheControl:    head.CacheControl,
	})
	if err != nil {
		return step, err
	}
	if target != key {
		if err := store.Delete(ctx, key); err != nil && !errors.Is(err, simplecms.ErrNotFound) {
			return step, err
		}
	}

	m.logger.Info("migrated legacy object", "source", key, "target", target, "action", step.Action)
	return step, nil
}
