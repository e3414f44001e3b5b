package simplecms

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tendant/simple-cms/pkg/simplecms/frontmatter"
	"github.com/tendant/simple-cms/pkg/simplecms/keyspace"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
	"golang.org/x/sync/errgroup"
)

const entryContentType = "text/plain; charset=utf-8"

// Workflow moves entries between the unpublished and published namespaces.
//
// The store has no multi-key transactions. Publish is a copy followed by a
// delete and a status change is a copy of an object onto itself; a failure
// between steps leaves an observable intermediate state (the entry exists in
// both namespaces, or its status is unchanged). Every step is safe to retry,
// and reconcile.Scanner finds entries left in between.
type Workflow struct {
	store  ObjectStore
	keys   *keyspace.Mapper
	codec  metadata.Codec
	cfg    *Config
	logger *slog.Logger
}

// Enabled reports whether the editorial workflow is on.
func (w *Workflow) Enabled() bool {
	return w.cfg.UseWorkflow
}

// writeNamespace is where create and update land.
func (w *Workflow) writeNamespace() keyspace.Namespace {
	if w.cfg.UseWorkflow {
		return keyspace.Unpublished
	}
	return keyspace.Published
}

// Save writes an entry following the create or update transition and returns
// the metadata that was stored.
func (w *Workflow) Save(ctx context.Context, entry Entry, opts PersistOptions) (metadata.Metadata, error) {
	file, slug, err := w.cfg.resolveFile(entry)
	if err != nil {
		return metadata.Metadata{}, err
	}
	key, err := w.keys.EntryKey(w.writeNamespace(), entry.Collection, file)
	if err != nil {
		return metadata.Metadata{}, err
	}

	status, err := w.statusForWrite(ctx, key, opts.NewEntry)
	if err != nil {
		return metadata.Metadata{}, err
	}

	meta := metadata.Metadata{
		Status:        status.String(),
		Slug:          slug,
		Collection:    entry.Collection,
		Title:         opts.Title,
		Description:   opts.Description,
		CommitMessage: opts.CommitMessage,
	}
	raw, err := w.encodeWithSummary(key, &meta, entry.Raw)
	if err != nil {
		return metadata.Metadata{}, err
	}
	err = w.store.Put(ctx, PutParams{
		Key:         key,
		Body:        strings.NewReader(entry.Raw),
		Size:        int64(len(entry.Raw)),
		ContentType: entryContentType,
		Metadata:    raw,
	})
	if err != nil {
		return metadata.Metadata{}, err
	}

	w.logger.Info("entry persisted", "key", key, "status", meta.Status, "new_entry", opts.NewEntry)
	return meta, nil
}

// encodeWithSummary fills an unset title or description from the front
// matter and encodes meta. Values taken from the front matter are shortened,
// description first, until the map fits metadata.MaxSize; values the caller
// set explicitly are never cut and fail the save instead.
func (w *Workflow) encodeWithSummary(key string, meta *metadata.Metadata, body string) (map[string]string, error) {
	var fromTitle, fromDescription bool
	if meta.Title == "" || meta.Description == "" {
		fmTitle, fmDescription := frontmatter.Summary(body)
		if meta.Title == "" && fmTitle != "" {
			meta.Title, fromTitle = fmTitle, true
		}
		if meta.Description == "" && fmDescription != "" {
			meta.Description, fromDescription = fmDescription, true
		}
	}

	raw := w.codec.Encode(*meta)
	shorten := func(field string, value *string) {
		over := metadata.Size(raw) - metadata.MaxSize
		if over <= 0 || *value == "" {
			return
		}
		encoded := len(metadata.EncodeValue(*value))
		if encoded-over > 0 {
			*value = metadata.Truncate(*value, encoded-over)
		} else {
			*value = ""
		}
		w.logger.Warn("front matter value shortened to fit object metadata", "key", key, "field", field, "kept_bytes", len(*value))
		raw = w.codec.Encode(*meta)
	}
	if fromDescription {
		shorten(metadata.FieldDescription, &meta.Description)
	}
	if fromTitle {
		shorten(metadata.FieldTitle, &meta.Title)
	}

	if err := metadata.Check(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// statusForWrite returns the initial status for new entries and carries the
// stored status forward for updates, so a content edit never regresses it.
// An update without a readable stored status recovers with the initial status.
func (w *Workflow) statusForWrite(ctx context.Context, key string, newEntry bool) (Status, error) {
	initial := w.cfg.statuses.Initial()
	if newEntry {
		return initial, nil
	}

	head, err := w.store.Head(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			w.logger.Warn("update without a stored copy, recovering with initial status", "key", key, "status", initial.String())
			return initial, nil
		}
		return Status{}, err
	}

	meta, err := w.codec.Decode(head.Metadata, metadata.Canonical)
	if err != nil {
		if errors.Is(err, metadata.ErrMissingMetadata) {
			w.logger.Warn("stored copy has no workflow metadata, recovering with initial status", "key", key, "err", err)
			return initial, nil
		}
		return Status{}, err
	}
	return w.cfg.statuses.Parse(meta.Status)
}

// SetStatus rewrites the draft's status in place. All other metadata values
// are preserved byte for byte.
func (w *Workflow) SetStatus(ctx context.Context, collection, slug, newStatus string) (metadata.Metadata, error) {
	if !w.cfg.UseWorkflow {
		return metadata.Metadata{}, ErrWorkflowDisabled
	}
	status, err := w.cfg.statuses.Parse(newStatus)
	if err != nil {
		return metadata.Metadata{}, err
	}
	key, err := w.keys.EntryKey(keyspace.Unpublished, collection, w.cfg.fileName(slug))
	if err != nil {
		return metadata.Metadata{}, err
	}

	head, err := w.store.Head(ctx, key)
	if err != nil {
		return metadata.Metadata{}, err
	}
	if _, err := w.codec.Decode(head.Metadata, metadata.Canonical); err != nil {
		return metadata.Metadata{}, err
	}

	raw := metadata.WithStatus(head.Metadata, status.String())
	if err := metadata.Check(raw); err != nil {
		return metadata.Metadata{}, err
	}
	err = w.store.Copy(ctx, CopyParams{
		SourceKey:       key,
		DestKey:         key,
		ReplaceMetadata: true,
		Metadata:        raw,
		ContentType:     head.ContentType,
		CacheControl:    w.cfg.StatusCacheControl,
	})
	if err != nil {
		return metadata.Metadata{}, err
	}

	w.logger.Info("entry status updated", "key", key, "status", status.String())
	return w.codec.Decode(raw, metadata.Canonical)
}

// Publish copies the draft to the published namespace and deletes the draft
// once the copy has succeeded. Calling it again after a completed publish is
// a no-op.
func (w *Workflow) Publish(ctx context.Context, collection, slug string) error {
	if !w.cfg.UseWorkflow {
		return ErrWorkflowDisabled
	}
	file := w.cfg.fileName(slug)
	src, err := w.keys.EntryKey(keyspace.Unpublished, collection, file)
	if err != nil {
		return err
	}
	dst, err := w.keys.EntryKey(keyspace.Published, collection, file)
	if err != nil {
		return err
	}

	if _, err := w.store.Head(ctx, src); err != nil {
		if !IsNotFound(err) {
			return err
		}
		published, err := w.exists(ctx, dst)
		if err != nil {
			return err
		}
		if published {
			w.logger.Debug("entry already published", "key", dst)
			return nil
		}
		return &NotFoundError{Key: src}
	}

	if err := w.store.Copy(ctx, CopyParams{SourceKey: src, DestKey: dst}); err != nil {
		return err
	}
	if err := w.store.Delete(ctx, src); err != nil && !IsNotFound(err) {
		w.logger.Error("entry published but draft not deleted; it now exists in both namespaces",
			"source", src, "dest", dst, "err", err)
		return err
	}

	w.logger.Info("entry published", "source", src, "dest", dst)
	return nil
}

// DeleteDraft removes the unpublished copy. A missing draft is not an error.
func (w *Workflow) DeleteDraft(ctx context.Context, collection, slug string) error {
	if !w.cfg.UseWorkflow {
		return ErrWorkflowDisabled
	}
	key, err := w.keys.EntryKey(keyspace.Unpublished, collection, w.cfg.fileName(slug))
	if err != nil {
		return err
	}
	if err := w.store.Delete(ctx, key); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	w.logger.Info("draft deleted", "key", key)
	return nil
}

// ExistsPublished probes the published key. Absence is false; any other
// failure is returned unchanged.
func (w *Workflow) ExistsPublished(ctx context.Context, collection, slug string) (bool, error) {
	key, err := w.keys.EntryKey(keyspace.Published, collection, w.cfg.fileName(slug))
	if err != nil {
		return false, err
	}
	return w.exists(ctx, key)
}

func (w *Workflow) exists(ctx context.Context, key string) (bool, error) {
	if _, err := w.store.Head(ctx, key); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// State reads the workflow position of an entry from both namespaces.
func (w *Workflow) State(ctx context.Context, collection, slug string) (State, error) {
	file := w.cfg.fileName(slug)
	draftKey, err := w.keys.EntryKey(keyspace.Unpublished, collection, file)
	if err != nil {
		return State{}, err
	}
	publishedKey, err := w.keys.EntryKey(keyspace.Published, collection, file)
	if err != nil {
		return State{}, err
	}

	var (
		draft     *ObjectMeta
		published bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		head, err := w.store.Head(gctx, draftKey)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		draft = head
		return nil
	})
	g.Go(func() error {
		var err error
		published, err = w.exists(gctx, publishedKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}

	state := State{Kind: StateNoDraft}
	if draft != nil {
		meta, err := w.codec.Decode(draft.Metadata, metadata.Canonical)
		if err != nil {
			return State{}, err
		}
		status, err := w.cfg.statuses.Parse(meta.Status)
		if err != nil {
			return State{}, err
		}
		state = State{Kind: StateDraft, HasDraft: true, Status: status}
	}
	if published {
		state.Kind = StatePublished
	}
	return state, nil
}
