package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/keyspace"
	"golang.org/x/sync/errgroup"
)

// Kind classifies an entry found in both namespaces.
type Kind string

const (
	// KindInterruptedPublish means the draft body equals the published body:
	// the copy of a publish succeeded and the delete did not.
	KindInterruptedPublish Kind = "interrupted_publish"
	// KindModification means the draft differs from the published copy.
	KindModification Kind = "modification"
)

// Finding is an entry that exists in both namespaces.
type Finding struct {
	Collection   string `json:"collection"`
	Slug         string `json:"slug"`
	DraftKey     string `json:"draft_key"`
	PublishedKey string `json:"published_key"`
	Kind         Kind   `json:"kind"`
}

// Scanner finds entries left between the two steps of a publish.
type Scanner struct {
	repo   *simplecms.Repository
	logger *slog.Logger
}

// Option configures a Scanner
type Option func(*Scanner)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// New creates a new Scanner instance.
func New(repo *simplecms.Repository, opts ...Option) *Scanner {
	s := &Scanner{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "reconcile")
	return s
}

// ScanOptions configures the scan operation.
type ScanOptions struct {
	// Resolve deletes the draft of every interrupted publish
	Resolve bool

	// DryRun reports what Resolve would delete without deleting
	DryRun bool

	// CompareBodies reads both copies when their ETags differ and treats
	// equal bodies as an interrupted publish. Needed on buckets where a copy
	// gets a new ETag (SSE-KMS, multipart uploads).
	CompareBodies bool

	// OnFinding is called for every finding (optional)
	OnFinding func(Finding)
}

// ScanResult contains statistics about the scan operation.
type ScanResult struct {
	// Drafts is the number of unpublished keys examined
	Drafts int

	// Findings lists every entry present in both namespaces
	Findings []Finding

	// Resolved is the number of interrupted publishes completed
	Resolved int

	// FailedKeys contains the draft keys whose resolution failed
	FailedKeys []string
}

// Scan compares both namespaces key by key. Bodies are compared by ETag; a
// server-side copy keeps the ETag of a single-part object stored unencrypted
// or with SSE-S3. Under SSE-KMS, and for multipart objects, the copy gets a
// new ETag and every interrupted publish would be reported as a
// modification; set CompareBodies there. A resolution failure is recorded
// and scanning continues.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	result := &ScanResult{}
	keys := s.repo.Keys()

	drafts, err := s.repo.ListKeys(ctx, keyspace.Unpublished)
	if err != nil {
		return result, fmt.Errorf("failed to list drafts: %w", err)
	}
	published, err := s.repo.ListKeys(ctx, keyspace.Published)
	if err != nil {
		return result, fmt.Errorf("failed to list published entries: %w", err)
	}

	live := make(map[string]string, len(published))
	for _, o := range published {
		live[o.Key] = o.ETag
	}

	result.Drafts = len(drafts)
	cfg := s.repo.Config()
	for _, d := range drafts {
		collection, file, err := keys.ParseEntryKey(keyspace.Unpublished, d.Key)
		if err != nil {
			s.logger.Warn("skipping malformed draft key", "key", d.Key, "err", err)
			continue
		}
		publishedKey, err := keys.EntryKey(keyspace.Published, collection, file)
		if err != nil {
			return result, err
		}
		etag, ok := live[publishedKey]
		if !ok {
			continue
		}

		finding := Finding{
			Collection:   collection,
			Slug:         strings.TrimSuffix(file, cfg.EntryExtension),
			DraftKey:     d.Key,
			PublishedKey: publishedKey,
			Kind:         KindModification,
		}
		switch {
		case etag != "" && etag == d.ETag:
			finding.Kind = KindInterruptedPublish
		case opts.CompareBodies:
			same, err := s.sameBody(ctx, collection, finding.Slug)
			if err != nil {
				s.logger.Warn("failed to compare bodies, reporting as modification", "key", d.Key, "err", err)
			} else if same {
				finding.Kind = KindInterruptedPublish
			}
		}
		result.Findings = append(result.Findings, finding)
		if opts.OnFinding != nil {
			opts.OnFinding(finding)
		}

		if !opts.Resolve || finding.Kind != KindInterruptedPublish {
			continue
		}
		if opts.DryRun {
			s.logger.Info("[DRY-RUN] would delete draft of interrupted publish", "key", d.Key)
			continue
		}
		if err := s.repo.DeleteUnpublishedEntry(ctx, collection, file); err != nil {
			s.logger.Error("failed to resolve interrupted publish", "key", d.Key, "err", err)
			result.FailedKeys = append(result.FailedKeys, d.Key)
			continue
		}
		s.logger.Info("resolved interrupted publish", "key", d.Key)
		result.Resolved++
	}

	return result, nil
}

func (s *Scanner) sameBody(ctx context.Context, collection, slug string) (bool, error) {
	draft, err := s.repo.GetUnpublishedEntry(ctx, collection, slug)
	if err != nil {
		return false, err
	}
	live, err := s.repo.GetEntry(ctx, collection, slug)
	if err != nil {
		return false, err
	}
	return draft.Entry.Raw == live.Raw, nil
}

// Ref names an entry.
type Ref struct {
	Collection string `json:"collection"`
	Slug       string `json:"slug"`
}

// Placement is where an entry currently lives.
type Placement string

const (
	PlacementNeither   Placement = "neither"
	PlacementDraft     Placement = "draft"
	PlacementPublished Placement = "published"
	PlacementBoth      Placement = "both"
)

// Report is the placement of one ref.
type Report struct {
	Ref       Ref       `json:"ref"`
	Placement Placement `json:"placement"`
	Status    string    `json:"status,omitempty"`
}

// Verify reports the placement of each ref, in input order. Entries the
// caller expects but which exist in neither namespace show up as
// PlacementNeither.
func (s *Scanner) Verify(ctx context.Context, refs []Ref) ([]Report, error) {
	reports := make([]Report, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.repo.Config().MaxConcurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			state, err := s.repo.EntryState(gctx, ref.Collection, ref.Slug)
			if err != nil {
				return err
			}
			reports[i] = Report{Ref: ref, Placement: placement(state), Status: state.Status.String()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func placement(state simplecms.State) Placement {
	switch {
	case state.Kind == simplecms.StatePublished && state.HasDraft:
		return PlacementBoth
	case state.Kind == simplecms.StatePublished:
		return PlacementPublished
	case state.Kind == simplecms.StateDraft:
		return PlacementDraft
	default:
		return PlacementNeither
	}
}
