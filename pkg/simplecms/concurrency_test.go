package simplecms_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/storage/memory"
)

// inFlightStore records the highest number of Get, Head and Delete calls
// running at once. Each call holds its slot for delay so calls overlap.
type inFlightStore struct {
	*memory.Backend
	delay   time.Duration
	current atomic.Int64
	peak    atomic.Int64
}

func (s *inFlightStore) enter() func() {
	n := s.current.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.delay)
	return func() { s.current.Add(-1) }
}

func (s *inFlightStore) reset() {
	s.current.Store(0)
	s.peak.Store(0)
}

func (s *inFlightStore) Get(ctx context.Context, key string) (*simplecms.Object, error) {
	defer s.enter()()
	return s.Backend.Get(ctx, key)
}

func (s *inFlightStore) Head(ctx context.Context, key string) (*simplecms.ObjectMeta, error) {
	defer s.enter()()
	return s.Backend.Head(ctx, key)
}

func (s *inFlightStore) Delete(ctx context.Context, key string) error {
	defer s.enter()()
	return s.Backend.Delete(ctx, key)
}

func TestFanOut_RespectsMaxConcurrency(t *testing.T) {
	const keys = 60
	ctx := context.Background()

	tests := []struct {
		name  string
		seed  func(t *testing.T, repo *simplecms.Repository, backend *memory.Backend)
		run   func(repo *simplecms.Repository) error
		check func(t *testing.T, backend *memory.Backend)
	}{
		{
			name: "ListByFolder",
			seed: func(t *testing.T, _ *simplecms.Repository, backend *memory.Backend) {
				for i := 0; i < keys; i++ {
					putObject(t, backend, fmt.Sprintf("published/blog/post%02d.md", i), "x", nil)
				}
			},
			run: func(repo *simplecms.Repository) error {
				entries, err := repo.ListByFolder(ctx, "blog", "md")
				if err == nil && len(entries) != keys {
					return fmt.Errorf("listed %d entries", len(entries))
				}
				return err
			},
		},
		{
			name: "ListUnpublishedEntries",
			seed: func(t *testing.T, repo *simplecms.Repository, _ *memory.Backend) {
				for i := 0; i < keys; i++ {
					err := repo.PersistEntry(ctx, simplecms.Entry{Collection: "blog", Slug: fmt.Sprintf("draft%02d", i), Raw: "x"}, simplecms.PersistOptions{NewEntry: true})
					require.NoError(t, err)
				}
			},
			run: func(repo *simplecms.Repository) error {
				entries, err := repo.ListUnpublishedEntries(ctx)
				if err == nil && len(entries) != keys {
					return fmt.Errorf("listed %d drafts", len(entries))
				}
				return err
			},
		},
		{
			name: "DeleteMediaPath",
			seed: func(t *testing.T, repo *simplecms.Repository, _ *memory.Backend) {
				for i := 0; i < keys; i++ {
					_, err := repo.PersistMedia(ctx, simplecms.MediaFile{Path: "uploads/cat.png", Body: strings.NewReader("meow"), Size: 4}, simplecms.MediaOptions{})
					require.NoError(t, err)
				}
			},
			run: func(repo *simplecms.Repository) error {
				return repo.DeleteMediaPath(ctx, "uploads/cat.png")
			},
			check: func(t *testing.T, backend *memory.Backend) {
				assert.Empty(t, backend.Keys())
				assert.Equal(t, keys, backend.Calls(memory.OpDelete))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := memory.New()
			store := &inFlightStore{Backend: backend, delay: 2 * time.Millisecond}
			cfg := testConfig()
			cfg.MaxConcurrency = 3
			repo, err := simplecms.New(cfg,
				simplecms.WithStore(store),
				simplecms.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			)
			require.NoError(t, err)

			tt.seed(t, repo, backend)
			store.reset()

			require.NoError(t, tt.run(repo))
			assert.LessOrEqual(t, store.peak.Load(), int64(3))
			assert.Greater(t, store.peak.Load(), int64(1), "calls should overlap")
			assert.Zero(t, store.current.Load())
			if tt.check != nil {
				tt.check(t, backend)
			}
		})
	}
}
