package simplecms_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
	"github.com/tendant/simple-cms/pkg/simplecms/storage/memory"
)

func testConfig() simplecms.Config {
	cfg := simplecms.DefaultConfig()
	cfg.Statuses = []string{"draft", "review", "published"}
	cfg.InitialStatus = "draft"
	return cfg
}

func setupRepository(t *testing.T, cfg simplecms.Config, opts ...memory.Option) (*simplecms.Repository, *memory.Backend) {
	t.Helper()
	store := memory.New(opts...)
	repo, err := simplecms.New(cfg,
		simplecms.WithStore(store),
		simplecms.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return repo, store
}

func putObject(t *testing.T, store *memory.Backend, key, body string, meta map[string]string) {
	t.Helper()
	err := store.Put(context.Background(), simplecms.PutParams{
		Key:      key,
		Body:     strings.NewReader(body),
		Size:     int64(len(body)),
		Metadata: meta,
	})
	require.NoError(t, err)
}

func TestNew(t *testing.T) {
	t.Run("MissingStore", func(t *testing.T) {
		_, err := simplecms.New(testConfig())
		var cfgErr *simplecms.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "store", cfgErr.Field)
		assert.ErrorIs(t, err, simplecms.ErrConfiguration)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := testConfig()
		cfg.InitialStatus = "archived"
		_, err := simplecms.New(cfg, simplecms.WithStore(memory.New()))
		assert.ErrorIs(t, err, simplecms.ErrConfiguration)
	})
}

func TestListByExplicitFiles(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())
	putObject(t, store, "published/blog/a.md", "# A", nil)

	entries, err := repo.ListByExplicitFiles(ctx, "blog", []string{"a.md", "b.md"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, simplecms.Entry{Collection: "blog", Slug: "a", Path: "a.md", Raw: "# A"}, entries[0])
}

func TestListByExplicitFiles_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())
	files := []string{"c.md", "a.md", "b.md"}
	for _, f := range files {
		putObject(t, store, "published/blog/"+f, f, nil)
	}

	entries, err := repo.ListByExplicitFiles(ctx, "blog", files)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, f := range files {
		assert.Equal(t, f, entries[i].Path)
	}
}

func TestListByFolder(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())
	putObject(t, store, "published/blog/post1.md", "post", nil)
	putObject(t, store, "published/blog/post1.png", "png", nil)
	putObject(t, store, "published/blogroll/other.md", "other", nil)

	t.Run("FiltersExtension", func(t *testing.T) {
		entries, err := repo.ListByFolder(ctx, "blog", "md")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "post1.md", entries[0].Path)
		assert.Equal(t, "post1", entries[0].Slug)
	})

	t.Run("DottedExtension", func(t *testing.T) {
		entries, err := repo.ListByFolder(ctx, "blog", ".png")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "post1.png", entries[0].Path)
	})

	t.Run("AnyExtension", func(t *testing.T) {
		entries, err := repo.ListByFolder(ctx, "blog", "")
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

func TestListByFolder_DrainsEveryPage(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ListPageSize = 1
	repo, store := setupRepository(t, cfg, memory.WithPageSize(1))
	for i := 0; i < 3; i++ {
		putObject(t, store, fmt.Sprintf("published/blog/post%d.md", i), "x", nil)
	}

	entries, err := repo.ListByFolder(ctx, "blog", "md")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 3, store.Calls(memory.OpList))
}

func TestListByFolder_StoreFailureAbortsCall(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())
	putObject(t, store, "published/blog/a.md", "a", nil)
	putObject(t, store, "published/blog/b.md", "b", nil)

	boom := errors.New("connection reset")
	store.InjectError(memory.OpGet, "published/blog/b.md", boom)

	entries, err := repo.ListByFolder(ctx, "blog", "md")
	assert.Nil(t, entries)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, simplecms.ErrTransientStore)
}

func TestListByFolder_ListingLimit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxListedKeys = 2
	repo, store := setupRepository(t, cfg)
	for i := 0; i < 3; i++ {
		putObject(t, store, fmt.Sprintf("published/blog/post%d.md", i), "x", nil)
	}

	_, err := repo.ListByFolder(ctx, "blog", "md")
	assert.ErrorIs(t, err, simplecms.ErrListingLimit)
}

func TestGetEntry(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())
	putObject(t, store, "published/blog/hello.md", "hi", nil)

	entry, err := repo.GetEntry(ctx, "blog", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", entry.Raw)

	_, err = repo.GetEntry(ctx, "blog", "missing")
	var nf *simplecms.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "published/blog/missing.md", nf.Key)

	_, err = repo.GetEntry(ctx, "blog", "a/b")
	assert.ErrorIs(t, err, simplecms.ErrInvalidIdentifier)
}

func TestPersistEntry_WorkflowDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.UseWorkflow = false
	repo, store := setupRepository(t, cfg)

	err := repo.PersistEntry(ctx, simplecms.Entry{Collection: "blog", Slug: "post", Raw: "body"}, simplecms.PersistOptions{NewEntry: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"published/blog/post.md"}, store.Keys())

	_, err = repo.ListUnpublishedEntries(ctx)
	assert.ErrorIs(t, err, simplecms.ErrWorkflowDisabled)
	assert.ErrorIs(t, repo.PublishUnpublishedEntry(ctx, "blog", "post"), simplecms.ErrWorkflowDisabled)
}

func TestPersistEntry_PathMismatch(t *testing.T) {
	repo, _ := setupRepository(t, testConfig())
	err := repo.PersistEntry(context.Background(),
		simplecms.Entry{Collection: "blog", Slug: "post", Path: "other.md"},
		simplecms.PersistOptions{NewEntry: true})
	assert.ErrorIs(t, err, simplecms.ErrInvalidIdentifier)
}

func TestListUnpublishedEntries(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())

	for _, slug := range []string{"one", "two"} {
		err := repo.PersistEntry(ctx, simplecms.Entry{Collection: "blog", Slug: slug, Raw: slug}, simplecms.PersistOptions{NewEntry: true})
		require.NoError(t, err)
	}
	putObject(t, store, "published/blog/two.md", "live", nil)

	entries, err := repo.ListUnpublishedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "one", entries[0].Entry.Slug)
	assert.False(t, entries[0].IsModification)
	assert.Equal(t, "two", entries[1].Entry.Slug)
	assert.True(t, entries[1].IsModification)
	for _, e := range entries {
		assert.Equal(t, "draft", e.Status.String())
		assert.Equal(t, "blog", e.Metadata.Collection)
	}
}

func TestListUnpublishedEntries_MissingMetadata(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())
	putObject(t, store, "unpublished/blog/bare.md", "x", nil)

	_, err := repo.ListUnpublishedEntries(ctx)
	assert.ErrorIs(t, err, simplecms.ErrMissingMetadata)
}

func TestListUnpublishedEntries_MalformedKey(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())
	putObject(t, store, "unpublished/stray.md", "x", nil)

	_, err := repo.ListUnpublishedEntries(ctx)
	assert.ErrorIs(t, err, simplecms.ErrMalformedKey)
}

func TestPersistMedia(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())

	upload := func() *simplecms.MediaAsset {
		asset, err := repo.PersistMedia(ctx, simplecms.MediaFile{
			Path: "uploads/cat.png",
			Body: strings.NewReader("png-bytes"),
			Size: 9,
		}, simplecms.MediaOptions{CommitMessage: "add cat"})
		require.NoError(t, err)
		return asset
	}

	first := upload()
	second := upload()
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Key, second.Key)
	assert.Equal(t, "uploads/cat.png", first.Path)
	assert.Equal(t, "cat.png", first.Name)
	assert.Equal(t, int64(9), first.Size)
	assert.Equal(t, "memory://"+first.Key, first.URL)

	head, err := store.Head(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", head.ContentType)
	assert.Equal(t, "add%20cat", head.Metadata[metadata.FieldCommitMessage])

	t.Run("ListMedia", func(t *testing.T) {
		assets, err := repo.ListMedia(ctx, "uploads")
		require.NoError(t, err)
		require.Len(t, assets, 2)
		ids := []string{assets[0].ID, assets[1].ID}
		assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
		assert.Equal(t, "cat.png", assets[0].Name)
		assert.Equal(t, "uploads", assets[0].Folder)
	})

	t.Run("DeleteMediaPath", func(t *testing.T) {
		require.NoError(t, repo.DeleteMediaPath(ctx, "uploads/cat.png"))
		assets, err := repo.ListMedia(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, assets)

		require.NoError(t, repo.DeleteMediaPath(ctx, "uploads/cat.png"))
	})
}

func TestDeleteMediaPath_OnlyMatchingPath(t *testing.T) {
	ctx := context.Background()
	repo, store := setupRepository(t, testConfig())
	putObject(t, store, "media/uploads/cat.png/1", "a", nil)
	putObject(t, store, "media/uploads/cat.png2/2", "b", nil)

	require.NoError(t, repo.DeleteMediaPath(ctx, "uploads/cat.png"))
	assert.Equal(t, []string{"media/uploads/cat.png2/2"}, store.Keys())
}

func TestPersistMedia_TooLarge(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxMediaSize = "4B"
	repo, store := setupRepository(t, cfg)

	_, err := repo.PersistMedia(ctx, simplecms.MediaFile{Path: "uploads/a.bin", Body: strings.NewReader("12345"), Size: 5}, simplecms.MediaOptions{})
	assert.ErrorIs(t, err, simplecms.ErrMediaTooLarge)

	_, err = repo.PersistMedia(ctx, simplecms.MediaFile{Path: "uploads/a.bin", Body: strings.NewReader("12345"), Size: -1}, simplecms.MediaOptions{})
	assert.ErrorIs(t, err, simplecms.ErrMediaTooLarge)
	assert.Empty(t, store.Keys())
}

func TestPersistMedia_InvalidPath(t *testing.T) {
	repo, _ := setupRepository(t, testConfig())
	_, err := repo.PersistMedia(context.Background(), simplecms.MediaFile{Path: "cat.png", Body: strings.NewReader("x")}, simplecms.MediaOptions{})
	assert.ErrorIs(t, err, simplecms.ErrInvalidIdentifier)
}

func TestListMedia_MalformedKey(t *testing.T) {
	repo, store := setupRepository(t, testConfig())
	putObject(t, store, "media/stray", "x", nil)

	_, err := repo.ListMedia(context.Background(), "")
	assert.ErrorIs(t, err, simplecms.ErrMalformedKey)
}
