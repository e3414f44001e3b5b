package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/api"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
	"github.com/tendant/simple-cms/pkg/simplecms/storage/memory"
)

// draftResponse mirrors simplecms.UnpublishedEntry with a plain status string.
type draftResponse struct {
	Entry          simplecms.Entry   `json:"entry"`
	Metadata       metadata.Metadata `json:"metadata"`
	Status         string            `json:"status"`
	IsModification bool              `json:"is_modification"`
}

func setupServer(t *testing.T, cfg simplecms.Config, opts ...api.Option) (*httptest.Server, *memory.Backend) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	repo, err := simplecms.New(cfg, simplecms.WithStore(store), simplecms.WithLogger(logger))
	require.NoError(t, err)

	opts = append([]api.Option{api.WithLogger(logger)}, opts...)
	server := httptest.NewServer(api.NewHandler(repo, opts...).Routes())
	t.Cleanup(server.Close)
	return server, store
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	server, _ := setupServer(t, simplecms.DefaultConfig())

	resp := do(t, http.MethodGet, server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["workflow"])
}

func TestEditorialFlow(t *testing.T) {
	server, _ := setupServer(t, simplecms.DefaultConfig())
	base := server.URL

	resp := do(t, http.MethodPut, base+"/collections/blog/entries/hello", api.PersistEntryRequest{
		Raw:           "---\ntitle: Hello\n---\nbody",
		NewEntry:      true,
		CommitMessage: "create hello",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodGet, base+"/unpublished", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	drafts := decode[[]draftResponse](t, resp)
	require.Len(t, drafts, 1)
	assert.Equal(t, "hello", drafts[0].Entry.Slug)
	assert.Equal(t, "Hello", drafts[0].Metadata.Title)
	assert.False(t, drafts[0].IsModification)

	resp = do(t, http.MethodPut, base+"/unpublished/blog/hello/status", api.UpdateStatusRequest{Status: "pending_review"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, base+"/unpublished/blog/hello", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	draft := decode[draftResponse](t, resp)
	assert.Equal(t, "pending_review", draft.Status)
	assert.Equal(t, "pending_review", draft.Metadata.Status)

	resp = do(t, http.MethodGet, base+"/collections/blog/entries/hello", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, base+"/unpublished/blog/hello/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, base+"/collections/blog/entries/hello", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := decode[simplecms.Entry](t, resp)
	assert.Equal(t, "hello.md", entry.Path)
	assert.Contains(t, entry.Raw, "body")

	resp = do(t, http.MethodGet, base+"/collections/blog/entries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]simplecms.Entry](t, resp), 1)

	resp = do(t, http.MethodGet, base+"/collections/blog/entries?file=hello.md&file=missing.md", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]simplecms.Entry](t, resp), 1)

	resp = do(t, http.MethodGet, base+"/collections/blog/entries/hello/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[api.StateResponse](t, resp)
	assert.Equal(t, "published", state.State)
	assert.False(t, state.HasDraft)

	resp = do(t, http.MethodGet, base+"/unpublished", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]draftResponse](t, resp))
}

func TestErrorMapping(t *testing.T) {
	server, store := setupServer(t, simplecms.DefaultConfig())
	base := server.URL

	resp := do(t, http.MethodPut, base+"/collections/blog/entries/post", api.PersistEntryRequest{Raw: "x", NewEntry: true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		setup  func()
		status int
		code   string
	}{
		{name: "MissingDraft", method: http.MethodGet, path: "/unpublished/blog/nope", status: http.StatusNotFound, code: "not_found"},
		{name: "InvalidStatus", method: http.MethodPut, path: "/unpublished/blog/post/status", body: api.UpdateStatusRequest{Status: "archived"}, status: http.StatusBadRequest, code: "invalid_status"},
		{name: "EmptyStatus", method: http.MethodPut, path: "/unpublished/blog/post/status", body: api.UpdateStatusRequest{}, status: http.StatusBadRequest, code: "bad_request"},
		{name: "PathMismatch", method: http.MethodPut, path: "/collections/blog/entries/post", body: api.PersistEntryRequest{Path: "other.md", Raw: "x"}, status: http.StatusBadRequest, code: "invalid_identifier"},
		{name: "PublishMissing", method: http.MethodPost, path: "/unpublished/blog/ghost/publish", status: http.StatusNotFound, code: "not_found"},
		{
			name:   "TransientStore",
			method: http.MethodGet,
			path:   "/unpublished/blog/post",
			setup:  func() { store.InjectError(memory.OpGet, "", errors.New("connection reset")) },
			status: http.StatusBadGateway,
			code:   "store_unavailable",
		},
		{
			name:   "MetadataTooLarge",
			method: http.MethodPut,
			path:   "/collections/blog/entries/post",
			body:   api.PersistEntryRequest{Raw: "x", Title: strings.Repeat("t", 3000)},
			status: http.StatusUnprocessableEntity,
			code:   "metadata_too_large",
		},
		{
			name:   "RejectedByStore",
			method: http.MethodPut,
			path:   "/unpublished/blog/post/status",
			body:   api.UpdateStatusRequest{Status: "pending_review"},
			setup:  func() { store.InjectError(memory.OpCopy, "", simplecms.ErrInvalidRequest) },
			status: http.StatusUnprocessableEntity,
			code:   "rejected_by_store",
		},
		{
			name:   "AuthFailure",
			method: http.MethodGet,
			path:   "/unpublished",
			setup:  func() { store.InjectError(memory.OpList, "", simplecms.ErrAuth) },
			status: http.StatusUnauthorized,
			code:   "auth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			resp := do(t, tt.method, base+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[api.ErrorResponse](t, resp).Code)
		})
	}
}

func TestWorkflowDisabled(t *testing.T) {
	cfg := simplecms.DefaultConfig()
	cfg.UseWorkflow = false
	server, _ := setupServer(t, cfg)

	resp := do(t, http.MethodGet, server.URL+"/unpublished", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPut, server.URL+"/collections/pages/entries/about", api.PersistEntryRequest{Raw: "about", NewEntry: true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = do(t, http.MethodGet, server.URL+"/collections/pages/entries/about", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func upload(t *testing.T, url, folder, name string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("folder", folder))
	require.NoError(t, mw.WriteField("commit_message", "upload "+name))
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMedia(t *testing.T) {
	cfg := simplecms.DefaultConfig()
	cfg.MaxMediaSize = "1KB"
	server, store := setupServer(t, cfg)
	base := server.URL

	resp := upload(t, base+"/media", "uploads", "cat.png", []byte("meow"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	asset := decode[simplecms.MediaAsset](t, resp)
	assert.Equal(t, "uploads/cat.png", asset.Path)
	assert.Equal(t, int64(4), asset.Size)
	assert.True(t, strings.HasPrefix(asset.URL, "memory://"))

	resp = upload(t, base+"/media", "uploads", "big.bin", bytes.Repeat([]byte("x"), 2000))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = do(t, http.MethodGet, base+"/media?folder=uploads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]simplecms.MediaAsset](t, resp), 1)

	resp = do(t, http.MethodDelete, base+"/media/uploads/cat.png", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, store.Keys())

	resp = do(t, http.MethodDelete, base+"/media/uploads/cat.png", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "deleting again succeeds")
}

func TestMedia_MissingFolder(t *testing.T) {
	server, _ := setupServer(t, simplecms.DefaultConfig())
	resp := upload(t, server.URL+"/media", "", "cat.png", []byte("meow"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJWTAuth(t *testing.T) {
	ja := jwtauth.New("HS256", []byte("test-secret"), nil)
	server, _ := setupServer(t, simplecms.DefaultConfig(), api.WithJWTAuth(ja))

	resp := do(t, http.MethodGet, server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays public")

	resp = do(t, http.MethodGet, server.URL+"/unpublished", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, token, err := ja.Encode(map[string]interface{}{"sub": "editor"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, server.URL+"/unpublished", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}
