package simplecms

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/docker/go-units"
	"github.com/tendant/simple-cms/pkg/simplecms/keyspace"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
)

const defaultMediaContentType = "application/octet-stream"

// PersistMedia uploads a media file under a freshly generated id. Uploads to
// the same path never collide; each becomes its own object.
func (r *Repository) PersistMedia(ctx context.Context, file MediaFile, opts MediaOptions) (*MediaAsset, error) {
	if file.Body == nil {
		return nil, &keyspace.InvalidIdentifierError{Field: "body", Reason: "must not be nil"}
	}
	limit := r.cfg.MaxMediaBytes()
	if limit > 0 && file.Size > limit {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrMediaTooLarge, units.HumanSize(float64(file.Size)), units.HumanSize(float64(limit)))
	}

	id := r.newID()
	key, err := r.keys.MediaKey(file.Path, id)
	if err != nil {
		return nil, err
	}
	ref, err := r.keys.ParseMediaKey(key)
	if err != nil {
		return nil, err
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(ref.Name))
	}
	if contentType == "" {
		contentType = defaultMediaContentType
	}

	raw := r.codec.Encode(metadata.Metadata{CommitMessage: opts.CommitMessage})
	if err := metadata.Check(raw); err != nil {
		return nil, err
	}

	body := &countingReader{r: file.Body, limit: limit}
	err = r.store.Put(ctx, PutParams{
		Key:         key,
		Body:        body,
		Size:        file.Size,
		ContentType: contentType,
		Metadata:    raw,
	})
	if err != nil {
		return nil, err
	}

	url, err := r.signer.RetrievalURL(ctx, key)
	if err != nil {
		return nil, err
	}

	r.logger.Info("media persisted", "key", key, "size", body.n, "content_type", contentType)
	return &MediaAsset{
		ID:     ref.ID,
		Path:   ref.Path(),
		Name:   ref.Name,
		Folder: ref.Folder,
		Size:   body.n,
		URL:    url,
		Key:    key,
	}, nil
}

// ListMedia returns every media object under folder; an empty folder lists
// all media. A key that does not parse as {folder}/{name}/{id} fails the call.
func (r *Repository) ListMedia(ctx context.Context, folder string) ([]MediaAsset, error) {
	objects, err := r.listAll(ctx, r.keys.MediaFolderPrefix(folder))
	if err != nil {
		return nil, err
	}

	refs := make([]keyspace.MediaRef, len(objects))
	for i, o := range objects {
		ref, err := r.keys.ParseMediaKey(o.Key)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}

	return fanOut(ctx, r.cfg.MaxConcurrency, len(refs), func(ctx context.Context, i int) (MediaAsset, bool, error) {
		url, err := r.signer.RetrievalURL(ctx, refs[i].Key)
		if err != nil {
			return MediaAsset{}, false, err
		}
		return MediaAsset{
			ID:     refs[i].ID,
			Path:   refs[i].Path(),
			Name:   refs[i].Name,
			Folder: refs[i].Folder,
			Size:   objects[i].Size,
			URL:    url,
			Key:    refs[i].Key,
		}, true, nil
	})
}

// DeleteMediaPath deletes every upload of path. A path with no uploads is not
// an error, so repeating the call is safe.
func (r *Repository) DeleteMediaPath(ctx context.Context, mediaPath string) error {
	prefix, err := r.keys.MediaPrefix(mediaPath)
	if err != nil {
		return err
	}
	objects, err := r.listAll(ctx, prefix)
	if err != nil {
		return err
	}

	_, err = fanOut(ctx, r.cfg.MaxConcurrency, len(objects), func(ctx context.Context, i int) (struct{}, bool, error) {
		if err := r.store.Delete(ctx, objects[i].Key); err != nil && !IsNotFound(err) {
			return struct{}{}, false, err
		}
		return struct{}{}, false, nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("media path deleted", "prefix", prefix, "objects", len(objects))
	return nil
}

// countingReader counts bytes read and fails once more than limit bytes pass
// through it. A zero limit disables the check.
type countingReader struct {
	r     io.Reader
	n     int64
	limit int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, fmt.Errorf("%w: more than %s", ErrMediaTooLarge, units.HumanSize(float64(c.limit)))
	}
	return n, err
}
