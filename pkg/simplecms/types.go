package simplecms

import (
	"io"

	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
)

// Entry is a content document of a collection.
type Entry struct {
	Collection string `json:"collection"`
	Slug       string `json:"slug"`
	// Path is the file name relative to the collection, e.g. "post1.md".
	Path string `json:"path"`
	Raw  string `json:"raw"`
}

// PersistOptions controls PersistEntry.
type PersistOptions struct {
	// NewEntry selects the create transition; otherwise the existing status is carried forward.
	NewEntry      bool
	CommitMessage string

	// Title and Description override values read from the entry front matter.
	Title       string
	Description string
}

// UnpublishedEntry is a draft with its workflow record.
type UnpublishedEntry struct {
	Entry    Entry             `json:"entry"`
	Metadata metadata.Metadata `json:"metadata"`
	Status   Status            `json:"status"`

	// IsModification is true while a published copy of the same entry exists.
	// It is read from the store on every call.
	IsModification bool `json:"is_modification"`
}

// MediaFile is an upload request.
type MediaFile struct {
	// Path is {folder}/{name}, e.g. "uploads/cat.png".
	Path        string
	Body        io.Reader
	Size        int64
	ContentType string
}

// MediaAsset describes a stored media object.
type MediaAsset struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Folder string `json:"folder"`
	Size   int64  `json:"size"`
	URL    string `json:"url"`
	Key    string `json:"-"`
}

// MediaOptions controls PersistMedia.
type MediaOptions struct {
	CommitMessage string
}
