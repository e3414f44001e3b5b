package keyspace

import (
	"strings"
)

// MediaRef is a parsed media key.
type MediaRef struct {
	Key    string
	Folder string
	Name   string
	ID     string
}

// Path returns folder/name, the path the asset was uploaded under.
func (r MediaRef) Path() string {
	return r.Folder + Separator + r.Name
}

// CleanMediaPath validates a media path and trims surrounding separators.
// A path needs at least a folder and a file name so that its keys always
// have three segments.
func CleanMediaPath(path string) (string, error) {
	cleaned := strings.Trim(path, Separator)
	segments := strings.Split(cleaned, Separator)
	if cleaned == "" || len(segments) < 2 {
		return "", &InvalidIdentifierError{Field: "path", Value: path, Reason: "expected {folder}/{name}"}
	}
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			return "", &InvalidIdentifierError{Field: "path", Value: path, Reason: "empty or relative segment"}
		}
	}
	return cleaned, nil
}

// MediaKey returns {media}{path}/{id}.
func (m *Mapper) MediaKey(path, id string) (string, error) {
	cleaned, err := CleanMediaPath(path)
	if err != nil {
		return "", err
	}
	if err := ValidateSegment("id", id); err != nil {
		return "", err
	}
	return m.prefixes.Media + cleaned + Separator + id, nil
}

// MediaPrefix returns the listing prefix for every upload of path. The
// trailing separator keeps sibling names sharing a prefix out of the match.
func (m *Mapper) MediaPrefix(path string) (string, error) {
	cleaned, err := CleanMediaPath(path)
	if err != nil {
		return "", err
	}
	return m.prefixes.Media + cleaned + Separator, nil
}

// MediaFolderPrefix returns the listing prefix for a folder. An empty folder
// lists the whole media namespace.
func (m *Mapper) MediaFolderPrefix(folder string) string {
	folder = strings.Trim(folder, Separator)
	if folder == "" {
		return m.prefixes.Media
	}
	return m.prefixes.Media + folder + Separator
}

// ParseMediaKey reads name and id from the trailing two segments; the rest is
// the folder.
func (m *Mapper) ParseMediaKey(key string) (MediaRef, error) {
	rel, err := StripPrefix(m.prefixes.Media, key)
	if err != nil {
		return MediaRef{}, err
	}
	segments := strings.Split(rel, Separator)
	if len(segments) < 3 {
		return MediaRef{}, &MalformedKeyError{Key: key, Reason: "expected {folder}/{name}/{id}"}
	}
	n := len(segments)
	ref := MediaRef{
		Key:    key,
		Folder: strings.Join(segments[:n-2], Separator),
		Name:   segments[n-2],
		ID:     segments[n-1],
	}
	if ref.Name == "" || ref.ID == "" || ref.Folder == "" {
		return MediaRef{}, &MalformedKeyError{Key: key, Reason: "empty segment"}
	}
	return ref, nil
}
