// Package keyspace maps CMS identifiers (collection, slug, media path) onto
// object keys and back.
//
// Canonical layout:
//
//	published/{collection}/{file}
//	unpublished/{collection}/{file}
//	media/{folder...}/{name}/{id}
//
// The mapping is pure. Identifiers containing the separator are rejected
// rather than escaped, so every canonical key splits back into exactly the
// identifiers that produced it.
package keyspace

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins key segments.
const Separator = "/"

// Namespace selects one of the logical key spaces.
type Namespace int

const (
	Published Namespace = iota
	Unpublished
	Media
)

func (n Namespace) String() string {
	switch n {
	case Published:
		return "published"
	case Unpublished:
		return "unpublished"
	case Media:
		return "media"
	default:
		return fmt.Sprintf("namespace(%d)", int(n))
	}
}

var (
	// ErrInvalidIdentifier indicates a collection, slug or path that cannot be mapped to a key
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrMalformedKey indicates a stored key that does not follow the canonical layout
	ErrMalformedKey = errors.New("malformed key")
)

// InvalidIdentifierError names the offending field and value.
type InvalidIdentifierError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidIdentifierError) Unwrap() error {
	return ErrInvalidIdentifier
}

// MalformedKeyError reports a key that could not be parsed.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed key %q: %s", e.Key, e.Reason)
}

func (e *MalformedKeyError) Unwrap() error {
	return ErrMalformedKey
}

// Prefixes holds the leading segment of each namespace, including the trailing separator.
type Prefixes struct {
	Published   string
	Unpublished string
	Media       string
}

// DefaultPrefixes returns the canonical namespace prefixes.
func DefaultPrefixes() Prefixes {
	return Prefixes{
		Published:   "published/",
		Unpublished: "unpublished/",
		Media:       "media/",
	}
}

// Mapper translates identifiers to keys for a fixed set of prefixes.
type Mapper struct {
	prefixes Prefixes
}

// New creates a Mapper. Prefixes missing a trailing separator get one; empty
// prefixes fall back to the defaults.
func New(p Prefixes) *Mapper {
	d := DefaultPrefixes()
	return &Mapper{prefixes: Prefixes{
		Published:   normalizePrefix(p.Published, d.Published),
		Unpublished: normalizePrefix(p.Unpublished, d.Unpublished),
		Media:       normalizePrefix(p.Media, d.Media),
	}}
}

func normalizePrefix(p, fallback string) string {
	if p == "" {
		return fallback
	}
	if !strings.HasSuffix(p, Separator) {
		p += Separator
	}
	return p
}

// Prefixes returns the effective prefixes.
func (m *Mapper) Prefixes() Prefixes {
	return m.prefixes
}

// Prefix returns the prefix of a namespace.
func (m *Mapper) Prefix(ns Namespace) string {
	switch ns {
	case Published:
		return m.prefixes.Published
	case Unpublished:
		return m.prefixes.Unpublished
	default:
		return m.prefixes.Media
	}
}

// EntryKey returns {prefix}{collection}/{file}.
func (m *Mapper) EntryKey(ns Namespace, collection, file string) (string, error) {
	if err := ValidateSegment("collection", collection); err != nil {
		return "", err
	}
	if err := ValidateSegment("slug", file); err != nil {
		return "", err
	}
	return m.Prefix(ns) + collection + Separator + file, nil
}

// CollectionPrefix returns the listing prefix for all entries of a collection.
func (m *Mapper) CollectionPrefix(ns Namespace, collection string) (string, error) {
	if err := ValidateSegment("collection", collection); err != nil {
		return "", err
	}
	return m.Prefix(ns) + collection + Separator, nil
}

// Strip removes the namespace prefix from key. It is the exact inverse of EntryKey.
func (m *Mapper) Strip(ns Namespace, key string) (string, error) {
	return StripPrefix(m.Prefix(ns), key)
}

// StripPrefix removes prefix from key by length after checking it is present.
func StripPrefix(prefix, key string) (string, error) {
	if !strings.HasPrefix(key, prefix) {
		return "", &MalformedKeyError{Key: key, Reason: fmt.Sprintf("missing prefix %q", prefix)}
	}
	return key[len(prefix):], nil
}

// ParseEntryKey splits a canonical entry key into collection and file.
func (m *Mapper) ParseEntryKey(ns Namespace, key string) (collection, file string, err error) {
	rel, err := m.Strip(ns, key)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(rel, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &MalformedKeyError{Key: key, Reason: "expected {collection}/{slug}"}
	}
	return parts[0], parts[1], nil
}

// LegacyKey returns the historic key for an entry addressed by its raw file
// path, e.g. unpublished/content/blog/post.md. Only the migrator reads these.
func (m *Mapper) LegacyKey(ns Namespace, rawPath string) (string, error) {
	rawPath = strings.TrimPrefix(rawPath, Separator)
	if rawPath == "" {
		return "", &InvalidIdentifierError{Field: "path", Value: rawPath, Reason: "must not be empty"}
	}
	return m.Prefix(ns) + rawPath, nil
}

// ValidateSegment rejects empty values and values containing the separator.
func ValidateSegment(field, value string) error {
	if value == "" {
		return &InvalidIdentifierError{Field: field, Value: value, Reason: "must not be empty"}
	}
	if strings.Contains(value, Separator) {
		return &InvalidIdentifierError{Field: field, Value: value, Reason: "must not contain " + Separator}
	}
	return nil
}
