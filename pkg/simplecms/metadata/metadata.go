// Package metadata encodes the workflow fields attached to stored entries as
// object metadata.
//
// Object stores only carry ASCII string metadata, so every value is
// percent-encoded. Unset fields are left out of the map entirely.
//
// S3 caps user metadata at 2 KB, counted over the UTF-8 bytes of every key
// and value. Size and MaxSize let callers check a map before writing it.
package metadata

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Field names as stored. S3 lowercases user metadata keys, so names are lowercase.
const (
	FieldStatus        = "status"
	FieldSlug          = "slug"
	FieldCollection    = "collection"
	FieldTitle         = "title"
	FieldDescription   = "description"
	FieldLegacyPath    = "legacy-path"
	FieldCommitMessage = "commit-message"
)

var (
	// ErrMissingMetadata indicates a required field is absent
	ErrMissingMetadata = errors.New("missing metadata")

	// ErrMalformedValue indicates a value that is not valid percent-encoding
	ErrMalformedValue = errors.New("malformed metadata value")

	// ErrMetadataTooLarge indicates an encoded map above MaxSize
	ErrMetadataTooLarge = errors.New("metadata too large")
)

// MaxSize is the largest encoded metadata map an object may carry.
const MaxSize = 2048

// TooLargeError reports the encoded size of a rejected map.
type TooLargeError struct {
	Size  int
	Limit int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("encoded metadata is %d bytes, limit is %d", e.Size, e.Limit)
}

func (e *TooLargeError) Unwrap() error {
	return ErrMetadataTooLarge
}

// MissingMetadataError names the first required field that was absent.
type MissingMetadataError struct {
	Field string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("missing metadata field %q", e.Field)
}

func (e *MissingMetadataError) Unwrap() error {
	return ErrMissingMetadata
}

// MalformedValueError reports a field whose value could not be decoded.
type MalformedValueError struct {
	Field string
	Err   error
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("metadata field %q: %v", e.Field, e.Err)
}

func (e *MalformedValueError) Unwrap() []error {
	return []error{ErrMalformedValue, e.Err}
}

// Metadata is the workflow record of an entry. Empty strings mean unset.
type Metadata struct {
	Status        string `json:"status"`
	Slug          string `json:"slug"`
	Collection    string `json:"collection"`
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	LegacyPath    string `json:"legacy_path,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
}

// Scheme selects the required fields for decoding.
type Scheme int

const (
	// Canonical objects are keyed by slug and carry status, slug and collection.
	Canonical Scheme = iota
	// Legacy objects were keyed by raw file path and carry status and collection only.
	Legacy
)

func (s Scheme) required() []string {
	if s == Legacy {
		return []string{FieldStatus, FieldCollection}
	}
	return []string{FieldStatus, FieldSlug, FieldCollection}
}

// Codec converts Metadata to and from object metadata maps. The zero value is ready to use.
type Codec struct{}

// Encode returns the percent-encoded map for m, omitting unset fields.
func (Codec) Encode(m Metadata) map[string]string {
	out := make(map[string]string, 7)
	put := func(field, value string) {
		if value != "" {
			out[field] = EncodeValue(value)
		}
	}
	put(FieldStatus, m.Status)
	put(FieldSlug, m.Slug)
	put(FieldCollection, m.Collection)
	put(FieldTitle, m.Title)
	put(FieldDescription, m.Description)
	put(FieldLegacyPath, m.LegacyPath)
	put(FieldCommitMessage, m.CommitMessage)
	return out
}

// Decode percent-decodes raw into Metadata and checks the scheme's required fields.
func (Codec) Decode(raw map[string]string, scheme Scheme) (Metadata, error) {
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		field := strings.ToLower(k)
		decoded, err := DecodeValue(v)
		if err != nil {
			return Metadata{}, &MalformedValueError{Field: field, Err: err}
		}
		values[field] = decoded
	}

	for _, field := range scheme.required() {
		if values[field] == "" {
			return Metadata{}, &MissingMetadataError{Field: field}
		}
	}

	return Metadata{
		Status:        values[FieldStatus],
		Slug:          values[FieldSlug],
		Collection:    values[FieldCollection],
		Title:         values[FieldTitle],
		Description:   values[FieldDescription],
		LegacyPath:    values[FieldLegacyPath],
		CommitMessage: values[FieldCommitMessage],
	}, nil
}

// WithStatus copies raw and replaces only the status value. Every other value
// is kept byte for byte, including its original encoding.
func WithStatus(raw map[string]string, status string) map[string]string {
	out := make(map[string]string, len(raw)+1)
	for k, v := range raw {
		if strings.EqualFold(k, FieldStatus) {
			continue
		}
		out[k] = v
	}
	out[FieldStatus] = EncodeValue(status)
	return out
}

// Size returns the encoded size of raw as S3 counts it.
func Size(raw map[string]string) int {
	n := 0
	for k, v := range raw {
		n += len(k) + len(v)
	}
	return n
}

// Check returns a *TooLargeError when raw exceeds MaxSize.
func Check(raw map[string]string) error {
	if n := Size(raw); n > MaxSize {
		return &TooLargeError{Size: n, Limit: MaxSize}
	}
	return nil
}

// Truncate returns the longest prefix of v, cut on a rune boundary, whose
// encoded form fits in limit bytes.
func Truncate(v string, limit int) string {
	n := 0
	for i, r := range v {
		n += len(EncodeValue(string(r)))
		if n > limit {
			return v[:i]
		}
	}
	return v
}

// EncodeValue percent-encodes a single value.
func EncodeValue(v string) string {
	return url.PathEscape(v)
}

// DecodeValue reverses EncodeValue.
func DecodeValue(v string) (string, error) {
	return url.PathUnescape(v)
}
