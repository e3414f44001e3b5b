package simplecms

import (
	"errors"
	"fmt"

	"github.com/tendant/simple-cms/pkg/simplecms/keyspace"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
)

// Error types
var (
	// ErrConfiguration indicates required settings are absent or invalid
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNotFound indicates an object was not found in the store
	ErrNotFound = errors.New("object not found")

	// ErrTransientStore indicates a network or server failure reported by the store
	ErrTransientStore = errors.New("transient store failure")

	// ErrAuth indicates missing, expired or rejected credentials; the caller must re-authenticate
	ErrAuth = errors.New("authentication failed")

	// ErrInvalidRequest indicates the store rejected the request itself; retrying it cannot succeed
	ErrInvalidRequest = errors.New("request rejected by store")

	// ErrInvalidStatus indicates a workflow status outside the configured set
	ErrInvalidStatus = errors.New("invalid workflow status")

	// ErrWorkflowDisabled indicates a workflow operation while the editorial workflow is off
	ErrWorkflowDisabled = errors.New("editorial workflow disabled")

	// ErrListingLimit indicates a listing grew past the configured key bound
	ErrListingLimit = errors.New("listing exceeds configured key limit")

	// ErrMediaTooLarge indicates a media upload above the configured size limit
	ErrMediaTooLarge = errors.New("media file too large")

	// ErrMissingMetadata indicates an object lacks a required workflow field
	ErrMissingMetadata = metadata.ErrMissingMetadata

	// ErrMetadataTooLarge indicates encoded entry metadata above the store's limit
	ErrMetadataTooLarge = metadata.ErrMetadataTooLarge

	// ErrInvalidIdentifier indicates a collection, slug or path that cannot be mapped to a key
	ErrInvalidIdentifier = keyspace.ErrInvalidIdentifier

	// ErrMalformedKey indicates a stored key outside the canonical layout
	ErrMalformedKey = keyspace.ErrMalformedKey
)

// ConfigurationError reports a setting rejected at construction.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// NotFoundError reports the key that was missing.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object %s not found", e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// StoreError represents a failed object store call. Kind is one of
// ErrNotFound, ErrTransientStore, ErrAuth or ErrInvalidRequest; Err is the client's own error.
// Both are reachable through errors.Is and errors.As.
type StoreError struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
