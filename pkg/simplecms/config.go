package simplecms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/tendant/simple-cms/pkg/simplecms/keyspace"
)

// Config holds the repository settings. It is validated once by New.
type Config struct {
	// UseWorkflow enables the editorial workflow: new entries are written as
	// drafts under the unpublished namespace.
	UseWorkflow bool

	// Statuses is the closed workflow status set; InitialStatus must be a member.
	Statuses      []string `validate:"omitempty,dive,required,excludesall=/"`
	InitialStatus string

	// Namespace prefixes; empty values use the canonical defaults.
	PublishedPrefix   string
	UnpublishedPrefix string
	MediaPrefix       string

	// EntryExtension is appended to slugs to form file names, e.g. ".md".
	EntryExtension string `validate:"omitempty,startswith=.,excludesall=/"`

	// MaxConcurrency caps concurrent store calls of one operation.
	MaxConcurrency int `validate:"gte=0,lte=1024"`

	// ListPageSize is the page size requested from the store.
	ListPageSize int `validate:"gte=0,lte=1000"`

	// MaxListedKeys bounds how many keys one listing may accumulate.
	MaxListedKeys int `validate:"gte=0"`

	// StatusCacheControl is attached to in-place status rewrites.
	StatusCacheControl string

	// MaxMediaSize is a human readable limit such as "25MB"; empty disables it.
	MaxMediaSize string

	maxMediaBytes int64
	statuses      StatusSet
}

// DefaultConfig returns the library defaults.
func DefaultConfig() Config {
	p := keyspace.DefaultPrefixes()
	return Config{
		UseWorkflow:        true,
		Statuses:           DefaultStatuses,
		InitialStatus:      StatusDraft,
		PublishedPrefix:    p.Published,
		UnpublishedPrefix:  p.Unpublished,
		MediaPrefix:        p.Media,
		EntryExtension:     ".md",
		MaxConcurrency:     16,
		ListPageSize:       1000,
		MaxListedKeys:      100000,
		StatusCacheControl: "max-age=1",
	}
}

var validate = validator.New()

// Validate applies defaults to unset fields and checks the rest. Failures are
// reported as *ConfigurationError.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if len(c.Statuses) == 0 {
		c.Statuses = d.Statuses
		if c.InitialStatus == "" {
			c.InitialStatus = d.InitialStatus
		}
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.ListPageSize == 0 {
		c.ListPageSize = d.ListPageSize
	}
	if c.MaxListedKeys == 0 {
		c.MaxListedKeys = d.MaxListedKeys
	}
	if c.StatusCacheControl == "" {
		c.StatusCacheControl = d.StatusCacheControl
	}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			field, _, _ := strings.Cut(fe.StructField(), "[")
			return &ConfigurationError{
				Field:  toSnake(field),
				Reason: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return &ConfigurationError{Field: "config", Reason: err.Error()}
	}

	set, err := NewStatusSet(c.Statuses, c.InitialStatus)
	if err != nil {
		return err
	}
	c.statuses = set

	if c.MaxMediaSize != "" {
		size, err := units.FromHumanSize(c.MaxMediaSize)
		if err != nil {
			return &ConfigurationError{Field: "max_media_size", Reason: err.Error()}
		}
		if size <= 0 {
			return &ConfigurationError{Field: "max_media_size", Reason: "must be positive"}
		}
		c.maxMediaBytes = size
	}

	p := keyspace.New(c.prefixes()).Prefixes()
	prefixes := []string{p.Published, p.Unpublished, p.Media}
	for i := range prefixes {
		for j := i + 1; j < len(prefixes); j++ {
			a, b := prefixes[i], prefixes[j]
			if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
				return &ConfigurationError{Field: "prefixes", Reason: fmt.Sprintf("%q and %q overlap", a, b)}
			}
		}
	}

	return nil
}

// StatusSet returns the validated status set.
func (c *Config) StatusSet() StatusSet {
	return c.statuses
}

// MaxMediaBytes returns the parsed media size limit, 0 when unlimited.
func (c *Config) MaxMediaBytes() int64 {
	return c.maxMediaBytes
}

func (c *Config) prefixes() keyspace.Prefixes {
	return keyspace.Prefixes{
		Published:   c.PublishedPrefix,
		Unpublished: c.UnpublishedPrefix,
		Media:       c.MediaPrefix,
	}
}

// fileName maps a slug onto the last key segment.
func (c *Config) fileName(slug string) string {
	if c.EntryExtension == "" || strings.HasSuffix(slug, c.EntryExtension) {
		return slug
	}
	return slug + c.EntryExtension
}

// slugOf is the inverse of fileName.
func (c *Config) slugOf(file string) string {
	return strings.TrimSuffix(file, c.EntryExtension)
}

// resolveFile picks the key segment of an entry. The slug decides when set;
// a Path that disagrees with it is rejected.
func (c *Config) resolveFile(e Entry) (file, slug string, err error) {
	switch {
	case e.Slug != "":
		file = c.fileName(e.Slug)
		if e.Path != "" && e.Path != file {
			return "", "", &keyspace.InvalidIdentifierError{
				Field:  "path",
				Value:  e.Path,
				Reason: fmt.Sprintf("does not match slug %q (expected %q)", e.Slug, file),
			}
		}
		return file, e.Slug, nil
	case e.Path != "":
		return e.Path, c.slugOf(e.Path), nil
	default:
		return "", "", &keyspace.InvalidIdentifierError{Field: "slug", Reason: "must not be empty"}
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
