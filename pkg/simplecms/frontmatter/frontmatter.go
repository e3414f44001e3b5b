// Package frontmatter reads the header block of an entry body.
package frontmatter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format of a front matter block.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// ErrNoFrontMatter indicates the body has no recognizable header
var ErrNoFrontMatter = errors.New("no front matter")

// Document is a parsed body.
type Document struct {
	Fields map[string]interface{}
	Body   string
	Format Format
}

// Parse splits raw into front matter fields and body. YAML blocks are fenced
// by "---", TOML by "+++", and a body starting with "{" is read as JSON.
func Parse(raw string) (*Document, error) {
	content := strings.ReplaceAll(raw, "\r\n", "\n")

	switch {
	case strings.HasPrefix(content, "---"):
		head, body, ok := split(content, "---")
		if !ok {
			return nil, ErrNoFrontMatter
		}
		var fields map[string]interface{}
		if err := yaml.Unmarshal([]byte(head), &fields); err != nil {
			return nil, fmt.Errorf("parse yaml front matter: %w", err)
		}
		return &Document{Fields: fields, Body: body, Format: FormatYAML}, nil

	case strings.HasPrefix(content, "+++"):
		head, body, ok := split(content, "+++")
		if !ok {
			return nil, ErrNoFrontMatter
		}
		var fields map[string]interface{}
		if err := toml.Unmarshal([]byte(head), &fields); err != nil {
			return nil, fmt.Errorf("parse toml front matter: %w", err)
		}
		return &Document{Fields: fields, Body: body, Format: FormatTOML}, nil

	case strings.HasPrefix(strings.TrimSpace(content), "{"):
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(content), &fields); err != nil {
			return nil, fmt.Errorf("parse json front matter: %w", err)
		}
		body, _ := fields["body"].(string)
		return &Document{Fields: fields, Body: body, Format: FormatJSON}, nil
	}

	return nil, ErrNoFrontMatter
}

func split(content, fence string) (head, body string, ok bool) {
	parts := strings.SplitN(content, fence, 3)
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[1], strings.TrimSpace(parts[2]), true
}

// String returns a top-level string field, or "" when absent or not a string.
func (d *Document) String(field string) string {
	if d == nil || d.Fields == nil {
		return ""
	}
	v, ok := d.Fields[field].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Summary returns the title and description of raw. Bodies without a header
// yield empty strings.
func Summary(raw string) (title, description string) {
	doc, err := Parse(raw)
	if err != nil {
		return "", ""
	}
	return doc.String("title"), doc.String("description")
}
