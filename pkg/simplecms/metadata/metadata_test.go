package metadata

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := Codec{}
	tests := []struct {
		name string
		meta Metadata
	}{
		{
			name: "required only",
			meta: Metadata{Status: "draft", Slug: "x", Collection: "blog"},
		},
		{
			name: "all fields",
			meta: Metadata{
				Status:        "pending_review",
				Slug:          "hello-world",
				Collection:    "blog",
				Title:         "Hello, World!",
				Description:   "A first post about 100% of things & more",
				LegacyPath:    "content/blog/hello-world.md",
				CommitMessage: "Create Blog “hello-world”",
			},
		},
		{
			name: "unicode and reserved characters",
			meta: Metadata{
				Status:      "draft",
				Slug:        "日本語",
				Collection:  "notes",
				Title:       "Ünïcödé 🚀 a+b=c ?x#y %2F",
				Description: "line one\nline two\ttabbed / slash",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := codec.Encode(tt.meta)
			for field, v := range encoded {
				for _, r := range v {
					assert.Less(t, r, rune(128), "field %s must be ASCII after encoding", field)
				}
			}

			decoded, err := codec.Decode(encoded, Canonical)
			require.NoError(t, err)
			assert.Equal(t, tt.meta, decoded)
		})
	}
}

func TestCodec_OmitsUnsetFields(t *testing.T) {
	encoded := Codec{}.Encode(Metadata{Status: "draft", Slug: "x", Collection: "blog"})

	assert.Len(t, encoded, 3)
	_, hasTitle := encoded[FieldTitle]
	assert.False(t, hasTitle)
	_, hasDescription := encoded[FieldDescription]
	assert.False(t, hasDescription)
}

func TestCodec_MissingRequired(t *testing.T) {
	codec := Codec{}
	tests := []struct {
		name   string
		raw    map[string]string
		scheme Scheme
		field  string
	}{
		{"no status", map[string]string{"slug": "x", "collection": "blog"}, Canonical, FieldStatus},
		{"no slug", map[string]string{"status": "draft", "collection": "blog"}, Canonical, FieldSlug},
		{"no collection", map[string]string{"status": "draft", "slug": "x"}, Canonical, FieldCollection},
		{"empty map", map[string]string{}, Canonical, FieldStatus},
		{"legacy needs collection", map[string]string{"status": "draft"}, Legacy, FieldCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.raw, tt.scheme)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingMetadata))

			var missing *MissingMetadataError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tt.field, missing.Field)
		})
	}
}

func TestCodec_LegacySchemeWithoutSlug(t *testing.T) {
	m, err := Codec{}.Decode(map[string]string{"status": "draft", "collection": "blog"}, Legacy)
	require.NoError(t, err)
	assert.Equal(t, "", m.Slug)
	assert.Equal(t, "blog", m.Collection)
}

func TestCodec_DecodeCaseInsensitiveFieldNames(t *testing.T) {
	m, err := Codec{}.Decode(map[string]string{"Status": "draft", "SLUG": "x", "Collection": "blog"}, Canonical)
	require.NoError(t, err)
	assert.Equal(t, Metadata{Status: "draft", Slug: "x", Collection: "blog"}, m)
}

func TestCodec_MalformedValue(t *testing.T) {
	_, err := Codec{}.Decode(map[string]string{"status": "%zz", "slug": "x", "collection": "blog"}, Canonical)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedValue))
}

func TestWithStatus_PreservesOtherValues(t *testing.T) {
	codec := Codec{}
	raw := codec.Encode(Metadata{Slug: "x", Collection: "blog", Status: "draft", Title: "T"})
	raw["x-custom"] = "keep%20me"

	updated := WithStatus(raw, "pending_review")

	for k, v := range raw {
		if k == FieldStatus {
			continue
		}
		assert.Equal(t, v, updated[k], "field %s must be byte-identical", k)
	}

	decoded, err := codec.Decode(updated, Canonical)
	require.NoError(t, err)
	assert.Equal(t, Metadata{Slug: "x", Collection: "blog", Status: "pending_review", Title: "T"}, decoded)
}

func TestSize_CountsEncodedKeysAndValues(t *testing.T) {
	raw := Codec{}.Encode(Metadata{Status: "draft", Slug: "x", Collection: "blog", Title: "文"})
	// status+draft, slug+x, collection+blog, title+%E6%96%87
	assert.Equal(t, 11+5+14+14, Size(raw))
	assert.NoError(t, Check(raw))
}

func TestCheck_TooLarge(t *testing.T) {
	raw := Codec{}.Encode(Metadata{
		Status:      "draft",
		Slug:        "x",
		Collection:  "blog",
		Description: strings.Repeat("文", 300),
	})

	err := Check(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMetadataTooLarge))
	var tooLarge *TooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, Size(raw), tooLarge.Size)
	assert.Equal(t, MaxSize, tooLarge.Limit)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		limit int
		want  string
	}{
		{name: "fits", value: "hello", limit: 10, want: "hello"},
		{name: "ascii", value: "hello world", limit: 5, want: "hello"},
		{name: "escaped space", value: "a b", limit: 3, want: "a"},
		{name: "rune boundary", value: strings.Repeat("文", 10), limit: 20, want: "文文"},
		{name: "nothing fits", value: "文", limit: 8, want: ""},
		{name: "zero", value: "abc", limit: 0, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.value, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(EncodeValue(got)), tt.limit)
		})
	}
}
