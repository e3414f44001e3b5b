package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/auth"
	"github.com/tendant/simple-cms/pkg/simplecms/metrics"
	"github.com/tendant/simple-cms/pkg/simplecms/storage/memory"
	s3storage "github.com/tendant/simple-cms/pkg/simplecms/storage/s3"
)

// ServerConfig is the process configuration of the server and the CLI.
type ServerConfig struct {
	Host     string `yaml:"host" toml:"host" env:"HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" toml:"port" env:"PORT" env-default:"8080"`
	LogLevel string `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	Storage StorageConfig `yaml:"storage" toml:"storage"`
	CMS     CMSConfig     `yaml:"cms" toml:"cms"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`

	// true unless set otherwise; see Load
	MetricsEnabled bool `yaml:"metrics_enabled" toml:"metrics_enabled" env:"METRICS_ENABLED"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Type string `yaml:"type" toml:"type" env:"STORAGE_TYPE" env-default:"memory"` // memory | s3

	Endpoint        string `yaml:"endpoint" toml:"endpoint" env:"AWS_S3_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	Bucket          string `yaml:"bucket" toml:"bucket" env:"AWS_S3_BUCKET"`
	Region          string `yaml:"region" toml:"region" env:"AWS_S3_REGION" env-default:"us-east-1"`
	UsePathStyle    bool   `yaml:"use_path_style" toml:"use_path_style" env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	PresignDuration int    `yaml:"presign_seconds" toml:"presign_seconds" env:"AWS_S3_PRESIGN_SECONDS" env-default:"3600"`
	EnableSSE       bool   `yaml:"enable_sse" toml:"enable_sse" env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm    string `yaml:"sse_algorithm" toml:"sse_algorithm" env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID     string `yaml:"sse_kms_key_id" toml:"sse_kms_key_id" env:"AWS_S3_SSE_KMS_KEY_ID"`
}

// CopiesKeepETags reports whether a server-side copy keeps the source ETag.
// SSE-KMS encrypted objects get a new one.
func (c StorageConfig) CopiesKeepETags() bool {
	return c.Type != "s3" || !c.EnableSSE || !strings.HasPrefix(c.SSEAlgorithm, "aws:kms")
}

// CMSConfig maps onto simplecms.Config.
type CMSConfig struct {
	UseWorkflow        bool     `yaml:"use_workflow" toml:"use_workflow" env:"CMS_USE_WORKFLOW"` // true unless set otherwise
	Statuses           []string `yaml:"statuses" toml:"statuses" env:"CMS_STATUSES" env-separator:"," env-default:"draft,pending_review,pending_publish"`
	InitialStatus      string   `yaml:"initial_status" toml:"initial_status" env:"CMS_INITIAL_STATUS"`
	PublishedPrefix    string   `yaml:"published_prefix" toml:"published_prefix" env:"CMS_PUBLISHED_PREFIX" env-default:"published/"`
	UnpublishedPrefix  string   `yaml:"unpublished_prefix" toml:"unpublished_prefix" env:"CMS_UNPUBLISHED_PREFIX" env-default:"unpublished/"`
	MediaPrefix        string   `yaml:"media_prefix" toml:"media_prefix" env:"CMS_MEDIA_PREFIX" env-default:"media/"`
	EntryExtension     string   `yaml:"entry_extension" toml:"entry_extension" env:"CMS_ENTRY_EXTENSION" env-default:".md"`
	MaxConcurrency     int      `yaml:"max_concurrency" toml:"max_concurrency" env:"CMS_MAX_CONCURRENCY" env-default:"16"`
	ListPageSize       int      `yaml:"list_page_size" toml:"list_page_size" env:"CMS_LIST_PAGE_SIZE" env-default:"1000"`
	MaxListedKeys      int      `yaml:"max_listed_keys" toml:"max_listed_keys" env:"CMS_MAX_LISTED_KEYS" env-default:"100000"`
	StatusCacheControl string   `yaml:"status_cache_control" toml:"status_cache_control" env:"CMS_STATUS_CACHE_CONTROL" env-default:"max-age=1"`
	MaxMediaSize       string   `yaml:"max_media_size" toml:"max_media_size" env:"CMS_MAX_MEDIA_SIZE" env-default:"25MB"`
}

// AuthConfig configures request authentication of the HTTP API.
type AuthConfig struct {
	// JWTSecret enables HS256 bearer verification when set
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
}

// Load reads the configuration from path, when given, and then from the
// environment. Environment values win. YAML (.yaml, .yml) and TOML (.toml)
// files are accepted.
//
// cleanenv applies env-default to any field still zero after the file is
// read, so booleans that default to true are seeded here instead; a file or
// variable setting them to false then sticks.
func Load(path string) (*ServerConfig, error) {
	cfg := ServerConfig{
		CMS:            CMSConfig{UseWorkflow: true},
		MetricsEnabled: true,
	}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, &simplecms.ConfigurationError{Field: "config", Reason: err.Error()}
	}
	return &cfg, nil
}

// Usage returns the environment variable help text.
func Usage() string {
	var cfg ServerConfig
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return text
}

// Repository returns the simplecms.Config for c.
func (c CMSConfig) Repository() simplecms.Config {
	return simplecms.Config{
		UseWorkflow:        c.UseWorkflow,
		Statuses:           c.Statuses,
		InitialStatus:      c.InitialStatus,
		PublishedPrefix:    c.PublishedPrefix,
		UnpublishedPrefix:  c.UnpublishedPrefix,
		MediaPrefix:        c.MediaPrefix,
		EntryExtension:     c.EntryExtension,
		MaxConcurrency:     c.MaxConcurrency,
		ListPageSize:       c.ListPageSize,
		MaxListedKeys:      c.MaxListedKeys,
		StatusCacheControl: c.StatusCacheControl,
		MaxMediaSize:       c.MaxMediaSize,
	}
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *ServerConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// BuildOptions carries the runtime collaborators of Build.
type BuildOptions struct {
	Logger *slog.Logger

	// Registerer enables store metrics when set
	Registerer prometheus.Registerer

	// Issuer supplies short-lived S3 credentials. Without one, static keys
	// from the configuration are used, then the default AWS chain.
	Issuer auth.Issuer
}

// Runtime is the wired persistence stack.
type Runtime struct {
	Repository *simplecms.Repository
	Store      simplecms.ObjectStore
	Session    *auth.Session
	Metrics    *metrics.StorageMetrics
}

// Build constructs the store, optional metrics and session, and the repository.
func Build(cfg *ServerConfig, opts BuildOptions) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	switch cfg.Storage.Type {
	case "memory", "":
		rt.Store = memory.New()
	case "s3":
		issuer := opts.Issuer
		if issuer == nil && cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
			issuer = auth.Static(auth.Credentials{
				AccessKeyID:     cfg.Storage.AccessKeyID,
				SecretAccessKey: cfg.Storage.SecretAccessKey,
				Principal:       cfg.Storage.AccessKeyID,
			})
		}
		s3cfg := s3storage.Config{
			Region:          cfg.Storage.Region,
			Bucket:          cfg.Storage.Bucket,
			Endpoint:        cfg.Storage.Endpoint,
			UsePathStyle:    cfg.Storage.UsePathStyle,
			PresignDuration: cfg.Storage.PresignDuration,
			EnableSSE:       cfg.Storage.EnableSSE,
			SSEAlgorithm:    cfg.Storage.SSEAlgorithm,
			SSEKMSKeyID:     cfg.Storage.SSEKMSKeyID,
			Logger:          logger,
		}
		if issuer != nil {
			session, err := auth.NewSession(issuer, auth.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			rt.Session = session
			s3cfg.Credentials = session.Provider()
		}
		backend, err := s3storage.New(s3cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 backend: %w", err)
		}
		rt.Store = backend
	default:
		return nil, &simplecms.ConfigurationError{Field: "storage_type", Reason: fmt.Sprintf("unsupported storage type %q (use memory or s3)", cfg.Storage.Type)}
	}

	if opts.Registerer != nil {
		m, err := metrics.NewStorageMetrics(opts.Registerer)
		if err != nil {
			return nil, err
		}
		rt.Metrics = m
		rt.Store = metrics.Instrument(rt.Store, m)
	}

	repo, err := simplecms.New(cfg.CMS.Repository(), simplecms.WithStore(rt.Store), simplecms.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	rt.Repository = repo

	logger.Info("persistence stack ready", "storage", cfg.Storage.Type, "workflow", cfg.CMS.UseWorkflow, "metrics", rt.Metrics != nil)
	return rt, nil
}
