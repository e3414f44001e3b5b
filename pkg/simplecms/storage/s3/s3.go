package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/metadata"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)
	PresignDuration int    // Duration in seconds for retrieval URLs (default: 3600)

	// Credentials overrides the static keys and the default chain, e.g. an
	// auth.Session provider for externally issued credentials.
	Credentials aws.CredentialsProvider

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	Logger *slog.Logger
}

// Client is the subset of *s3.Client the backend calls.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Uploader streams object bodies, switching to multipart for large media.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Presigner issues time-bounded GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Backend is an S3-compatible implementation of simplecms.ObjectStore and simplecms.URLSigner
type Backend struct {
	client          Client
	uploader        Uploader
	presigner       Presigner
	bucket          string
	presignDuration time.Duration
	config          Config
	logger          *slog.Logger
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if err := normalize(&config); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	switch {
	case config.Credentials != nil:
		opts = append(opts, awsconfig.WithCredentialsProvider(config.Credentials))
	case config.AccessKeyID != "" && config.SecretAccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, &simplecms.ConfigurationError{Field: "aws", Reason: fmt.Sprintf("failed to load AWS config: %v", err)}
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)
	return newBackend(config, client, manager.NewUploader(client), s3.NewPresignClient(client)), nil
}

// NewWithClients creates a backend on caller supplied clients.
func NewWithClients(config Config, client Client, uploader Uploader, presigner Presigner) (*Backend, error) {
	if err := normalize(&config); err != nil {
		return nil, err
	}
	if client == nil || uploader == nil || presigner == nil {
		return nil, &simplecms.ConfigurationError{Field: "client", Reason: "client, uploader and presigner are required"}
	}
	return newBackend(config, client, uploader, presigner), nil
}

func normalize(config *Config) error {
	if config.Bucket == "" {
		return &simplecms.ConfigurationError{Field: "bucket", Reason: "bucket name is required"}
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.PresignDuration == 0 {
		config.PresignDuration = 3600 // 1 hour default
	}
	if config.PresignDuration < 0 {
		return &simplecms.ConfigurationError{Field: "presign_duration", Reason: "must be positive"}
	}
	if config.EnableSSE {
		switch config.SSEAlgorithm {
		case "AES256", "aws:kms":
		default:
			return &simplecms.ConfigurationError{Field: "sse_algorithm", Reason: fmt.Sprintf("unsupported algorithm %q", config.SSEAlgorithm)}
		}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return nil
}

func newBackend(config Config, client Client, uploader Uploader, presigner Presigner) *Backend {
	return &Backend{
		client:          client,
		uploader:        uploader,
		presigner:       presigner,
		bucket:          config.Bucket,
		presignDuration: time.Duration(config.PresignDuration) * time.Second,
		config:          config,
		logger:          config.Logger.With("component", "s3", "bucket", config.Bucket),
	}
}

// Head retrieves metadata for an object in S3
func (b *Backend) Head(ctx context.Context, key string) (*simplecms.ObjectMeta, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("head", key, err)
	}

	meta := objectMeta(key, result.ContentLength, result.ContentType, result.CacheControl, result.ETag, result.LastModified, result.Metadata)
	return &meta, nil
}

// Get downloads an object. The caller closes the body.
func (b *Backend) Get(ctx context.Context, key string) (*simplecms.Object, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get", key, err)
	}

	return &simplecms.Object{
		ObjectMeta: objectMeta(key, result.ContentLength, result.ContentType, result.CacheControl, result.ETag, result.LastModified, result.Metadata),
		Body:       result.Body,
	}, nil
}

// Put uploads an object through the upload manager
func (b *Backend) Put(ctx context.Context, params simplecms.PutParams) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(params.Key),
		Body:     params.Body,
		Metadata: params.Metadata,
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}
	if params.CacheControl != "" {
		input.CacheControl = aws.String(params.CacheControl)
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return classify("put", params.Key, err)
	}
	return nil
}

// Copy performs a server-side copy. ReplaceMetadata sets MetadataDirective
// REPLACE, which S3 requires when an object is copied onto itself.
func (b *Backend) Copy(ctx context.Context, params simplecms.CopyParams) error {
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(params.DestKey),
		CopySource: aws.String(copySource(b.bucket, params.SourceKey)),
	}
	if params.ReplaceMetadata {
		input.MetadataDirective = types.MetadataDirectiveReplace
		input.Metadata = params.Metadata
		if params.ContentType != "" {
			input.ContentType = aws.String(params.ContentType)
		}
		if params.CacheControl != "" {
			input.CacheControl = aws.String(params.CacheControl)
		}
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()

	if _, err := b.client.CopyObject(ctx, input); err != nil {
		return classify("copy", params.SourceKey, err)
	}
	return nil
}

// Delete deletes an object. S3 reports success for missing keys.
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("delete", key, err)
	}
	return nil
}

// List returns one ListObjectsV2 page
func (b *Backend) List(ctx context.Context, opts simplecms.ListOptions) (*simplecms.ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(opts.Prefix),
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}
	if opts.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(int32(opts.MaxKeys))
	}

	result, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, classify("list", opts.Prefix, err)
	}

	page := &simplecms.ListPage{
		Objects:           make([]simplecms.ObjectSummary, 0, len(result.Contents)),
		IsTruncated:       aws.ToBool(result.IsTruncated),
		ContinuationToken: aws.ToString(result.NextContinuationToken),
	}
	for _, o := range result.Contents {
		page.Objects = append(page.Objects, simplecms.ObjectSummary{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			ETag:         strings.Trim(aws.ToString(o.ETag), "\""),
			LastModified: aws.ToTime(o.LastModified),
		})
	}
	b.logger.Debug("listed page", "prefix", opts.Prefix, "keys", len(page.Objects), "truncated", page.IsTruncated)
	return page, nil
}

// RetrievalURL returns a presigned GET URL valid for PresignDuration
func (b *Backend) RetrievalURL(ctx context.Context, key string) (string, error) {
	result, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = b.presignDuration
	})
	if err != nil {
		return "", classify("presign", key, err)
	}
	return result.URL, nil
}

func (b *Backend) sse() (types.ServerSideEncryption, *string) {
	if !b.config.EnableSSE {
		return "", nil
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		return types.ServerSideEncryptionAes256, nil
	case "aws:kms":
		if b.config.SSEKMSKeyID != "" {
			return types.ServerSideEncryptionAwsKms, aws.String(b.config.SSEKMSKeyID)
		}
		return types.ServerSideEncryptionAwsKms, nil
	}
	return "", nil
}

func objectMeta(key string, size *int64, contentType, cacheControl, etag *string, modified *time.Time, metadata map[string]string) simplecms.ObjectMeta {
	return simplecms.ObjectMeta{
		Key:          key,
		Size:         aws.ToInt64(size),
		ContentType:  aws.ToString(contentType),
		CacheControl: aws.ToString(cacheControl),
		ETag:         strings.Trim(aws.ToString(etag), "\""),
		UpdatedAt:    aws.ToTime(modified),
		Metadata:     metadata,
	}
}

// copySource escapes each key segment; the separators stay literal.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

var authCodes = map[string]bool{
	"AccessDenied":          true,
	"ExpiredToken":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"InvalidToken":          true,
	"TokenRefreshRequired":  true,
}

// invalidCodes are client errors that fail the same way on every retry.
var invalidCodes = map[string]bool{
	"MetadataTooLarge":        true,
	"InvalidArgument":         true,
	"InvalidRequest":          true,
	"EntityTooLarge":          true,
	"KeyTooLongError":         true,
	"InvalidObjectState":      true,
	"InvalidStorageClass":     true,
	"InvalidEncryptionMethod": true,
	"MalformedXML":            true,
	"MissingContentLength":    true,
}

// classify maps an SDK failure onto the store error kinds.
func classify(op, key string, err error) error {
	kind := simplecms.ErrTransientStore

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var apiErr smithy.APIError
	var respErr *awshttp.ResponseError
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		kind = simplecms.ErrNotFound
	case errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"):
		kind = simplecms.ErrNotFound
	case errors.As(err, &apiErr) && authCodes[apiErr.ErrorCode()]:
		kind = simplecms.ErrAuth
	case errors.As(err, &apiErr) && invalidCodes[apiErr.ErrorCode()]:
		kind = simplecms.ErrInvalidRequest
		if apiErr.ErrorCode() == "MetadataTooLarge" {
			err = fmt.Errorf("%w: %w", metadata.ErrMetadataTooLarge, err)
		}
	case errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound:
		kind = simplecms.ErrNotFound
	case errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusForbidden:
		kind = simplecms.ErrAuth
	case errors.As(err, &respErr) && (respErr.HTTPStatusCode() == http.StatusBadRequest || respErr.HTTPStatusCode() == http.StatusRequestEntityTooLarge):
		kind = simplecms.ErrInvalidRequest
	}

	return &simplecms.StoreError{Op: op, Key: key, Kind: kind, Err: err}
}

var (
	_ simplecms.ObjectStore = (*Backend)(nil)
	_ simplecms.URLSigner   = (*Backend)(nil)
)
