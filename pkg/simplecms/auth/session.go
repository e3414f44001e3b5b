package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/tendant/simple-cms/pkg/simplecms"
)

// Credentials are short-lived store credentials issued by an external
// identity provider. Token is the provider's opaque session token.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
	Principal       string
	Token           string
}

func (c Credentials) expired(now time.Time, window time.Duration) bool {
	return !c.Expires.IsZero() && !now.Add(window).Before(c.Expires)
}

// Issuer obtains credentials from the identity provider.
type Issuer interface {
	Issue(ctx context.Context) (Credentials, error)
}

// IssuerFunc adapts a function to Issuer.
type IssuerFunc func(ctx context.Context) (Credentials, error)

func (f IssuerFunc) Issue(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// Static returns an issuer that always hands out c.
func Static(c Credentials) Issuer {
	return IssuerFunc(func(context.Context) (Credentials, error) {
		return c, nil
	})
}

// ErrLoggedOut is returned after Invalidate until the next Refresh.
var ErrLoggedOut = errors.New("session invalidated")

// Session holds the current credentials of a process. It is the only local
// mutable state of the adapter; the store client reads it through Provider.
type Session struct {
	issuer       Issuer
	logger       *slog.Logger
	expiryWindow time.Duration
	now          func() time.Time

	mu        sync.Mutex
	current   *Credentials
	loggedOut bool
	cache     *aws.CredentialsCache
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithExpiryWindow renews credentials this long before they expire.
func WithExpiryWindow(d time.Duration) Option {
	return func(s *Session) {
		s.expiryWindow = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession creates a session on issuer. No credentials are fetched until
// first use.
func NewSession(issuer Issuer, opts ...Option) (*Session, error) {
	if issuer == nil {
		return nil, &simplecms.ConfigurationError{Field: "issuer", Reason: "a credential issuer is required"}
	}
	s := &Session{
		issuer:       issuer,
		logger:       slog.Default(),
		expiryWindow: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "auth")
	s.cache = aws.NewCredentialsCache(aws.CredentialsProviderFunc(s.retrieve), func(o *aws.CredentialsCacheOptions) {
		o.ExpiryWindow = s.expiryWindow
	})
	return s, nil
}

// Provider returns the cached aws.CredentialsProvider for the store client.
func (s *Session) Provider() aws.CredentialsProvider {
	return s.cache
}

// retrieve always issues; caching is left to the aws.CredentialsCache.
func (s *Session) retrieve(ctx context.Context) (aws.Credentials, error) {
	creds, err := s.issue(ctx, false)
	if err != nil {
		return aws.Credentials{}, err
	}
	return aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Source:          "simplecms-session",
		CanExpire:       !creds.Expires.IsZero(),
		Expires:         creds.Expires,
	}, nil
}

func (s *Session) issue(ctx context.Context, force bool) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedOut && !force {
		return Credentials{}, fmt.Errorf("%w: %w", simplecms.ErrAuth, ErrLoggedOut)
	}
	creds, err := s.issuer.Issue(ctx)
	if err != nil {
		s.logger.Warn("credential issue failed", "err", err)
		return Credentials{}, fmt.Errorf("%w: %w", simplecms.ErrAuth, err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("%w: issuer returned empty credentials", simplecms.ErrAuth)
	}
	s.current = &creds
	s.loggedOut = false
	s.logger.Debug("credentials issued", "principal", creds.Principal, "expires", creds.Expires)
	return creds, nil
}

// Token returns the opaque session token, issuing credentials if none are
// held or the held ones are about to expire.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	current, loggedOut := s.current, s.loggedOut
	s.mu.Unlock()

	if loggedOut {
		return "", fmt.Errorf("%w: %w", simplecms.ErrAuth, ErrLoggedOut)
	}
	if current != nil && !current.expired(s.now(), s.expiryWindow) {
		return current.Token, nil
	}
	creds, err := s.issue(ctx, false)
	if err != nil {
		return "", err
	}
	return creds.Token, nil
}

// Principal returns who the current credentials belong to, or "" when none
// are held.
func (s *Session) Principal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Principal
}

// Refresh replaces the held credentials, also after Invalidate. Callers use
// it after a store call failed with ErrAuth.
func (s *Session) Refresh(ctx context.Context) error {
	s.cache.Invalidate()
	if _, err := s.issue(ctx, true); err != nil {
		return err
	}
	s.logger.Info("session refreshed", "principal", s.Principal())
	return nil
}

// Invalidate drops the held credentials. Store calls fail with ErrAuth until
// Refresh is called.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.current = nil
	s.loggedOut = true
	s.mu.Unlock()
	s.cache.Invalidate()
	s.logger.Info("session invalidated")
}
