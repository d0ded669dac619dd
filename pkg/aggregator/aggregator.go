// Package aggregator assembles a complete student profile from the profile
// page and the diploma API, serving repeated requests from memory.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/codeGROOVE-dev/platziprofile/pkg/platzi"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profilecache"
)

var tracer = otel.Tracer("github.com/codeGROOVE-dev/platziprofile/pkg/aggregator")

// Upstream is the subset of the Platzi client the aggregator depends on.
type Upstream interface {
	FetchPage(ctx context.Context, username string) ([]byte, error)
	FetchCourses(ctx context.Context, username string) []platzi.RawCourse
}

// Service produces profiles.
type Service struct {
	upstream Upstream
	cache    *profilecache.Cache
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the profile cache. Without it a private cache with the
// default TTL is used.
func WithCache(c *profilecache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a Service backed by upstream.
func New(upstream Upstream, opts ...Option) *Service {
	s := &Service{upstream: upstream, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = profilecache.New(profilecache.WithLogger(s.logger))
	}
	return s
}

// Cache returns the profile cache backing the service.
func (s *Service) Cache() *profilecache.Cache { return s.cache }

// Profile returns the complete profile for a username.
//
// Errors match profile.ErrInvalidInput, profile.ErrProfileNotFound,
// *profile.UpstreamError, or profile.ErrInternal. A context error is
// returned as-is when the caller gives up first.
func (s *Service) Profile(ctx context.Context, rawUsername string) (*profile.Profile, error) {
	ctx, span := tracer.Start(ctx, "aggregator.Profile")
	defer span.End()

	username, ok := platzi.NormalizeUsername(rawUsername)
	if !ok {
		span.SetStatus(codes.Error, "invalid username")
		return nil, fmt.Errorf("%w: username %q", profile.ErrInvalidInput, username)
	}
	span.SetAttributes(attribute.String("platzi.username", username))

	p, err := s.cache.GetOrLoad(ctx, username, func(ctx context.Context) (*profile.Profile, error) {
		return s.load(ctx, username)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return p, nil
}

// load runs the uncached pipeline. It never panics; unexpected failures
// are logged and reported as profile.ErrInternal.
func (s *Service) load(ctx context.Context, username string) (p *profile.Profile, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "panic while building profile",
				"username", username, "panic", r, "stack", string(debug.Stack()))
			p, err = nil, profile.ErrInternal
		}
	}()

	p, err = s.build(ctx, username)
	if err == nil || isExpected(err) {
		return p, err
	}
	s.logger.ErrorContext(ctx, "unexpected error building profile", "username", username, "error", err)
	return nil, profile.ErrInternal
}

func (s *Service) build(ctx context.Context, username string) (*profile.Profile, error) {
	s.logger.InfoContext(ctx, "building profile", "username", username)

	html, err := s.upstream.FetchPage(ctx, username)
	if err != nil {
		return nil, err
	}

	_, span := tracer.Start(ctx, "aggregator.extract")
	student, ok := platzi.ExtractStudentProfile(html)
	span.End()
	if !ok {
		s.logger.InfoContext(ctx, "no profile payload in page", "username", username)
		return nil, &profile.NotFoundError{Username: username, Private: true}
	}

	courses := platzi.NormalizeCourses(s.upstream.FetchCourses(ctx, username))
	p := platzi.BuildProfile(student, courses)

	s.logger.InfoContext(ctx, "profile built", "username", username,
		"courses", len(p.Courses), "completed", p.CompletedCourses())
	return p, nil
}

func isExpected(err error) bool {
	var upErr *profile.UpstreamError
	return errors.Is(err, profile.ErrProfileNotFound) ||
		errors.Is(err, profile.ErrInvalidInput) ||
		errors.As(err, &upErr)
}
