// Package profile defines the public student profile returned to clients.
package profile

import (
	"errors"
	"fmt"
)

// Common errors returned by the aggregation pipeline.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInternal        = errors.New("internal error")
)

// UpstreamError reports a failed call to the upstream profile page.
// StatusCode is zero when the request never produced a response.
type UpstreamError struct {
	Err        error
	StatusCode int
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream unavailable: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NotFoundError reports a profile that cannot be shown. Private marks the
// case where the page exists but carries no profile payload, which is also
// what a changed page layout looks like.
type NotFoundError struct {
	Username string
	Private  bool
}

func (e *NotFoundError) Error() string {
	if e.Private {
		return fmt.Sprintf("profile %q is private or not found", e.Username)
	}
	return fmt.Sprintf("user %q does not exist", e.Username)
}

// Is reports whether target is ErrProfileNotFound.
func (*NotFoundError) Is(target error) bool { return target == ErrProfileNotFound }

// Social is a link the student published on their profile.
type Social struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Course is one completed or in-progress course with its diploma data.
//
//nolint:govet // fieldalignment: JSON field order mirrors the client schema
type Course struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Badge            string  `json:"badge"`
	Slug             string  `json:"slug"`
	Completed        float64 `json:"completed"` // progress percentage, 0-100
	Deprecated       bool    `json:"deprecated"`
	DiplomaURL       string  `json:"diploma_url"`
	DiplomaImage     string  `json:"diploma_image"`
	ApprovedDate     *string `json:"approved_date"`
	TwitterShare     string  `json:"twitter_share"`
	FacebookShare    string  `json:"facebook_share"`
	LinkedInShare    string  `json:"linkedin_share"`
	DownloadURL      *string `json:"download_url"`
	IsPaywallEnabled bool    `json:"is_paywall_enabled"`
}

// Profile is the normalized student profile. Values are shared between
// concurrent readers once cached and must not be modified.
//
//nolint:govet // fieldalignment: JSON field order mirrors the client schema
type Profile struct {
	Username  string   `json:"username"`
	Name      string   `json:"name"`
	Avatar    string   `json:"avatar"`
	Badge     string   `json:"badge"`
	Bio       string   `json:"bio"`
	Country   string   `json:"country"`
	Flag      string   `json:"flag"`
	Points    int      `json:"points"`
	Answers   int      `json:"answers"`
	Questions int      `json:"questions"`
	Socials   []Social `json:"socials"`
	IsPublic  bool     `json:"is_public"`
	Courses   []Course `json:"courses"`
}

// CompletedCourses returns how many courses have reached 100% progress.
func (p *Profile) CompletedCourses() int {
	n := 0
	for i := range p.Courses {
		if p.Courses[i].Completed >= 100 {
			n++
		}
	}
	return n
}
