package platzi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/codeGROOVE-dev/platziprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
)

// maxCoursePages bounds the fan-out when the API reports an absurd page count.
const maxCoursePages = 200

// RawCourse is one course record as returned by the diploma API.
//
//nolint:govet // fieldalignment: struct ordering for JSON readability
type RawCourse struct {
	ID         int         `json:"id"`
	Title      string      `json:"title"`
	BadgeURL   string      `json:"badge_url"`
	Slug       string      `json:"slug"`
	Progress   float64     `json:"progress"`
	Deprecated bool        `json:"deprecated"`
	Diploma    *rawDiploma `json:"diploma"`
}

//nolint:govet // fieldalignment: struct ordering for JSON readability
type rawDiploma struct {
	DiplomaURL       string  `json:"diploma_url"`
	DiplomaImage     string  `json:"diploma_image"`
	ApprovedDate     *string `json:"approved_date"`
	TwitterShare     string  `json:"twitter_share"`
	FacebookShare    string  `json:"facebook_share"`
	LinkedInShare    string  `json:"linkedin_share"`
	DownloadURL      *string `json:"download_url"`
	IsPaywallEnabled bool    `json:"is_paywall_enabled"`
}

// UnmarshalJSON decodes a course record leniently: numbers may arrive as
// strings and text fields as numbers. Non-object records are rejected.
func (rc *RawCourse) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return errNotObject
	}
	var rec courseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*rc = RawCourse{
		ID:         rec.ID.int(),
		Title:      string(rec.Title),
		BadgeURL:   string(rec.BadgeURL),
		Slug:       string(rec.Slug),
		Progress:   float64(rec.Progress),
		Deprecated: bool(rec.Deprecated),
	}
	if d := rec.Diploma; d != nil {
		rc.Diploma = &rawDiploma{
			DiplomaURL:       string(d.DiplomaURL),
			DiplomaImage:     string(d.DiplomaImage),
			ApprovedDate:     d.ApprovedDate.ptr(),
			TwitterShare:     string(d.TwitterShare),
			FacebookShare:    string(d.FacebookShare),
			LinkedInShare:    string(d.LinkedInShare),
			DownloadURL:      d.DownloadURL.ptr(),
			IsPaywallEnabled: bool(d.IsPaywallEnabled),
		}
	}
	return nil
}

var errNotObject = errors.New("not a JSON object")

//nolint:govet // fieldalignment: mirrors RawCourse
type courseRecord struct {
	ID         looseNumber    `json:"id"`
	Title      looseString    `json:"title"`
	BadgeURL   looseString    `json:"badge_url"`
	Slug       looseString    `json:"slug"`
	Progress   looseNumber    `json:"progress"`
	Deprecated looseBoolean   `json:"deprecated"`
	Diploma    *diplomaRecord `json:"diploma"`
}

//nolint:govet // fieldalignment: mirrors rawDiploma
type diplomaRecord struct {
	DiplomaURL       looseString  `json:"diploma_url"`
	DiplomaImage     looseString  `json:"diploma_image"`
	ApprovedDate     *looseString `json:"approved_date"`
	TwitterShare     looseString  `json:"twitter_share"`
	FacebookShare    looseString  `json:"facebook_share"`
	LinkedInShare    looseString  `json:"linkedin_share"`
	DownloadURL      *looseString `json:"download_url"`
	IsPaywallEnabled looseBoolean `json:"is_paywall_enabled"`
}

// UnmarshalJSON treats a non-object diploma as an empty one.
func (d *diplomaRecord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	type plain diplomaRecord
	return json.Unmarshal(data, (*plain)(d))
}

// diplomaPage keeps records raw so one malformed record cannot fail its page.
type diplomaPage struct {
	Data struct {
		Courses []json.RawMessage `json:"courses"`
	} `json:"data"`
	Metadata struct {
		Pages looseNumber `json:"pages"`
	} `json:"metadata"`
}

type courseBatch struct {
	courses []RawCourse
	pages   int
}

// CoursesURL returns the diploma API URL for one page of a user's courses.
func CoursesURL(username string, page int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(coursePageSize))
	return apiBaseURL + url.PathEscape(username) + "/?" + q.Encode()
}

// FetchCourses returns every course of a user in page order.
//
// Page 1 is fetched first to learn the page count, then the remaining pages
// are fetched concurrently. Course data is best-effort: a failed first page
// yields no courses and a failed later page contributes none, so this never
// fails the surrounding profile request.
func (c *Client) FetchCourses(ctx context.Context, username string) []RawCourse {
	ctx, span := tracer.Start(ctx, "platzi.FetchCourses",
		trace.WithAttributes(attribute.String("platzi.username", username)))
	defer span.End()

	first, err := c.fetchCoursePage(ctx, username, 1)
	if err != nil {
		c.logger.WarnContext(ctx, "course page failed", "username", username, "page", 1, "error", err)
		span.RecordError(err)
		return nil
	}

	total := max(1, first.pages)
	if total > maxCoursePages {
		c.logger.WarnContext(ctx, "capping course page count", "username", username, "pages", total, "max", maxCoursePages)
		total = maxCoursePages
	}
	span.SetAttributes(attribute.Int("platzi.course_pages", total))

	pages := make([][]RawCourse, total)
	pages[0] = first.courses

	var wg sync.WaitGroup
	for page := 2; page <= total; page++ {
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.ErrorContext(ctx, "course page panicked", "username", username, "page", page, "panic", r)
				}
			}()
			resp, err := c.fetchCoursePage(ctx, username, page)
			if err != nil {
				c.logger.WarnContext(ctx, "course page failed", "username", username, "page", page, "error", err)
				return
			}
			pages[page-1] = resp.courses
		})
	}
	wg.Wait()

	var courses []RawCourse
	for _, p := range pages {
		courses = append(courses, p...)
	}
	c.logger.DebugContext(ctx, "fetched courses", "username", username, "pages", total, "courses", len(courses))
	return courses
}

func (c *Client) fetchCoursePage(ctx context.Context, username string, page int) (*courseBatch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, CoursesURL(username, page), http.NoBody)
	if err != nil {
		return nil, err
	}
	setAPIHeaders(req, username)

	body, err := httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger, c.fetchOptions()...)
	if err != nil {
		return nil, err
	}

	var resp diplomaPage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode course page %d: %w", page, err)
	}

	out := &courseBatch{pages: resp.Metadata.Pages.int(), courses: make([]RawCourse, 0, len(resp.Data.Courses))}
	for i, raw := range resp.Data.Courses {
		var rc RawCourse
		if err := json.Unmarshal(raw, &rc); err != nil {
			c.logger.DebugContext(ctx, "skipping course record", "username", username, "page", page, "index", i, "error", err)
			continue
		}
		out.courses = append(out.courses, rc)
	}
	return out, nil
}

// NormalizeCourse maps a raw course record to the public course shape.
// A course without diploma data gets empty diploma fields and null dates.
func NormalizeCourse(rc RawCourse) profile.Course {
	course := profile.Course{
		ID:         rc.ID,
		Title:      rc.Title,
		Badge:      rc.BadgeURL,
		Slug:       rc.Slug,
		Completed:  rc.Progress,
		Deprecated: rc.Deprecated,
	}
	if d := rc.Diploma; d != nil {
		course.DiplomaURL = d.DiplomaURL
		course.DiplomaImage = d.DiplomaImage
		course.ApprovedDate = d.ApprovedDate
		course.TwitterShare = d.TwitterShare
		course.FacebookShare = d.FacebookShare
		course.LinkedInShare = d.LinkedInShare
		course.DownloadURL = d.DownloadURL
		course.IsPaywallEnabled = d.IsPaywallEnabled
	}
	return course
}

// NormalizeCourses maps raw records in order. The result is never nil.
func NormalizeCourses(raw []RawCourse) []profile.Course {
	courses := make([]profile.Course, 0, len(raw))
	for _, rc := range raw {
		courses = append(courses, NormalizeCourse(rc))
	}
	return courses
}
