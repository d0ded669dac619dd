package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/platziprofile/pkg/platzi"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
)

type fakeUpstream struct {
	pageCalls   atomic.Int32
	courseCalls atomic.Int32
	delay       time.Duration
	page        func(username string) ([]byte, error)
	courses     []platzi.RawCourse
}

func (f *fakeUpstream) FetchPage(_ context.Context, username string) ([]byte, error) {
	f.pageCalls.Add(1)
	time.Sleep(f.delay)
	return f.page(username)
}

func (f *fakeUpstream) FetchCourses(context.Context, string) []platzi.RawCourse {
	f.courseCalls.Add(1)
	return f.courses
}

func page(t *testing.T, payload string) []byte {
	t.Helper()
	quoted, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return []byte(`<script>self.__next_f.push([1,"` + string(quoted[1:len(quoted)-1]) + `"])</script>`)
}

func adaUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	body := page(t, `3:{"studentProfile":{"username":"Ada","name":"Ada Lovelace","points":"12.345",`+
		`"answers":"17","discussions_count":2,"social_links":[{"type":"github","id":"ada"}],"is_public_profile":true}}`)
	return &fakeUpstream{
		page:    func(string) ([]byte, error) { return body, nil },
		courses: []platzi.RawCourse{{ID: 1, Title: "Go", Progress: 100}, {ID: 2, Title: "SQL", Progress: 30}},
	}
}

func TestProfile(t *testing.T) {
	up := adaUpstream(t)
	svc := New(up)

	got, err := svc.Profile(context.Background(), "  Ada ")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}

	want := &profile.Profile{
		Username:  "Ada",
		Name:      "Ada Lovelace",
		Points:    12345,
		Answers:   17,
		Questions: 2,
		Socials:   []profile.Social{{Type: "github", ID: "ada"}},
		IsPublic:  true,
		Courses: []profile.Course{
			{ID: 1, Title: "Go", Completed: 100},
			{ID: 2, Title: "SQL", Completed: 30},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Profile() mismatch (-want +got):\n%s", diff)
	}
}

func TestProfileCached(t *testing.T) {
	up := adaUpstream(t)
	svc := New(up)
	ctx := context.Background()

	first, err := svc.Profile(ctx, "ada")
	if err != nil {
		t.Fatalf("first Profile() error = %v", err)
	}
	second, err := svc.Profile(ctx, "ADA")
	if err != nil {
		t.Fatalf("second Profile() error = %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached profile differs (-first +second):\n%s", diff)
	}
	if got := up.pageCalls.Load(); got != 1 {
		t.Errorf("page fetches = %d, want 1", got)
	}
	if got := up.courseCalls.Load(); got != 1 {
		t.Errorf("course fetches = %d, want 1", got)
	}
}

func TestProfileInvalidUsername(t *testing.T) {
	up := adaUpstream(t)
	svc := New(up)

	for _, name := range []string{"", "a/b", "ada@platzi", strings.Repeat("x", 81), "   "} {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Profile(context.Background(), name); !errors.Is(err, profile.ErrInvalidInput) {
				t.Errorf("Profile(%q) error = %v, want ErrInvalidInput", name, err)
			}
		})
	}
	if got := up.pageCalls.Load(); got != 0 {
		t.Errorf("page fetches = %d, want 0", got)
	}
}

func TestProfileErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		page    func(string) ([]byte, error)
		check   func(error) bool
		courses int32
	}{
		{
			name: "missing user",
			page: func(u string) ([]byte, error) { return nil, &profile.NotFoundError{Username: u} },
			check: func(err error) bool {
				var nf *profile.NotFoundError
				return errors.As(err, &nf) && !nf.Private && nf.Username == "ada"
			},
		},
		{
			name: "private profile",
			page: func(string) ([]byte, error) { return []byte("<html>private</html>"), nil },
			check: func(err error) bool {
				var nf *profile.NotFoundError
				return errors.As(err, &nf) && nf.Private
			},
		},
		{
			name: "upstream status",
			page: func(string) ([]byte, error) { return nil, &profile.UpstreamError{StatusCode: 503} },
			check: func(err error) bool {
				var upErr *profile.UpstreamError
				return errors.As(err, &upErr) && upErr.StatusCode == 503
			},
		},
		{
			name:  "unexpected error",
			page:  func(string) ([]byte, error) { return nil, boom },
			check: func(err error) bool { return errors.Is(err, profile.ErrInternal) && !errors.Is(err, boom) },
		},
		{
			name:  "panic",
			page:  func(string) ([]byte, error) { panic("kaboom") },
			check: func(err error) bool { return errors.Is(err, profile.ErrInternal) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{page: tt.page}
			svc := New(up)

			_, err := svc.Profile(context.Background(), "ada")
			if !tt.check(err) {
				t.Errorf("Profile() error = %v", err)
			}
			if got := up.courseCalls.Load(); got != tt.courses {
				t.Errorf("course fetches = %d, want %d", got, tt.courses)
			}
			if svc.Cache().Len() != 0 {
				t.Error("failed result was cached")
			}
		})
	}
}

func TestProfileConcurrentMisses(t *testing.T) {
	up := adaUpstream(t)
	up.delay = 50 * time.Millisecond
	svc := New(up)

	var wg sync.WaitGroup
	results := make([]*profile.Profile, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Go(func() {
			results[i], errs[i] = svc.Profile(context.Background(), "ada")
		})
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d error = %v", i, err)
		}
	}
	if diff := cmp.Diff(results[0], results[1]); diff != "" {
		t.Errorf("callers got different profiles (-0 +1):\n%s", diff)
	}
	if got := up.pageCalls.Load(); got != 1 {
		t.Errorf("page fetches = %d, want 1", got)
	}
}
