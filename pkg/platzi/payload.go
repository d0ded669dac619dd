package platzi

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/codeGROOVE-dev/platziprofile/pkg/htmlutil"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
)

// studentProfileKey names the object embedded in the profile page stream.
const studentProfileKey = "studentProfile"

// StudentProfile is the profile object embedded in the page. Counters arrive
// as numbers or as display strings depending on the page version.
//
//nolint:govet // fieldalignment: struct ordering for JSON readability
type StudentProfile struct {
	Username         looseString  `json:"username"`
	Name             looseString  `json:"name"`
	Avatar           looseString  `json:"avatar"`
	Badge            looseString  `json:"badge"`
	Bio              looseString  `json:"bio"`
	Country          looseString  `json:"country"`
	Flag             looseString  `json:"flag"`
	Points           looseString  `json:"points"`
	Answers          looseString  `json:"answers"`
	DiscussionsCount looseString  `json:"discussions_count"`
	SocialLinks      []rawSocial  `json:"social_links"`
	IsPublicProfile  looseBoolean `json:"is_public_profile"`
}

type rawSocial struct {
	Type looseString `json:"type"`
	ID   looseString `json:"id"`
}

// UnmarshalJSON skips entries that are not objects.
func (s *rawSocial) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	type plain rawSocial
	return json.Unmarshal(data, (*plain)(s))
}

// looseString accepts a JSON string, number, or boolean as text.
// Null and composite values decode to "".
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	case data[0] == '{' || data[0] == '[' || string(data) == "null":
		*s = ""
	default:
		*s = looseString(data)
	}
	return nil
}

// ptr returns nil for a missing value and the text otherwise.
func (s *looseString) ptr() *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

// looseNumber accepts a JSON number or a numeric string. Anything else is 0.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	text := string(bytes.TrimSpace(data))
	if strings.HasPrefix(text, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		text = strings.TrimSpace(v)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*n = 0
		return nil
	}
	*n = looseNumber(f)
	return nil
}

// int truncates toward zero; values outside the int range become 0.
func (n looseNumber) int() int {
	f := float64(n)
	if f <= math.MinInt || f >= math.MaxInt {
		return 0
	}
	return int(f)
}

// looseBoolean is true only for JSON true or the string "true".
type looseBoolean bool

func (b *looseBoolean) UnmarshalJSON(data []byte) error {
	v := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	*b = looseBoolean(strings.EqualFold(v, "true"))
	return nil
}

// ExtractStudentProfile locates and decodes the student profile embedded in
// a profile page. It reports false when the page carries no usable payload,
// which is how private profiles render.
func ExtractStudentProfile(html []byte) (*StudentProfile, bool) {
	raw, ok := htmlutil.FlightObject(string(html), studentProfileKey)
	if !ok {
		return nil, false
	}
	var sp StudentProfile
	if err := json.Unmarshal(raw, &sp); err != nil {
		return nil, false
	}
	return &sp, true
}

// BuildProfile assembles the public profile from the embedded payload and
// already-normalized courses.
func BuildProfile(sp *StudentProfile, courses []profile.Course) *profile.Profile {
	socials := make([]profile.Social, 0, len(sp.SocialLinks))
	for _, s := range sp.SocialLinks {
		if s.Type == "" && s.ID == "" {
			continue
		}
		socials = append(socials, profile.Social{Type: string(s.Type), ID: string(s.ID)})
	}
	if courses == nil {
		courses = []profile.Course{}
	}

	return &profile.Profile{
		Username:  string(sp.Username),
		Name:      string(sp.Name),
		Avatar:    string(sp.Avatar),
		Badge:     string(sp.Badge),
		Bio:       string(sp.Bio),
		Country:   string(sp.Country),
		Flag:      string(sp.Flag),
		Points:    ParsePoints(string(sp.Points)),
		Answers:   LeadingInt(string(sp.Answers)),
		Questions: LeadingInt(string(sp.DiscussionsCount)),
		Socials:   socials,
		IsPublic:  bool(sp.IsPublicProfile),
		Courses:   courses,
	}
}

// ParsePoints parses a display count such as "12.345" or "1,200".
// Thousands separators and whitespace are dropped before parsing.
func ParsePoints(s string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r == '.' || r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return LeadingInt(cleaned)
}

// LeadingInt parses the base-10 integer prefix of s, ignoring leading
// whitespace. It returns 0 for missing, malformed, negative, or
// out-of-range input.
func LeadingInt(s string) int {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		s = rest
	}
	if strings.HasPrefix(s, "-") {
		return 0
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
