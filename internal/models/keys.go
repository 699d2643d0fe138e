package models

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	courseKeyPrefix  = "course-v1:"
	libraryKeyPrefix = "library-v1:"
	usageKeyPrefix   = "block-v1:"
)

var keyPartPattern = regexp.MustCompile(`^[\w\-~.:]+$`)

// CourseKey identifies a course run.
type CourseKey struct {
	Org    string
	Course string
	Run    string
	// Deprecated marks keys parsed from the slash separated legacy form.
	Deprecated bool
}

// ParseCourseKey parses "course-v1:ORG+COURSE+RUN" or the legacy "ORG/COURSE/RUN".
func ParseCourseKey(raw string) (CourseKey, error) {
	raw = strings.TrimSpace(raw)
	var parts []string
	deprecated := false
	switch {
	case strings.HasPrefix(raw, courseKeyPrefix):
		parts = strings.Split(strings.TrimPrefix(raw, courseKeyPrefix), "+")
	case strings.Count(raw, "/") == 2:
		parts = strings.Split(raw, "/")
		deprecated = true
	default:
		return CourseKey{}, fmt.Errorf("invalid course key %q", raw)
	}
	if len(parts) != 3 || !validKeyParts(parts...) {
		return CourseKey{}, fmt.Errorf("invalid course key %q", raw)
	}
	return CourseKey{Org: parts[0], Course: parts[1], Run: parts[2], Deprecated: deprecated}, nil
}

// String renders the canonical form of the key.
func (k CourseKey) String() string {
	if k.Deprecated {
		return k.Org + "/" + k.Course + "/" + k.Run
	}
	return courseKeyPrefix + k.Org + "+" + k.Course + "+" + k.Run
}

// IsZero reports whether the key is unset.
func (k CourseKey) IsZero() bool {
	return k.Org == "" && k.Course == "" && k.Run == ""
}

// LibraryKey identifies a content library.
type LibraryKey struct {
	Org  string
	Code string
}

// ParseLibraryKey parses "library-v1:ORG+CODE".
func ParseLibraryKey(raw string) (LibraryKey, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, libraryKeyPrefix) {
		return LibraryKey{}, fmt.Errorf("invalid library key %q", raw)
	}
	parts := strings.Split(strings.TrimPrefix(raw, libraryKeyPrefix), "+")
	if len(parts) != 2 || !validKeyParts(parts...) {
		return LibraryKey{}, fmt.Errorf("invalid library key %q", raw)
	}
	return LibraryKey{Org: parts[0], Code: parts[1]}, nil
}

func (k LibraryKey) String() string {
	return libraryKeyPrefix + k.Org + "+" + k.Code
}

// UsageKey identifies a block inside a course, optionally pinned to a branch
// or version of the course structure.
type UsageKey struct {
	Course    CourseKey
	Branch    string
	Version   string
	BlockType string
	BlockID   string
}

// ParseUsageKey parses
// "block-v1:ORG+COURSE+RUN[+branch@B][+version@V]+type@T+block@ID".
func ParseUsageKey(raw string) (UsageKey, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, usageKeyPrefix) {
		return UsageKey{}, fmt.Errorf("invalid usage key %q", raw)
	}
	parts := strings.Split(strings.TrimPrefix(raw, usageKeyPrefix), "+")
	if len(parts) < 5 || !validKeyParts(parts[:3]...) {
		return UsageKey{}, fmt.Errorf("invalid usage key %q", raw)
	}
	key := UsageKey{Course: CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}}
	for _, part := range parts[3:] {
		name, value, ok := strings.Cut(part, "@")
		if !ok || value == "" || !keyPartPattern.MatchString(value) {
			return UsageKey{}, fmt.Errorf("invalid usage key %q", raw)
		}
		switch name {
		case "branch":
			key.Branch = value
		case "version":
			key.Version = value
		case "type":
			key.BlockType = value
		case "block":
			key.BlockID = value
		default:
			return UsageKey{}, fmt.Errorf("invalid usage key %q", raw)
		}
	}
	if key.BlockType == "" || key.BlockID == "" {
		return UsageKey{}, fmt.Errorf("invalid usage key %q", raw)
	}
	return key, nil
}

// ForBranch returns a copy of the key pinned to branch. An empty branch
// strips both the branch and version qualifiers.
func (k UsageKey) ForBranch(branch string) UsageKey {
	k.Branch = branch
	if branch == "" {
		k.Version = ""
	}
	return k
}

func (k UsageKey) String() string {
	var b strings.Builder
	b.WriteString(usageKeyPrefix)
	b.WriteString(k.Course.Org + "+" + k.Course.Course + "+" + k.Course.Run)
	if k.Branch != "" {
		b.WriteString("+branch@" + k.Branch)
	}
	if k.Version != "" {
		b.WriteString("+version@" + k.Version)
	}
	b.WriteString("+type@" + k.BlockType + "+block@" + k.BlockID)
	return b.String()
}

func validKeyParts(parts ...string) bool {
	for _, p := range parts {
		if !keyPartPattern.MatchString(p) {
			return false
		}
	}
	return true
}
