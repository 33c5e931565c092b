// Package pattern implements the process pattern matcher: a pure function
// deciding whether a single process description matches a user-supplied
// pattern, parameterised over where to look (executable path, command
// line, process name) and how (literal substring vs. regular expression).
package pattern

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/watchdogd/watchdogd/internal/procsrc"
)

// Location names the part of a process description a Pattern is matched
// against.
type Location int

const (
	ExePath Location = iota
	Cmdline
	Name
)

// String renders a Location the way it appears in configuration, for error
// messages and logging.
func (l Location) String() string {
	switch l {
	case ExePath:
		return "exe_path"
	case Cmdline:
		return "cmdline"
	case Name:
		return "name"
	default:
		return fmt.Sprintf("location(%d)", int(l))
	}
}

// Needle is the thing being searched for: either a literal byte string or a
// compiled regular expression. A Pattern holds exactly one Needle, of
// either kind.
type Needle interface {
	// find reports whether the needle is present in the given haystack,
	// which is supplied both as raw bytes and — when valid — as a string.
	find(raw []byte, isValidUTF8 bool) bool
	fmt.Stringer
}

// Literal is a byte-wise substring needle.
type Literal string

func (l Literal) find(raw []byte, _ bool) bool {
	return bytes.Contains(raw, []byte(l))
}

func (l Literal) String() string { return string(l) }

// Regexp is a compiled regular expression needle. Construct with
// NewRegexp; an invalid pattern is a configuration-time error, never
// surfaced from Matches.
type Regexp struct {
	re *regexp.Regexp
}

// NewRegexp compiles expr into a Regexp needle. A compile failure is
// reported here, at configuration time; Matches itself never fails.
func NewRegexp(expr string) (Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Regexp{}, fmt.Errorf("pattern: invalid regular expression %q: %w", expr, err)
	}
	return Regexp{re: re}, nil
}

func (r Regexp) find(raw []byte, isValidUTF8 bool) bool {
	if !isValidUTF8 {
		return false
	}
	return r.re.Match(raw)
}

func (r Regexp) String() string { return r.re.String() }

// Pattern is an immutable {location, needle} pair. Construct with New;
// ownership belongs to the profile that declared it.
type Pattern struct {
	Location Location
	Needle   Needle
}

// New constructs a Pattern. It performs no validation beyond what the
// Needle implementation already guarantees (NewRegexp having been called,
// for instance); New itself cannot fail.
func New(loc Location, needle Needle) Pattern {
	return Pattern{Location: loc, Needle: needle}
}

// Matches reports whether p matches the given process:
//
//   - Name: needle searched against the process name.
//   - Cmdline: argv joined with single spaces, recomputed on every call.
//   - ExePath: false when the process has no resolved executable path;
//     otherwise the literal rule is applied to the path's raw bytes and the
//     regex rule to its UTF-8 form (false for non-UTF-8 paths).
//
// Matches is pure: it allocates no state that outlives the call.
func Matches(p procsrc.Process, pat Pattern) bool {
	switch pat.Location {
	case Name:
		raw := []byte(p.Name)
		return pat.Needle.find(raw, utf8.Valid(raw))
	case Cmdline:
		haystack := strings.Join(p.Cmdline, " ")
		raw := []byte(haystack)
		return pat.Needle.find(raw, utf8.Valid(raw))
	case ExePath:
		if p.Exe == "" {
			return false
		}
		raw := []byte(p.Exe)
		return pat.Needle.find(raw, utf8.ValidString(p.Exe))
	default:
		return false
	}
}
