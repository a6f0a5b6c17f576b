package rule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"
)

// State tells whether a rule is able to match at all. Rules decoded from a
// snapshot with missing or broken patterns stay in the store but are inert.
type State uint8

const (
	StateReady State = iota
	StateMissingOrigin
	StateMissingTarget
	StateInvalidOrigin
	StateInvalidExclude
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateMissingOrigin:
		return "missing-origin"
	case StateMissingTarget:
		return "missing-target"
	case StateInvalidOrigin:
		return "invalid-origin"
	case StateInvalidExclude:
		return "invalid-exclude"
	default:
		return "unknown"
	}
}

// Request is the context a URL is resolved in. Empty Method and Type mean
// the caller did not supply them.
type Request struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Type   string `json:"type,omitempty"`
}

func (r Request) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", r.URL),
		slog.String("method", r.Method),
		slog.String("type", r.Type),
	)
}

// Rule is a single origin -> target rewrite with optional filters.
type Rule struct {
	Description string   `json:"description,omitempty"`
	Origin      string   `json:"origin"`
	Exclude     string   `json:"exclude,omitempty"`
	Methods     []string `json:"methods,omitempty"`
	Types       []string `json:"types,omitempty"`
	Target      string   `json:"target"`
	Example     string   `json:"example,omitempty"`
	Enable      bool     `json:"enable"`
	Process     Process  `json:"process,omitempty"`

	state     State
	err       error
	originRe    *regexp2.Regexp
	excludeRe   *regexp2.Regexp
	replacement string
}

// New returns a compiled copy of r.
func New(r Rule) *Rule {
	r.compile()
	return &r
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	type plain Rule
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Rule(p)
	r.compile()
	return nil
}

// compile derives the cached patterns. It never fails: problems are kept in
// state and err so the rule fails closed.
func (r *Rule) compile() {
	r.state, r.err = StateReady, nil
	r.originRe, r.excludeRe = nil, nil

	if r.Origin == "" {
		r.state = StateMissingOrigin
		return
	}
	re, err := compilePattern(r.Origin)
	if err != nil {
		r.state, r.err = StateInvalidOrigin, fmt.Errorf("origin %q: %w", r.Origin, err)
		slog.Warn("Invalid rule origin", slog.String("origin", r.Origin), slog.Any("error", err))
		return
	}
	r.originRe = re
	r.replacement = jsReplacement(r.Target)

	if r.Exclude != "" {
		re, err := compilePattern(r.Exclude)
		if err != nil {
			r.originRe = nil
			r.state, r.err = StateInvalidExclude, fmt.Errorf("exclude %q: %w", r.Exclude, err)
			slog.Warn("Invalid rule exclude", slog.String("exclude", r.Exclude), slog.Any("error", err))
			return
		}
		r.excludeRe = re
	}

	if r.Target == "" {
		r.originRe, r.excludeRe = nil, nil
		r.state = StateMissingTarget
	}
}

func compilePattern(pattern string) (*regexp2.Regexp, error) {
	return regexp2.Compile(pattern, regexp2.ECMAScript)
}

// State reports whether the rule can match.
func (r *Rule) State() State { return r.state }

// Err returns the pattern error of an inert rule, if any.
func (r *Rule) Err() error { return r.err }

// Resolve rewrites req.URL when the rule applies.
func (r *Rule) Resolve(req Request) (string, bool) {
	v := r.Evaluate(req)
	return v.URL, v.Matched
}

// MatchOrigin reports whether the origin pattern matches s. Inert rules match
// nothing.
func (r *Rule) MatchOrigin(s string) bool {
	return r.originRe != nil && match(r.originRe, s)
}

// HasGroups reports whether origin opens a group, which is what selects regex
// replacement over prefix replacement.
func (r *Rule) HasGroups() bool {
	return strings.Contains(r.Origin, "(")
}

func (r *Rule) hasMethod(method string) bool {
	return slices.Contains(r.Methods, method)
}

func (r *Rule) hasType(typ string) bool {
	return slices.Contains(r.Types, typ)
}

func (r *Rule) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("origin", r.Origin),
		slog.String("target", r.Target),
		slog.Bool("enable", r.Enable),
	}
	if r.Exclude != "" {
		attrs = append(attrs, slog.String("exclude", r.Exclude))
	}
	if r.Process != "" {
		attrs = append(attrs, slog.String("process", string(r.Process)))
	}
	if r.state != StateReady {
		attrs = append(attrs, slog.String("state", r.state.String()))
	}
	return slog.GroupValue(attrs...)
}

// match runs re against s. Errors, including match timeouts, count as no
// match.
func match(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	if err != nil {
		slog.Debug("regexp2.MatchString", slog.String("regex", re.String()), slog.Any("error", err))
		return false
	}
	return ok
}
