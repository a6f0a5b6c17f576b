package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// MaxIterations bounds fixed-point resolution. Reaching it means the rules
// form a cycle.
const MaxIterations = 1000

// DefaultUpdateInterval is the refresh interval of a fresh store.
const DefaultUpdateInterval Seconds = 900

// Store is the aggregate of all rule groups and the global switches. It is
// value-like: changes are made on a copy and the copy replaces the original.
type Store struct {
	Enable         bool           `json:"enable"`
	Sync           bool           `json:"sync"`
	UpdateInterval Seconds        `json:"updateInterval"`
	UpdatedAt      Timestamp      `json:"updatedAt"`
	OnlineURLs     []*OnlineGroup `json:"onlineURLs"`
	CustomRules    Rules          `json:"customRules"`
}

// NewStore returns a store with the persisted defaults.
func NewStore() *Store {
	return &Store{
		UpdateInterval: DefaultUpdateInterval,
		OnlineURLs:     []*OnlineGroup{},
		CustomRules:    Rules{},
	}
}

// DecodeStore builds a store from a serialized snapshot. Unknown fields are
// ignored and missing fields keep their defaults.
func DecodeStore(b []byte) (*Store, error) {
	s := NewStore()
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	s.OnlineURLs = slices.DeleteFunc(s.OnlineURLs, func(g *OnlineGroup) bool { return g == nil })
	s.CustomRules = slices.DeleteFunc(s.CustomRules, func(r *Rule) bool { return r == nil })
	if s.OnlineURLs == nil {
		s.OnlineURLs = []*OnlineGroup{}
	}
	if s.CustomRules == nil {
		s.CustomRules = Rules{}
	}
	return s, nil
}

// Encode serializes the store as a snapshot.
func (s *Store) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode store: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Clone returns a copy that can be changed without affecting s. Rules are
// shared since they are never changed in place.
func (s *Store) Clone() *Store {
	c := *s
	c.CustomRules = slices.Clone(s.CustomRules)
	c.OnlineURLs = make([]*OnlineGroup, len(s.OnlineURLs))
	for i, g := range s.OnlineURLs {
		cg := *g
		cg.Rules = slices.Clone(g.Rules)
		c.OnlineURLs[i] = &cg
	}
	return &c
}

// WithOnlineGroup returns a copy of s where every group fetched from url is
// replaced by g.
func (s *Store) WithOnlineGroup(url string, g *OnlineGroup) *Store {
	c := s.Clone()
	for i, old := range c.OnlineURLs {
		if old.URL == url {
			cg := *g
			c.OnlineURLs[i] = &cg
		}
	}
	return c
}

// Source tells which group produced a rewrite.
type Source struct {
	// Group is -1 for custom rules, otherwise the index into OnlineURLs.
	Group int    `json:"group"`
	Rule  int    `json:"rule"`
	URL   string `json:"url,omitempty"`
}

func (s Source) Custom() bool { return s.Group < 0 }

func (s Source) LogValue() slog.Value {
	if s.Custom() {
		return slog.GroupValue(slog.String("group", "custom"), slog.Int("rule", s.Rule))
	}
	return slog.GroupValue(slog.Int("group", s.Group), slog.String("url", s.URL), slog.Int("rule", s.Rule))
}

// Step is one rewrite of a resolution.
type Step struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Stage  Stage  `json:"stage"`
	Source Source `json:"source"`
}

// Trace records a full resolution.
type Trace struct {
	Request Request `json:"request"`
	Steps   []Step  `json:"steps"`
	// Cycle is set when resolution gave up at MaxIterations.
	Cycle   bool   `json:"cycle"`
	URL     string `json:"url"`
	Matched bool   `json:"matched"`
}

// Resolve rewrites req.URL until no rule applies. It returns false when the
// store is disabled, nothing matched, or the rules loop.
func (s *Store) Resolve(req Request) (string, bool) {
	t := s.resolve(req, false)
	return t.URL, t.Matched
}

// Trace resolves like Resolve and keeps every step.
func (s *Store) Trace(req Request) Trace {
	return s.resolve(req, true)
}

func (s *Store) resolve(req Request, keep bool) Trace {
	t := Trace{Request: req}
	if s == nil || !s.Enable {
		return t
	}

	url := req.URL
	rewrites := 0
	for i := 0; i < MaxIterations; i++ {
		step := req
		step.URL = url
		v, src, ok := s.step(step)
		if !ok {
			if rewrites > 0 {
				t.URL, t.Matched = url, true
			}
			return t
		}
		if keep {
			t.Steps = append(t.Steps, Step{From: url, To: v.URL, Stage: v.Stage, Source: src})
		}
		url = v.URL
		rewrites++
	}

	slog.Warn("Redirect loop detected", slog.String("url", req.URL), slog.Int("iterations", MaxIterations))
	t.Cycle = true
	return t
}

// step applies custom rules first and online groups after, stopping at the
// first match.
func (s *Store) step(req Request) (Verdict, Source, bool) {
	if v, i := s.CustomRules.Evaluate(req); v.Matched {
		return v, Source{Group: -1, Rule: i}, true
	}
	for gi, g := range s.OnlineURLs {
		if v, i := g.Evaluate(req); v.Matched {
			return v, Source{Group: gi, Rule: i, URL: g.URL}, true
		}
	}
	return Verdict{}, Source{}, false
}

// Rules calls fn for every rule in resolution order.
func (s *Store) Rules(fn func(src Source, r *Rule)) {
	for i, r := range s.CustomRules {
		fn(Source{Group: -1, Rule: i}, r)
	}
	for gi, g := range s.OnlineURLs {
		for i, r := range g.Rules {
			fn(Source{Group: gi, Rule: i, URL: g.URL}, r)
		}
	}
}

// Example is the result of running a rule against its own example URL.
type Example struct {
	Source  Source
	Rule    *Rule
	URL     string
	Result  string
	Matched bool
}

// Check runs every rule that carries an example through that rule alone.
func (s *Store) Check() []Example {
	var out []Example
	s.Rules(func(src Source, r *Rule) {
		if r == nil || r.Example == "" {
			return
		}
		v := r.Evaluate(Request{URL: r.Example})
		out = append(out, Example{Source: src, Rule: r, URL: r.Example, Result: v.URL, Matched: v.Matched})
	})
	return out
}

// Touch stamps the store as updated at now.
func (s *Store) Touch(now time.Time) {
	s.UpdatedAt = Timestamp{Time: now}
}

func (s *Store) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enable", s.Enable),
		slog.Bool("sync", s.Sync),
		slog.Int64("update_interval", int64(s.UpdateInterval)),
		slog.Int("custom_rules", len(s.CustomRules)),
		slog.Int("online_urls", len(s.OnlineURLs)),
	)
}
