package rule

import (
	"log/slog"
	"strconv"
	"strings"
)

// Stage names the step of rule evaluation that produced a verdict.
type Stage string

const (
	StageEnable  Stage = "enable"
	StageOrigin  Stage = "origin"
	StageMethod  Stage = "method"
	StageType    Stage = "type"
	StageExclude Stage = "exclude"
	StageProcess Stage = "process"
	StagePrefix  Stage = "prefix"
	StageRegex   Stage = "regex"
)

// Verdict is the outcome of evaluating one rule. When Matched is false,
// Stage is the guard or rewrite step that rejected the URL.
type Verdict struct {
	Stage   Stage
	Matched bool
	URL     string
}

type guard struct {
	stage Stage
	pass  func(r *Rule, req Request) bool
}

// guards run in order before any rewrite. Exclusion is checked after the
// method and type filters.
var guards = []guard{
	{StageEnable, func(r *Rule, _ Request) bool { return r.Enable }},
	{StageOrigin, func(r *Rule, req Request) bool { return r.MatchOrigin(req.URL) }},
	{StageMethod, func(r *Rule, req Request) bool {
		return req.Method == "" || len(r.Methods) == 0 || r.hasMethod(req.Method)
	}},
	{StageType, func(r *Rule, req Request) bool {
		return req.Type == "" || len(r.Types) == 0 || r.hasType(req.Type)
	}},
	{StageExclude, func(r *Rule, req Request) bool { return r.excludeRe == nil || !match(r.excludeRe, req.URL) }},
}

// Evaluate runs the guard chain and, when every guard passes, the rewrite
// selected by the rule's shape.
func (r *Rule) Evaluate(req Request) Verdict {
	for _, g := range guards {
		if !g.pass(r, req) {
			if g.stage != StageEnable && g.stage != StageOrigin {
				slog.Debug("Rule rejected", slog.String("stage", string(g.stage)), slog.Any("rule", r), slog.Any("request", req))
			}
			return Verdict{Stage: g.stage}
		}
	}

	var v Verdict
	switch {
	case r.Process != "":
		v = r.rewriteProcessed(req.URL)
	case !r.HasGroups() || !strings.Contains(r.Target, "$"):
		v = r.rewritePrefix(req.URL)
	default:
		v = r.rewriteRegex(req.URL)
	}
	if v.Matched && v.URL == "" {
		v.Matched = false
	}
	if v.Matched {
		slog.Debug("Rule matched", slog.String("stage", string(v.Stage)), slog.String("from", req.URL), slog.String("to", v.URL))
	}
	return v
}

// rewriteProcessed transforms every captured group before substituting it
// into target. One failed transform fails the whole rule.
func (r *Rule) rewriteProcessed(url string) Verdict {
	m, err := r.originRe.FindStringMatch(url)
	if err != nil || m == nil {
		return Verdict{Stage: StageProcess}
	}
	out := r.Target
	groups := m.Groups()
	for i := 1; i < len(groups); i++ {
		text, err := r.Process.Apply(groups[i].String())
		if err != nil {
			slog.Debug("Failed to process group", slog.String("process", string(r.Process)), slog.String("group", groups[i].String()), slog.Any("error", err))
			return Verdict{Stage: StageProcess}
		}
		out = strings.ReplaceAll(out, "$"+strconv.Itoa(i), text)
	}
	return Verdict{Stage: StageProcess, Matched: true, URL: out}
}

// rewritePrefix swaps a literal origin prefix for target. It is stricter than
// the origin pattern: a URL the pattern matched may still be rejected here.
func (r *Rule) rewritePrefix(url string) Verdict {
	rest, ok := strings.CutPrefix(url, r.Origin)
	if !ok {
		return Verdict{Stage: StagePrefix}
	}
	return Verdict{Stage: StagePrefix, Matched: true, URL: r.Target + rest}
}

// rewriteRegex replaces the first origin match. The target uses JavaScript
// replacement syntax: $N, $&, $`, $' and $$ expand, any other $ is literal.
func (r *Rule) rewriteRegex(url string) Verdict {
	out, err := r.originRe.Replace(url, r.replacement, -1, 1)
	if err != nil {
		slog.Debug("regexp2.Replace", slog.String("regex", r.Origin), slog.Any("error", err))
		return Verdict{Stage: StageRegex}
	}
	return Verdict{Stage: StageRegex, Matched: true, URL: out}
}

// jsReplacement rewrites a JavaScript replacement string for regexp2, which
// also expands $0, ${name}, $+ and $_. Those are escaped to stay literal.
func jsReplacement(target string) string {
	var b strings.Builder
	for i := 0; i < len(target); i++ {
		c := target[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(target) {
			switch next := target[i+1]; {
			case next >= '1' && next <= '9':
				b.WriteByte('$')
				continue
			case next == '&' || next == '`' || next == '\'' || next == '$':
				b.WriteByte('$')
				b.WriteByte(next)
				i++
				continue
			}
		}
		b.WriteString("$$")
	}
	return b.String()
}
