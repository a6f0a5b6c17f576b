package dnr

import (
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/urlredirector/urlredirector/internal/rule"
)

var reference = regexp.MustCompile(`\$(\d+)`)

// Convert translates one rule into a record without id and priority. It is
// conservative: a rule whose semantics cannot be kept is declined.
func Convert(r *rule.Rule) (Rule, Reason, bool) {
	switch {
	case r == nil || !r.Enable:
		return Rule{}, ReasonDisabled, false
	case r.Origin == "":
		return Rule{}, ReasonMissingOrigin, false
	case r.Target == "":
		return Rule{}, ReasonMissingTarget, false
	case r.State() == rule.StateInvalidOrigin:
		return Rule{}, ReasonInvalidOrigin, false
	case r.Process != "":
		return Rule{}, ReasonProcess, false
	case r.Exclude != "":
		return Rule{}, ReasonExclude, false
	}

	hasRef := strings.Contains(r.Target, "$")
	var cond Condition
	var sub string
	if !hasCaptureGroup(r.Origin) || !hasRef {
		if hasRef {
			return Rule{}, ReasonReferenceNoGroup, false
		}
		// The engine appends the tail after a literal prefix. A single
		// substitution has to capture that tail itself.
		if !r.MatchOrigin(r.Origin) {
			return Rule{}, ReasonPrefixMismatch, false
		}
		cond.RegexFilter = "^(" + regexp.QuoteMeta(r.Origin) + ")(.*)"
		sub = escapeSubstitution(r.Target) + `\2`
	} else {
		if _, err := regexp.Compile(r.Origin); err != nil {
			return Rule{}, ReasonUnsupportedRegex, false
		}
		cond.RegexFilter = r.Origin
		sub = reference.ReplaceAllString(escapeSubstitution(r.Target), `\$1`)
	}

	// Both forms carry the filters, the engine checks them for every rule.
	if len(r.Types) > 0 {
		cond.ResourceTypes = slices.Clone(r.Types)
	} else {
		cond.ResourceTypes = []string{ResourceMainFrame}
	}
	for _, m := range r.Methods {
		cond.RequestMethods = append(cond.RequestMethods, strings.ToLower(m))
	}

	return Rule{
		Action:    Action{Type: ActionRedirect, Redirect: &Redirect{RegexSubstitution: sub}},
		Condition: cond,
	}, "", true
}

// Compile converts every rule of s in resolution order. Custom rules outrank
// online rules; ids ascend from 1 in the same order.
func Compile(s *rule.Store) ([]Rule, Stats) {
	stats := Stats{Declined: map[Reason]int{}}
	out := []Rule{}
	if s == nil || !s.Enable {
		return out, stats
	}

	add := func(src rule.Source, r *rule.Rule) {
		rec, reason, ok := Convert(r)
		if !ok {
			stats.Declined[reason]++
			slog.Debug("Rule not compiled", slog.String("reason", string(reason)), slog.Any("source", src), slog.Any("rule", r))
			return
		}
		rec.ID = len(out) + 1
		if src.Custom() {
			rec.Priority = PriorityCustom
			stats.Custom++
		} else {
			rec.Priority = PriorityOnline
			stats.Online++
		}
		out = append(out, rec)
	}

	for i, r := range s.CustomRules {
		add(rule.Source{Group: -1, Rule: i}, r)
	}
	for gi, g := range s.OnlineURLs {
		if !g.Enable {
			continue
		}
		for i, r := range g.Rules {
			add(rule.Source{Group: gi, Rule: i, URL: g.URL}, r)
		}
	}
	return out, stats
}

// hasCaptureGroup reports whether origin has a parenthesized group.
func hasCaptureGroup(origin string) bool {
	i := strings.IndexByte(origin, '(')
	return i >= 0 && strings.IndexByte(origin[i+1:], ')') >= 0
}

// escapeSubstitution keeps literal backslashes of a target literal in a
// regex substitution.
func escapeSubstitution(target string) string {
	return strings.ReplaceAll(target, `\`, `\\`)
}
