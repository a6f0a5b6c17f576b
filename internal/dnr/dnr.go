// Package dnr compiles rule stores into declarativeNetRequest dynamic rules
// that a browser evaluates without calling back into the engine.
package dnr

import "log/slog"

const (
	ActionRedirect = "redirect"

	// ResourceMainFrame is the only resource type a record is restricted to
	// when its rule names none.
	ResourceMainFrame = "main_frame"

	PriorityCustom = 200
	PriorityOnline = 100
)

type Rule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	Action    Action    `json:"action"`
	Condition Condition `json:"condition"`
}

type Action struct {
	Type     string    `json:"type"`
	Redirect *Redirect `json:"redirect,omitempty"`
}

type Redirect struct {
	RegexSubstitution string `json:"regexSubstitution,omitempty"`
}

type Condition struct {
	RegexFilter    string   `json:"regexFilter,omitempty"`
	ResourceTypes  []string `json:"resourceTypes,omitempty"`
	RequestMethods []string `json:"requestMethods,omitempty"`
}

func (r Rule) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("id", r.ID),
		slog.Int("priority", r.Priority),
		slog.String("regex_filter", r.Condition.RegexFilter),
	}
	if r.Action.Redirect != nil {
		attrs = append(attrs, slog.String("regex_substitution", r.Action.Redirect.RegexSubstitution))
	}
	return slog.GroupValue(attrs...)
}

// Update is an atomic change of the installed rule set.
type Update struct {
	RemoveRuleIDs []int  `json:"removeRuleIds,omitempty"`
	AddRules      []Rule `json:"addRules,omitempty"`
}

// Reason tells why a rule was not compiled.
type Reason string

const (
	ReasonDisabled         Reason = "disabled"
	ReasonMissingOrigin    Reason = "missing-origin"
	ReasonMissingTarget    Reason = "missing-target"
	ReasonInvalidOrigin    Reason = "invalid-origin"
	ReasonProcess          Reason = "process"
	ReasonExclude          Reason = "exclude"
	ReasonReferenceNoGroup Reason = "reference-without-group"
	ReasonUnsupportedRegex Reason = "unsupported-regex"
	ReasonPrefixMismatch   Reason = "prefix-mismatch"
)

// Stats counts the outcome of a compilation.
type Stats struct {
	Custom   int            `json:"custom"`
	Online   int            `json:"online"`
	Declined map[Reason]int `json:"declined"`
}

func (s Stats) Total() int { return s.Custom + s.Online }

func (s Stats) LogValue() slog.Value {
	declined := 0
	for _, n := range s.Declined {
		declined += n
	}
	return slog.GroupValue(
		slog.Int("custom", s.Custom),
		slog.Int("online", s.Online),
		slog.Int("declined", declined),
	)
}
