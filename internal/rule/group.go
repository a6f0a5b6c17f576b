package rule

import (
	"encoding/json"
	"log/slog"
	"reflect"
	"time"

	"github.com/tidwall/gjson"
)

// Rules is an ordered list of rules where the first match wins.
type Rules []*Rule

// Evaluate returns the verdict of the first matching rule and its index, or
// -1 when none matched.
func (rs Rules) Evaluate(req Request) (Verdict, int) {
	for i, r := range rs {
		if r == nil {
			continue
		}
		if v := r.Evaluate(req); v.Matched {
			return v, i
		}
	}
	return Verdict{}, -1
}

func (rs Rules) Resolve(req Request) (string, bool) {
	v, _ := rs.Evaluate(req)
	return v.URL, v.Matched
}

// OnlineGroup is a rule set fetched from a remote feed.
type OnlineGroup struct {
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	Enable      bool      `json:"enable"`
	Auto        bool      `json:"auto"`
	Rules       Rules     `json:"rules"`
	DownloadAt  Timestamp `json:"downloadAt"`
	UpdatedAt   Timestamp `json:"updatedAt"`
}

// NewOnlineGroup returns a group with the persisted defaults: disabled and
// subject to scheduled refresh.
func NewOnlineGroup(url string) *OnlineGroup {
	return &OnlineGroup{URL: url, Auto: true, Rules: Rules{}}
}

func (g *OnlineGroup) UnmarshalJSON(b []byte) error {
	type plain OnlineGroup
	p := plain(*NewOnlineGroup(""))
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Rules == nil {
		p.Rules = Rules{}
	}
	*g = OnlineGroup(p)
	return nil
}

// Evaluate dispatches to the member rules in order. Disabled groups never
// match.
func (g *OnlineGroup) Evaluate(req Request) (Verdict, int) {
	if g == nil || !g.Enable || len(g.Rules) == 0 {
		return Verdict{}, -1
	}
	return g.Rules.Evaluate(req)
}

func (g *OnlineGroup) Resolve(req Request) (string, bool) {
	v, _ := g.Evaluate(req)
	return v.URL, v.Matched
}

// Refreshable reports whether the scheduler should download this group.
func (g *OnlineGroup) Refreshable() bool {
	return g.Auto && g.Enable && g.URL != ""
}

func (g *OnlineGroup) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", g.URL),
		slog.Bool("enable", g.Enable),
		slog.Bool("auto", g.Auto),
		slog.Int("rules", len(g.Rules)),
	)
}

// Timestamp is a point in time persisted as RFC 3339. Decoding also accepts
// epoch milliseconds; any other value decodes to the zero time.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.Time = time.Time{}
	v := gjson.ParseBytes(b)
	switch v.Type {
	case gjson.String:
		if parsed, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
			t.Time = parsed
		}
	case gjson.Number:
		t.Time = time.UnixMilli(v.Int())
	}
	return nil
}

var secondsType = reflect.TypeOf(Seconds(0))

// Seconds is a duration persisted as a number of seconds. Numeric strings
// are accepted when decoding.
type Seconds int64

func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

func (s *Seconds) UnmarshalJSON(b []byte) error {
	v := gjson.ParseBytes(b)
	switch v.Type {
	case gjson.Number:
		*s = Seconds(v.Int())
	case gjson.String:
		n := gjson.Parse(v.Str)
		if n.Type != gjson.Number {
			return &json.UnmarshalTypeError{Value: "string " + v.Str, Type: secondsType}
		}
		*s = Seconds(n.Int())
	case gjson.Null:
	default:
		return &json.UnmarshalTypeError{Value: v.Type.String(), Type: secondsType}
	}
	return nil
}
