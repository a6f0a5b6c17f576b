// Package feed downloads remote rule feeds and turns them into online rule
// groups.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/urlredirector/urlredirector/internal/rule"
)

// LegacyVersion is the first feed version in the current format.
const LegacyVersion = "1.0"

var (
	errInvalidJSON = errors.New("invalid JSON")
	errNotObject   = errors.New("document is not an object")
)

// ParseError means a feed was fetched but its body is not a usable document.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Normalize builds an online group from a fetched feed document. Legacy
// documents map origin patterns to {dstURL, enable, kind} entries; current
// documents are already shaped as a group.
func Normalize(body []byte, url string, now time.Time) (*rule.OnlineGroup, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ParseError{URL: url, Err: errInvalidJSON}
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, &ParseError{URL: url, Err: errNotObject}
	}

	var g *rule.OnlineGroup
	if rules := doc.Get("rules"); IsLegacy(doc.Get("version")) && (rules.IsObject() || !rules.Exists()) {
		g = normalizeLegacy(doc)
	} else {
		g = rule.NewOnlineGroup(url)
		if err := json.Unmarshal(body, g); err != nil {
			return nil, &ParseError{URL: url, Err: err}
		}
	}

	g.URL = url
	g.Enable = true
	g.DownloadAt = rule.Timestamp{Time: now}
	return g, nil
}

// IsLegacy reports whether a feed version predates the current format. A
// missing version is legacy. Strings compare lexically and numbers
// numerically against 1.0.
func IsLegacy(version gjson.Result) bool {
	switch version.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.Number:
		return version.Num < 1
	case gjson.String:
		return version.Str == "" || version.Str < LegacyVersion
	default:
		return false
	}
}

func normalizeLegacy(doc gjson.Result) *rule.OnlineGroup {
	g := rule.NewOnlineGroup("")
	g.Description = doc.Get("description").String()
	if auto := doc.Get("auto"); auto.Exists() {
		g.Auto = auto.Bool()
	}
	doc.Get("rules").ForEach(func(key, value gjson.Result) bool {
		enable := true
		if e := value.Get("enable"); e.Exists() {
			enable = e.Bool()
		}
		g.Rules = append(g.Rules, rule.New(rule.Rule{
			Origin: key.String(),
			Target: value.Get("dstURL").String(),
			Enable: enable,
		}))
		return true
	})
	return g
}
