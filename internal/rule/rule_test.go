package rule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleResolve(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		req    Request
		want   string
		wantOK bool
	}{
		{
			name:   "regex replacement",
			rule:   Rule{Origin: `^http://a\.test/(.*)$`, Target: "http://b.test/$1", Enable: true},
			req:    Request{URL: "http://a.test/x"},
			want:   "http://b.test/x",
			wantOK: true,
		},
		{
			name:   "prefix replacement",
			rule:   Rule{Origin: "http://old/", Target: "http://new/", Enable: true},
			req:    Request{URL: "http://old/path?q=1"},
			want:   "http://new/path?q=1",
			wantOK: true,
		},
		{
			name:   "prefix replacement when target has no reference",
			rule:   Rule{Origin: `http://(old)/`, Target: "http://new/", Enable: true},
			req:    Request{URL: "http://old/a"},
			wantOK: false,
		},
		{
			name:   "prefix check stricter than pattern",
			rule:   Rule{Origin: "old", Target: "http://new/", Enable: true},
			req:    Request{URL: "http://old/path"},
			wantOK: false,
		},
		{
			name:   "regex replaces first match only",
			rule:   Rule{Origin: `(a)`, Target: "[$1]", Enable: true},
			req:    Request{URL: "http://a.a/"},
			want:   "http://[a].a/",
			wantOK: true,
		},
		{
			name:   "disabled",
			rule:   Rule{Origin: "http://old/", Target: "http://new/"},
			req:    Request{URL: "http://old/path"},
			wantOK: false,
		},
		{
			name:   "origin does not match",
			rule:   Rule{Origin: "^https://old/", Target: "https://new/", Enable: true},
			req:    Request{URL: "http://old/path"},
			wantOK: false,
		},
		{
			name:   "exclude vetoes",
			rule:   Rule{Origin: `^http://a/(.*)`, Exclude: `keep`, Target: "http://b/$1", Enable: true},
			req:    Request{URL: "http://a/keep"},
			wantOK: false,
		},
		{
			name:   "exclude does not match",
			rule:   Rule{Origin: `^http://a/(.*)`, Exclude: `keep`, Target: "http://b/$1", Enable: true},
			req:    Request{URL: "http://a/other"},
			want:   "http://b/other",
			wantOK: true,
		},
		{
			name:   "empty rewrite is no match",
			rule:   Rule{Origin: `^http://a/(.*)$`, Target: "$1", Enable: true},
			req:    Request{URL: "http://a/"},
			wantOK: false,
		},
		{
			name:   "invalid origin fails closed",
			rule:   Rule{Origin: `http://(a`, Target: "http://b/", Enable: true},
			req:    Request{URL: "http://(a"},
			wantOK: false,
		},
		{
			name:   "invalid exclude fails closed",
			rule:   Rule{Origin: "http://a/", Exclude: `[`, Target: "http://b/", Enable: true},
			req:    Request{URL: "http://a/x"},
			wantOK: false,
		},
		{
			name:   "missing target",
			rule:   Rule{Origin: "http://a/", Enable: true},
			req:    Request{URL: "http://a/x"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.rule)
			got, ok := r.Resolve(tt.req)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRuleFilters(t *testing.T) {
	r := New(Rule{
		Origin:  `^http://a/(.*)`,
		Target:  "http://b/$1",
		Methods: []string{"POST"},
		Types:   []string{"main_frame"},
		Enable:  true,
	})

	tests := []struct {
		name   string
		req    Request
		stage  Stage
		wantOK bool
	}{
		{"no context", Request{URL: "http://a/x"}, StageRegex, true},
		{"method member", Request{URL: "http://a/x", Method: "POST"}, StageRegex, true},
		{"method not member", Request{URL: "http://a/x", Method: "GET"}, StageMethod, false},
		{"method case sensitive", Request{URL: "http://a/x", Method: "post"}, StageMethod, false},
		{"type member", Request{URL: "http://a/x", Type: "main_frame"}, StageRegex, true},
		{"type not member", Request{URL: "http://a/x", Type: "image"}, StageType, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := r.Evaluate(tt.req)
			assert.Equal(t, tt.wantOK, v.Matched)
			assert.Equal(t, tt.stage, v.Stage)
		})
	}
}

func TestRuleGuardOrder(t *testing.T) {
	r := New(Rule{
		Origin:  `http://a/`,
		Exclude: `x`,
		Target:  "http://b/",
		Methods: []string{"POST"},
		Enable:  true,
	})

	// method is checked before exclude
	v := r.Evaluate(Request{URL: "http://a/x", Method: "GET"})
	assert.Equal(t, StageMethod, v.Stage)

	v = r.Evaluate(Request{URL: "http://a/x", Method: "POST"})
	assert.Equal(t, StageExclude, v.Stage)
	assert.False(t, v.Matched)

	v = r.Evaluate(Request{URL: "http://a/y", Method: "POST"})
	assert.Equal(t, StagePrefix, v.Stage)
	assert.True(t, v.Matched)
	assert.Equal(t, "http://b/y", v.URL)

	v = New(Rule{Origin: "http://a/", Target: "http://b/"}).Evaluate(Request{URL: "http://a/"})
	assert.Equal(t, StageEnable, v.Stage)
}

func TestRuleAnchoredPrefixRejected(t *testing.T) {
	// no group: the literal origin, caret included, must prefix the URL
	r := New(Rule{Origin: `^http://a/`, Target: "http://b/", Enable: true})
	v := r.Evaluate(Request{URL: "http://a/y"})
	assert.Equal(t, StagePrefix, v.Stage)
	assert.False(t, v.Matched)
	assert.Empty(t, v.URL)

	r = New(Rule{Origin: `^http://a/(.*)`, Target: "http://b/$1", Enable: true})
	v = r.Evaluate(Request{URL: "http://a/y"})
	assert.Equal(t, StageRegex, v.Stage)
	assert.True(t, v.Matched)
	assert.Equal(t, "http://b/y", v.URL)
}

func TestRuleStates(t *testing.T) {
	tests := []struct {
		rule  Rule
		state State
	}{
		{Rule{Origin: "a", Target: "b"}, StateReady},
		{Rule{Target: "b"}, StateMissingOrigin},
		{Rule{Origin: "a"}, StateMissingTarget},
		{Rule{Origin: "(", Target: "b"}, StateInvalidOrigin},
		{Rule{Origin: "a", Exclude: "(", Target: "b"}, StateInvalidExclude},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			r := New(tt.rule)
			assert.Equal(t, tt.state, r.State())
			if tt.state == StateInvalidOrigin || tt.state == StateInvalidExclude {
				assert.Error(t, r.Err())
			} else {
				assert.NoError(t, r.Err())
			}
		})
	}
}

func TestRuleUnmarshal(t *testing.T) {
	var r Rule
	err := json.Unmarshal([]byte(`{
		"origin": "^http://a/(.*)",
		"target": "http://b/$1",
		"enable": true,
		"unknown": 1
	}`), &r)
	require.NoError(t, err)
	assert.Equal(t, StateReady, r.State())

	got, ok := r.Resolve(Request{URL: "http://a/c"})
	assert.True(t, ok)
	assert.Equal(t, "http://b/c", got)

	err = json.Unmarshal([]byte(`{"origin": 1}`), &r)
	assert.Error(t, err)
}

func TestRuleJavaScriptPatterns(t *testing.T) {
	// lookahead is not available in RE2
	r := New(Rule{Origin: `^http://a/(?!skip)(.*)`, Target: "http://b/$1", Enable: true})
	require.Equal(t, StateReady, r.State())

	got, ok := r.Resolve(Request{URL: "http://a/page"})
	assert.True(t, ok)
	assert.Equal(t, "http://b/page", got)

	_, ok = r.Resolve(Request{URL: "http://a/skip"})
	assert.False(t, ok)
}

func TestRuleProcess(t *testing.T) {
	tests := []struct {
		name    string
		process Process
		url     string
		want    string
		wantOK  bool
	}{
		{"url encode", ProcessURLEncode, "http://a/?u=http://x/y z", "http://b/?to=http%3A%2F%2Fx%2Fy%20z", true},
		{"url decode", ProcessURLDecode, "http://a/?u=http%3A%2F%2Fx%2F", "http://b/?to=http://x/", true},
		{"url decode malformed", ProcessURLDecode, "http://a/?u=%E0%A4%A", "", false},
		{"base64 encode", ProcessBase64Encode, "http://a/?u=hello", "http://b/?to=aGVsbG8=", true},
		{"base64 decode", ProcessBase64Decode, "http://a/?u=aGVsbG8=", "http://b/?to=hello", true},
		{"base64 decode malformed", ProcessBase64Decode, "http://a/?u=a", "", false},
		{"unknown process passes through", Process("rot13"), "http://a/?u=abc", "http://b/?to=abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Rule{
				Origin:  `^http://a/\?u=(.*)$`,
				Target:  "http://b/?to=$1",
				Process: tt.process,
				Enable:  true,
			})
			v := r.Evaluate(Request{URL: tt.url})
			assert.Equal(t, StageProcess, v.Stage)
			assert.Equal(t, tt.wantOK, v.Matched)
			if tt.wantOK {
				assert.Equal(t, tt.want, v.URL)
			}
		})
	}
}

func TestRuleProcessGroups(t *testing.T) {
	r := New(Rule{
		Origin:  `^http://a/(\w+)(?:-(\w+))?$`,
		Target:  "http://b/$1/$2/$1",
		Process: ProcessBase64Encode,
		Enable:  true,
	})

	got, ok := r.Resolve(Request{URL: "http://a/hi-yo"})
	assert.True(t, ok)
	assert.Equal(t, "http://b/aGk=/eW8=/aGk=", got)

	// a missing group is substituted as empty text
	got, ok = r.Resolve(Request{URL: "http://a/hi"})
	assert.True(t, ok)
	assert.Equal(t, "http://b/aGk=//aGk=", got)
}

func TestRuleReplacementSyntax(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"http://b/$1", "http://b/x"},
		{"http://b/$0/$1", "http://b/$0/x"},
		{"http://b/${1}", "http://b/${1}"},
		{"http://b/$+$_", "http://b/$+$_"},
		{"http://b/$$1", "http://b/$1"},
		{"http://b/$&", "http://b/http://a/x"},
		{"http://b/$1$", "http://b/x$"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			r := New(Rule{Origin: `^http://a/(.*)$`, Target: tt.target, Enable: true})
			got, ok := r.Resolve(Request{URL: "http://a/x"})
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSReplacement(t *testing.T) {
	assert.Equal(t, "a$1$$0$${x}$&$$$'$`", jsReplacement("a$1$0${x}$&$$$'$`"))
	assert.Equal(t, "$$", jsReplacement("$"))
}
