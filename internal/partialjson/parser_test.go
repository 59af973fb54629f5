package partialjson

import (
	"encoding/json"
	"reflect"
	"testing"
)

var documents = []string{
	`{"a": 1, "b": [true, false, null], "c": {"d": "e\"f", "g": -1.5e3}}`,
	`["one", "two", "thr\\ee", {"k": [1, [2, [3]]]}]`,
	`[{"title": "Morning", "prompts": ["What are you grateful for?", "How did you sleep?"]}, {"title": "Evening", "prompts": []}]`,
	`{"emotions": ["calm"], "people": [], "places": ["Lisbon"], "topics": ["travel", "work"]}`,
	`{"unicode": "café 😀 日本", "empty": {}, "nested": [[], {}]}`,
	`  [1, 2.25, -3, 4e2]  `,
	`"just a string"`,
	`42`,
}

func TestParser_RoundTripOverPrefixes(t *testing.T) {
	for _, doc := range documents {
		p := NewParser()
		for i := 0; i <= len(doc); i++ {
			p.Parse(doc[:i])
		}
		got := p.Parse(doc)

		var want any
		if err := json.Unmarshal([]byte(doc), &want); err != nil {
			t.Fatalf("bad fixture %s: %v", doc, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Parse(%s) = %#v, want %#v", doc, got, want)
		}
	}
}

func TestParser_PrefixesAlwaysContainers(t *testing.T) {
	for _, doc := range documents[:6] {
		p := NewParser()
		for i := 0; i < len(doc); i++ {
			switch p.Parse(doc[:i]).(type) {
			case map[string]any, []any:
			default:
				t.Fatalf("prefix %q did not yield an object or array", doc[:i])
			}
		}
	}
}

func TestParse_Repairs(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{``, `{}`},
		{`{`, `{}`},
		{`[`, `[]`},
		{`{"ke`, `{}`},
		{`{"key"`, `{}`},
		{`{"key":`, `{}`},
		{`{"key": "val`, `{"key": "val"}`},
		{`{"a": 1,`, `{"a": 1}`},
		{`{"a": 1, "b`, `{"a": 1}`},
		{`{"a": tr`, `{"a": true}`},
		{`{"a": nu`, `{"a": null}`},
		{`[1, 2.`, `[1, 2]`},
		{`[1e`, `[1]`},
		{`["a", "b`, `["a", "b"]`},
		{`["a\`, `["a"]`},
		{`["caf\u00`, `["caf"]`},
		{`[{"a": 1}, {"b": "x", "c`, `[{"a": 1}, {"b": "x"}]`},
		{`[{"a": 1}, {"b"`, `[{"a": 1}, {}]`},
		{`{"a": {"b": [1, {"c": "d`, `{"a": {"b": [1, {"c": "d"}]}}`},
		{`{"a": [`, `{"a": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var want any
			if err := json.Unmarshal([]byte(tt.want), &want); err != nil {
				t.Fatalf("bad expectation: %v", err)
			}
			got := Parse(tt.input)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, want)
			}
		})
	}
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{
		`"`, `"\`, `]]]`, `}{`, `{]`, `[}`, `,,,`, `:`, `{"a":}`, `[,]`,
		`{"a" "b"}`, `\u`, `{"\u12`, `nul`, `-`, `[--1]`, `{"a": 1}}}`,
		"\x00\xff", `[[[[[[[[[[`, `{"a":[{"b":[{"c":`,
	}
	for _, in := range inputs {
		p := NewParser()
		for i := 0; i <= len(in); i++ {
			switch p.Parse(in[:i]).(type) {
			case map[string]any, []any:
			default:
				t.Errorf("Parse(%q) returned a non-container", in[:i])
			}
		}
	}
}

func TestParser_ResetsOnNonExtension(t *testing.T) {
	p := NewParser()
	p.Parse(`{"a": "x`)

	got := p.Parse(`[1, 2]`)
	if !reflect.DeepEqual(got, []any{float64(1), float64(2)}) {
		t.Errorf("Expected fresh parse after non-extension, got %#v", got)
	}
}
