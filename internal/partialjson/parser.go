// Package partialjson repairs and parses truncated JSON text, such as model
// output that is still streaming.
package partialjson

import (
	"encoding/json"
	"strings"
)

// Parser is stateful across calls with growing input: each call scans only
// the bytes appended since the previous call.
type Parser struct {
	input    string
	index    int
	stack    []byte
	inString bool
	escaped  bool

	// Last position where the text can be cut and closed into valid JSON
	safeIdx   int
	safeStack []byte
}

// NewParser creates an empty parser
func NewParser() *Parser {
	return &Parser{safeIdx: -1}
}

// Reset clears all scan state
func (p *Parser) Reset() {
	p.input = ""
	p.index = 0
	p.stack = p.stack[:0]
	p.inString = false
	p.escaped = false
	p.safeIdx = -1
	p.safeStack = p.safeStack[:0]
}

// Parse returns the best structure parseable from input. It never fails:
// unparseable input yields an empty object or array. A complete JSON text
// parses exactly as json.Unmarshal would.
func (p *Parser) Parse(input string) any {
	if !strings.HasPrefix(input, p.input) {
		p.Reset()
	}
	p.scan(input)
	p.input = input
	return p.repair()
}

// Parse is a one-shot convenience over a fresh Parser
func Parse(input string) any {
	return NewParser().Parse(input)
}

func (p *Parser) scan(s string) {
	// Multi-byte UTF-8 sequences never contain ASCII bytes, so a byte walk is safe
	for i := p.index; i < len(s); i++ {
		c := s[i]
		if p.inString {
			switch {
			case p.escaped:
				p.escaped = false
			case c == '\\':
				p.escaped = true
			case c == '"':
				p.inString = false
			}
			continue
		}

		switch c {
		case '"':
			p.inString = true
		case '{', '[':
			p.stack = append(p.stack, c)
			p.markSafe(i + 1)
		case '}', ']':
			if len(p.stack) > 0 {
				p.stack = p.stack[:len(p.stack)-1]
			}
			p.markSafe(i + 1)
		case ',':
			p.markSafe(i)
		}
	}
	p.index = len(s)
}

func (p *Parser) markSafe(idx int) {
	p.safeIdx = idx
	p.safeStack = append(p.safeStack[:0], p.stack...)
}

func (p *Parser) repair() any {
	s := p.input
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return map[string]any{}
	}

	if len(p.stack) == 0 && !p.inString {
		if v, ok := tryParse(s); ok {
			return v
		}
	}

	opener := trimmed[0]
	if opener != '{' && opener != '[' {
		return map[string]any{}
	}

	// Keep the in-flight value when it can be closed as is
	if v, ok := tryParse(p.completeTail(s)); ok {
		return v
	}

	// Otherwise drop the incomplete key or element
	if p.safeIdx >= 0 {
		if v, ok := tryParse(s[:p.safeIdx] + closers(p.safeStack)); ok {
			return v
		}
	}

	return empty(opener)
}

func (p *Parser) completeTail(s string) string {
	if p.inString {
		return trimPartialEscape(s, p.escaped) + `"` + closers(p.stack)
	}

	tail := strings.TrimRight(s, " \t\r\n")
	tail = completeLiteral(tail)
	tail = trimPartialNumber(tail)
	tail = strings.TrimRight(tail, " \t\r\n")
	tail = strings.TrimSuffix(tail, ",")
	return tail + closers(p.stack)
}

func closers(stack []byte) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

func empty(opener byte) any {
	if opener == '[' {
		return []any{}
	}
	return map[string]any{}
}

func tryParse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// completeLiteral finishes a truncated true/false/null
func completeLiteral(s string) string {
	i := len(s)
	for i > 0 && isLetter(s[i-1]) {
		i--
	}
	run := s[i:]
	if run == "" {
		return s
	}
	for _, lit := range []string{"true", "false", "null"} {
		if len(run) < len(lit) && strings.HasPrefix(lit, run) {
			return s + lit[len(run):]
		}
	}
	return s
}

// trimPartialNumber drops a dangling exponent, sign or decimal point
func trimPartialNumber(s string) string {
	i := len(s)
	for i > 0 && strings.IndexByte("0123456789.eE+-", s[i-1]) >= 0 {
		i--
	}
	if i == len(s) || (i > 0 && isLetter(s[i-1])) {
		return s
	}
	return strings.TrimRight(s, ".eE+-")
}

// trimPartialEscape removes an escape sequence cut off at the end of a string
func trimPartialEscape(s string, escaped bool) string {
	if escaped {
		return s[:len(s)-1]
	}

	start := len(s) - 5
	if start < 0 {
		start = 0
	}
	idx := strings.LastIndex(s[start:], `\u`)
	if idx < 0 {
		return s
	}
	idx += start

	// The backslash must itself be unescaped
	slashes := 0
	for j := idx; j >= 0 && s[j] == '\\'; j-- {
		slashes++
	}
	if slashes%2 == 0 {
		return s
	}

	hex := s[idx+2:]
	for i := 0; i < len(hex); i++ {
		if !isHex(hex[i]) {
			return s
		}
	}
	if len(hex) < 4 {
		return s[:idx]
	}
	return s
}
