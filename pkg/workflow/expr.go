// Copyright 2025 Edson Martins
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Env resolves expression reference roots ("input", "workflow",
// "execution", step ids, named bindings) to values.
type Env struct {
	Lookup func(root string) (any, bool)
}

// Eval evaluates a single expression: references like
// ${stepId.output.path}, comparison and boolean operators, literals, and
// fn:name(...) built-ins (uppercase, lowercase, timestamp, uuid,
// jsonPath, format).
func Eval(expr string, env *Env) (any, error) {
	p, err := newParser(expr)
	if err != nil {
		return nil, err
	}
	v, err := p.parseExpr(env)
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected trailing input in expression %q", expr)
	}
	return v, nil
}

// EvalBool evaluates a condition expression. The result must be boolean.
func EvalBool(expr string, env *Env) (bool, error) {
	v, err := Eval(expr, env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, want bool", expr, v)
	}
	return b, nil
}

// Interpolate substitutes every ${...} span in template with its
// evaluated value, stringified.
func Interpolate(template string, env *Env) (string, error) {
	v, err := Resolve(template, env)
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

// Resolve evaluates template. A template that is exactly one ${...} span
// yields the raw value; anything else yields the interpolated string.
func Resolve(template string, env *Env) (any, error) {
	spans, err := findSpans(template)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return template, nil
	}
	if len(spans) == 1 && spans[0].start == 0 && spans[0].end == len(template) {
		return Eval(spans[0].inner, env)
	}

	var b strings.Builder
	last := 0
	for _, s := range spans {
		b.WriteString(template[last:s.start])
		v, err := Eval(s.inner, env)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
		last = s.end
	}
	b.WriteString(template[last:])
	return b.String(), nil
}

// resolveValue resolves templates recursively through maps and slices.
// Used for step parameter bindings.
func resolveValue(v any, env *Env) (any, error) {
	switch t := v.(type) {
	case string:
		return Resolve(t, env)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			r, err := resolveValue(vv, env)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			r, err := resolveValue(vv, env)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

type span struct {
	start, end int
	inner      string
}

// findSpans locates ${...} spans, honouring quotes and nested braces
// inside the expression.
func findSpans(template string) ([]span, error) {
	var spans []span
	for i := 0; i < len(template); {
		idx := strings.Index(template[i:], "${")
		if idx < 0 {
			break
		}
		start := i + idx
		depth := 1
		var quote byte
		j := start + 2
		for ; j < len(template); j++ {
			c := template[j]
			if quote != 0 {
				if c == quote {
					quote = 0
				}
				continue
			}
			switch c {
			case '\'', '"':
				quote = c
			case '{':
				depth++
			case '}':
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if depth != 0 {
			return nil, fmt.Errorf("unterminated ${ in template %q", template)
		}
		spans = append(spans, span{start: start, end: j + 1, inner: template[start+2 : j]})
		i = j + 1
	}
	return spans, nil
}

// --- lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

type parser struct {
	tokens []token
	pos    int
}

func newParser(expr string) (*parser, error) {
	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}
	return &parser{tokens: tokens}, nil
}

func lex(s string) ([]token, error) {
	var out []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(s) && s[j] != c {
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string in expression %q", s)
			}
			out = append(out, token{kind: tokString, text: s[i+1 : j]})
			i = j + 1
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9':
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q in expression", s[i:j])
			}
			out = append(out, token{kind: tokNumber, text: s[i:j], num: n})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			out = append(out, token{kind: tokIdent, text: s[i:j]})
			i = j
		default:
			for _, op := range []string{"${", "==", "!=", "<=", ">=", "&&", "||", "<", ">", "!", "(", ")", "[", "]", "{", "}", ",", ".", ":"} {
				if strings.HasPrefix(s[i:], op) {
					out = append(out, token{kind: tokOp, text: op})
					i += len(op)
					goto next
				}
			}
			return nil, fmt.Errorf("unexpected character %q in expression %q", c, s)
		next:
		}
	}
	out = append(out, token{kind: tokEOF})
	return out, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '-'
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(op string) bool {
	if t := p.peek(); t.kind == tokOp && t.text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	if !p.acceptOp(op) {
		return fmt.Errorf("expected %q, got %q", op, p.peek().text)
	}
	return nil
}

func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

// --- grammar: or > and > comparison > unary > primary ---

func (p *parser) parseExpr(env *Env) (any, error) {
	return p.parseOr(env)
}

func (p *parser) parseOr(env *Env) (any, error) {
	left, err := p.parseAnd(env)
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		lb, ok := left.(bool)
		if !ok {
			return nil, fmt.Errorf("|| requires boolean operands, got %T", left)
		}
		right, err := p.parseAnd(env)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, fmt.Errorf("|| requires boolean operands, got %T", right)
		}
		left = lb || rb
	}
	return left, nil
}

func (p *parser) parseAnd(env *Env) (any, error) {
	left, err := p.parseComparison(env)
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		lb, ok := left.(bool)
		if !ok {
			return nil, fmt.Errorf("&& requires boolean operands, got %T", left)
		}
		right, err := p.parseComparison(env)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, fmt.Errorf("&& requires boolean operands, got %T", right)
		}
		left = lb && rb
	}
	return left, nil
}

func (p *parser) parseComparison(env *Env) (any, error) {
	left, err := p.parseUnary(env)
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokOp {
		return left, nil
	}
	switch t.text {
	case "==", "!=", "<", "<=", ">", ">=":
		p.next()
		right, err := p.parseUnary(env)
		if err != nil {
			return nil, err
		}
		return compare(t.text, left, right)
	}
	return left, nil
}

func (p *parser) parseUnary(env *Env) (any, error) {
	if p.acceptOp("!") {
		v, err := p.parseUnary(env)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("! requires a boolean operand, got %T", v)
		}
		return !b, nil
	}
	return p.parsePrimary(env)
}

func (p *parser) parsePrimary(env *Env) (any, error) {
	t := p.peek()
	switch {
	case t.kind == tokNumber:
		p.next()
		return t.num, nil
	case t.kind == tokString:
		p.next()
		return t.text, nil
	case t.kind == tokOp && t.text == "(":
		p.next()
		v, err := p.parseExpr(env)
		if err != nil {
			return nil, err
		}
		return v, p.expectOp(")")
	case t.kind == tokOp && t.text == "${":
		p.next()
		v, err := p.parseExpr(env)
		if err != nil {
			return nil, err
		}
		return v, p.expectOp("}")
	case t.kind == tokIdent:
		switch t.text {
		case "true":
			p.next()
			return true, nil
		case "false":
			p.next()
			return false, nil
		case "null":
			p.next()
			return nil, nil
		case "fn":
			return p.parseCall(env)
		}
		return p.parseReference(env)
	}
	return nil, fmt.Errorf("unexpected token %q in expression", t.text)
}

func (p *parser) parseCall(env *Env) (any, error) {
	p.next() // fn
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	name := p.next()
	if name.kind != tokIdent {
		return nil, fmt.Errorf("expected function name after fn:, got %q", name.text)
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var args []any
	if !p.acceptOp(")") {
		for {
			v, err := p.parseExpr(env)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
			if p.acceptOp(")") {
				break
			}
			if err := p.expectOp(","); err != nil {
				return nil, err
			}
		}
	}
	return callBuiltin(name.text, args)
}

func (p *parser) parseReference(env *Env) (any, error) {
	root := p.next().text
	var segments []any
	for {
		if p.acceptOp(".") {
			t := p.next()
			if t.kind != tokIdent && t.kind != tokNumber {
				return nil, fmt.Errorf("expected path segment after '.', got %q", t.text)
			}
			segments = append(segments, t.text)
			continue
		}
		if p.acceptOp("[") {
			t := p.next()
			if t.kind != tokNumber {
				return nil, fmt.Errorf("expected index in [], got %q", t.text)
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			segments = append(segments, int(t.num))
			continue
		}
		break
	}

	if env == nil || env.Lookup == nil {
		return nil, fmt.Errorf("reference %s used without an environment", root)
	}
	v, ok := env.Lookup(root)
	if !ok {
		return nil, fmt.Errorf("unknown reference %q", root)
	}
	return traverse(v, segments)
}

// traverse walks map keys and slice indices. Missing keys yield nil, a
// type mismatch is an error.
func traverse(v any, segments []any) (any, error) {
	for _, seg := range segments {
		if v == nil {
			return nil, nil
		}
		switch key := seg.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("cannot access field %q on %T", key, v)
			}
			v = m[key]
		case int:
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("cannot index %T", v)
			}
			if key < 0 || key >= len(list) {
				return nil, fmt.Errorf("index %d out of range (len %d)", key, len(list))
			}
			v = list[key]
		}
	}
	return v, nil
}

func compare(op string, left, right any) (any, error) {
	switch op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	}

	if ln, lok := asNumber(left); lok {
		rn, rok := asNumber(right)
		if !rok {
			return nil, fmt.Errorf("cannot compare number with %T", right)
		}
		return relational(op, ln, rn), nil
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return relationalString(op, ls, rs), nil
	}
	return nil, fmt.Errorf("operator %s requires numbers or strings, got %T and %T", op, left, right)
}

func equal(a, b any) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func relational(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

func relationalString(op, a, b string) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func callBuiltin(name string, args []any) (any, error) {
	switch name {
	case "uppercase":
		if len(args) != 1 {
			return nil, fmt.Errorf("fn:uppercase takes 1 argument")
		}
		return strings.ToUpper(stringify(args[0])), nil
	case "lowercase":
		if len(args) != 1 {
			return nil, fmt.Errorf("fn:lowercase takes 1 argument")
		}
		return strings.ToLower(stringify(args[0])), nil
	case "timestamp":
		if len(args) != 0 {
			return nil, fmt.Errorf("fn:timestamp takes no arguments")
		}
		return time.Now().UTC().Format(time.RFC3339), nil
	case "uuid":
		if len(args) != 0 {
			return nil, fmt.Errorf("fn:uuid takes no arguments")
		}
		return uuid.New().String(), nil
	case "jsonPath":
		if len(args) != 2 {
			return nil, fmt.Errorf("fn:jsonPath takes 2 arguments")
		}
		path, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("fn:jsonPath path must be a string")
		}
		return jsonPath(args[0], path)
	case "format":
		if len(args) == 0 {
			return nil, fmt.Errorf("fn:format takes at least 1 argument")
		}
		f, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("fn:format first argument must be a string")
		}
		return fmt.Sprintf(f, args[1:]...), nil
	default:
		return nil, fmt.Errorf("unknown function fn:%s", name)
	}
}

// jsonPath traverses a dotted path with optional [n] indices, e.g.
// "items[0].name".
func jsonPath(v any, path string) (any, error) {
	var segments []any
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					segments = append(segments, part)
				}
				break
			}
			if open > 0 {
				segments = append(segments, part[:open])
			}
			closeIdx := strings.IndexByte(part, ']')
			if closeIdx < open {
				return nil, fmt.Errorf("malformed path %q", path)
			}
			idx, err := strconv.Atoi(part[open+1 : closeIdx])
			if err != nil {
				return nil, fmt.Errorf("malformed index in path %q", path)
			}
			segments = append(segments, idx)
			part = part[closeIdx+1:]
		}
	}
	return traverse(v, segments)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
