// Package computed evaluates derived-field formulas: arithmetic and string
// concatenation over other field values, followed by number, currency, or
// text formatting. A missing or non-numeric dependency in an arithmetic
// position yields an empty result rather than an error.
package computed

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/internal/coerce"
	"github.com/goliatone/go-formflow/pkg/mask"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// Evaluate computes the field's derived value from the bag and formats it.
// The empty string signals "no result": an empty formula, an unparsable
// formula, or arithmetic over values that are not numbers.
func Evaluate(c *schema.Computed, values map[string]any) string {
	if c == nil || strings.TrimSpace(c.Formula) == "" {
		return ""
	}

	tokens, err := tokenize(c.Formula)
	if err != nil {
		return ""
	}
	node, err := parse(tokens)
	if err != nil {
		return ""
	}
	result, ok := node.eval(values)
	if !ok {
		return ""
	}

	formatted := format(result, c)
	if formatted == "" {
		return ""
	}
	return c.Prefix + formatted + c.Suffix
}

// result carries either a number or a string through evaluation. Addition
// over a string operand degrades to concatenation, mirroring the formula
// semantics form authors expect.
type result struct {
	num   float64
	str   string
	isStr bool
}

func (r result) text() string {
	if r.isStr {
		return r.str
	}
	return strconv.FormatFloat(r.num, 'f', -1, 64)
}

func format(r result, c *schema.Computed) string {
	switch c.FormatAs {
	case "number":
		n, ok := r.number()
		if !ok {
			return ""
		}
		return strconv.FormatFloat(n, 'f', c.DecimalPlaces(), 64)
	case "currency":
		n, ok := r.number()
		if !ok {
			return ""
		}
		fixed := strconv.FormatFloat(n, 'f', 2, 64)
		return mask.FormatCurrency(fixed, "")
	default:
		return r.text()
	}
}

func (r result) number() (float64, bool) {
	if !r.isStr {
		return r.num, true
	}
	return coerce.Number(r.str)
}

type tokenKind int

const (
	tokenIdentifier tokenKind = iota
	tokenNumber
	tokenString
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	raw  string
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '+':
			tokens = append(tokens, token{kind: tokenPlus, raw: "+"})
			i++
		case ch == '-':
			tokens = append(tokens, token{kind: tokenMinus, raw: "-"})
			i++
		case ch == '*':
			tokens = append(tokens, token{kind: tokenStar, raw: "*"})
			i++
		case ch == '/':
			tokens = append(tokens, token{kind: tokenSlash, raw: "/"})
			i++
		case ch == '(':
			tokens = append(tokens, token{kind: tokenLParen, raw: "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tokenRParen, raw: ")"})
			i++
		case ch == '"' || ch == '\'':
			quote := ch
			i++
			start := i
			for i < len(input) && input[i] != quote {
				i++
			}
			if i >= len(input) {
				return nil, fmt.Errorf("computed: unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokenString, raw: input[start:i]})
			i++
		case ch >= '0' && ch <= '9' || ch == '.':
			start := i
			for i < len(input) && (input[i] >= '0' && input[i] <= '9' || input[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, raw: input[start:i]})
		case isIdentByte(ch):
			start := i
			for i < len(input) && (isIdentByte(input[i]) || input[i] >= '0' && input[i] <= '9') {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdentifier, raw: input[start:i]})
		default:
			return nil, fmt.Errorf("computed: unexpected character %q", ch)
		}
	}
	return tokens, nil
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '.'
}

type exprNode interface {
	eval(values map[string]any) (result, bool)
}

type tokenStream struct {
	tokens []token
	pos    int
}

func (s *tokenStream) match(kind tokenKind) bool {
	if s.pos >= len(s.tokens) || s.tokens[s.pos].kind != kind {
		return false
	}
	s.pos++
	return true
}

func (s *tokenStream) peek() (token, bool) {
	if s.pos >= len(s.tokens) {
		return token{}, false
	}
	return s.tokens[s.pos], true
}

func parse(tokens []token) (exprNode, error) {
	stream := &tokenStream{tokens: tokens}
	node, err := parseAdditive(stream)
	if err != nil {
		return nil, err
	}
	if stream.pos < len(stream.tokens) {
		return nil, fmt.Errorf("computed: unexpected token %q", stream.tokens[stream.pos].raw)
	}
	return node, nil
}

func parseAdditive(stream *tokenStream) (exprNode, error) {
	left, err := parseMultiplicative(stream)
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case stream.match(tokenPlus):
			right, err := parseMultiplicative(stream)
			if err != nil {
				return nil, err
			}
			left = addNode{left: left, right: right}
		case stream.match(tokenMinus):
			right, err := parseMultiplicative(stream)
			if err != nil {
				return nil, err
			}
			left = arithNode{left: left, right: right, op: '-'}
		default:
			return left, nil
		}
	}
}

func parseMultiplicative(stream *tokenStream) (exprNode, error) {
	left, err := parseUnary(stream)
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case stream.match(tokenStar):
			right, err := parseUnary(stream)
			if err != nil {
				return nil, err
			}
			left = arithNode{left: left, right: right, op: '*'}
		case stream.match(tokenSlash):
			right, err := parseUnary(stream)
			if err != nil {
				return nil, err
			}
			left = arithNode{left: left, right: right, op: '/'}
		default:
			return left, nil
		}
	}
}

func parseUnary(stream *tokenStream) (exprNode, error) {
	if stream.match(tokenMinus) {
		inner, err := parseUnary(stream)
		if err != nil {
			return nil, err
		}
		return negNode{inner: inner}, nil
	}
	return parsePrimary(stream)
}

func parsePrimary(stream *tokenStream) (exprNode, error) {
	if stream.match(tokenLParen) {
		inner, err := parseAdditive(stream)
		if err != nil {
			return nil, err
		}
		if !stream.match(tokenRParen) {
			return nil, fmt.Errorf("computed: missing closing ')'")
		}
		return inner, nil
	}

	tok, ok := stream.peek()
	if !ok {
		return nil, fmt.Errorf("computed: unexpected end of formula")
	}
	stream.pos++
	switch tok.kind {
	case tokenNumber:
		n, err := strconv.ParseFloat(tok.raw, 64)
		if err != nil {
			return nil, fmt.Errorf("computed: invalid number %q", tok.raw)
		}
		return numberNode{value: n}, nil
	case tokenString:
		return stringNode{value: tok.raw}, nil
	case tokenIdentifier:
		return identNode{name: tok.raw}, nil
	default:
		return nil, fmt.Errorf("computed: unexpected token %q", tok.raw)
	}
}

type numberNode struct {
	value float64
}

func (n numberNode) eval(map[string]any) (result, bool) {
	return result{num: n.value}, true
}

type stringNode struct {
	value string
}

func (n stringNode) eval(map[string]any) (result, bool) {
	return result{str: n.value, isStr: true}, true
}

type identNode struct {
	name string
}

func (n identNode) eval(values map[string]any) (result, bool) {
	var value any
	if values != nil {
		value = values[n.name]
	}
	if num, ok := coerce.Number(value); ok {
		return result{num: num}, true
	}
	if s, ok := value.(string); ok {
		return result{str: s, isStr: true}, true
	}
	if value == nil {
		// Missing dependency: usable in concatenation, fatal in arithmetic.
		return result{str: "", isStr: true}, true
	}
	return result{str: coerce.String(value), isStr: true}, true
}

type negNode struct {
	inner exprNode
}

func (n negNode) eval(values map[string]any) (result, bool) {
	inner, ok := n.inner.eval(values)
	if !ok {
		return result{}, false
	}
	num, ok := inner.number()
	if !ok {
		return result{}, false
	}
	return result{num: -num}, true
}

// addNode handles +, which doubles as string concatenation when either side
// is a non-numeric string.
type addNode struct {
	left  exprNode
	right exprNode
}

func (n addNode) eval(values map[string]any) (result, bool) {
	left, ok := n.left.eval(values)
	if !ok {
		return result{}, false
	}
	right, ok := n.right.eval(values)
	if !ok {
		return result{}, false
	}
	ln, lok := left.number()
	rn, rok := right.number()
	if lok && rok {
		return result{num: ln + rn}, true
	}
	return result{str: left.text() + right.text(), isStr: true}, true
}

type arithNode struct {
	left  exprNode
	right exprNode
	op    byte
}

func (n arithNode) eval(values map[string]any) (result, bool) {
	left, ok := n.left.eval(values)
	if !ok {
		return result{}, false
	}
	right, ok := n.right.eval(values)
	if !ok {
		return result{}, false
	}
	ln, lok := left.number()
	rn, rok := right.number()
	if !lok || !rok {
		return result{}, false
	}
	switch n.op {
	case '-':
		return result{num: ln - rn}, true
	case '*':
		return result{num: ln * rn}, true
	case '/':
		if rn == 0 {
			return result{}, false
		}
		out := ln / rn
		if math.IsInf(out, 0) || math.IsNaN(out) {
			return result{}, false
		}
		return result{num: out}, true
	}
	return result{}, false
}
