package results

import (
	"fmt"
	"strconv"
	"strings"
)

// exprKind enumerates source expression node types.
type exprKind int

const (
	exprSignal exprKind = iota
	exprNumber
	exprFilter // filter call, e.g. count(x)
	exprBinary
	exprNegate
)

// expr is a parsed source expression.
type expr struct {
	kind  exprKind
	name  string  // signal or filter name
	num   float64 // exprNumber
	op    byte    // exprBinary: + - * /
	left  *expr   // exprBinary, exprNegate operand, exprFilter argument
	right *expr
}

func (e *expr) String() string {
	switch e.kind {
	case exprSignal:
		return e.name
	case exprNumber:
		return strconv.FormatFloat(e.num, 'g', -1, 64)
	case exprFilter:
		return e.name + "(" + e.left.String() + ")"
	case exprNegate:
		return "-" + e.left.String()
	}
	return "(" + e.left.String() + " " + string(e.op) + " " + e.right.String() + ")"
}

// signals returns the distinct signal names e references, in order of
// first appearance.
func (e *expr) signals() []string {
	var names []string
	seen := map[string]bool{}
	var walk func(*expr)
	walk = func(n *expr) {
		if n == nil {
			return
		}
		if n.kind == exprSignal && !seen[n.name] {
			seen[n.name] = true
			names = append(names, n.name)
		}
		walk(n.left)
		walk(n.right)
	}
	walk(e)
	return names
}

// parseExpr parses a statistic source expression:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = "-" unary | primary
//	primary = number | name | name "(" expr ")" | "(" expr ")"
func parseExpr(text string) (*expr, error) {
	p := &exprParser{src: text}
	p.next()
	e, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.tok != tokEOF {
		return nil, p.errorf("unexpected %q", p.lit)
	}
	return e, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokName
	tokNumber
	tokPunct
)

type exprParser struct {
	src string
	pos int
	tok tokKind
	lit string
	at  int
}

func (p *exprParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%s at offset %d in %q", fmt.Sprintf(format, args...), p.at, p.src)
}

func (p *exprParser) next() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
	p.at = p.pos
	if p.pos >= len(p.src) {
		p.tok, p.lit = tokEOF, ""
		return
	}
	c := p.src[p.pos]
	switch {
	case isNameStart(c):
		end := p.pos + 1
		for end < len(p.src) && isNameChar(p.src[end]) {
			end++
		}
		p.tok, p.lit = tokName, p.src[p.pos:end]
		p.pos = end
	case c >= '0' && c <= '9' || c == '.':
		end := p.pos
		for end < len(p.src) && (p.src[end] >= '0' && p.src[end] <= '9' || p.src[end] == '.') {
			end++
		}
		if end < len(p.src) && (p.src[end] == 'e' || p.src[end] == 'E') {
			end++
			if end < len(p.src) && (p.src[end] == '+' || p.src[end] == '-') {
				end++
			}
			for end < len(p.src) && p.src[end] >= '0' && p.src[end] <= '9' {
				end++
			}
		}
		p.tok, p.lit = tokNumber, p.src[p.pos:end]
		p.pos = end
	default:
		p.tok, p.lit = tokPunct, string(c)
		p.pos++
	}
}

func isNameStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9' || c == ':'
}

func (p *exprParser) parseSum() (*expr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.tok == tokPunct && (p.lit == "+" || p.lit == "-") {
		op := p.lit[0]
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &expr{kind: exprBinary, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseProduct() (*expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok == tokPunct && (p.lit == "*" || p.lit == "/") {
		op := p.lit[0]
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &expr{kind: exprBinary, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (*expr, error) {
	if p.tok == tokPunct && p.lit == "-" {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &expr{kind: exprNegate, left: operand}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (*expr, error) {
	switch p.tok {
	case tokNumber:
		v, err := strconv.ParseFloat(p.lit, 64)
		if err != nil {
			return nil, p.errorf("malformed number %q", p.lit)
		}
		p.next()
		return &expr{kind: exprNumber, num: v}, nil
	case tokName:
		name := p.lit
		p.next()
		if p.tok != tokPunct || p.lit != "(" {
			return &expr{kind: exprSignal, name: name}, nil
		}
		if _, ok := filterFactories[name]; !ok {
			return nil, p.errorf("unknown filter %q (known: %s)", name, strings.Join(filterNames(), ", "))
		}
		p.next()
		arg, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.tok != tokPunct || p.lit != ")" {
			return nil, p.errorf("missing \")\"")
		}
		p.next()
		return &expr{kind: exprFilter, name: name, left: arg}, nil
	case tokPunct:
		if p.lit == "(" {
			p.next()
			e, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			if p.tok != tokPunct || p.lit != ")" {
				return nil, p.errorf("missing \")\"")
			}
			p.next()
			return e, nil
		}
		return nil, p.errorf("unexpected %q", p.lit)
	}
	return nil, p.errorf("unexpected end of expression")
}

// eval computes e given the current values of its inputs. Signals and
// filter calls read their input slot.
func (e *expr) eval(slot map[*expr]int, vals []float64) float64 {
	switch e.kind {
	case exprNumber:
		return e.num
	case exprNegate:
		return -e.left.eval(slot, vals)
	case exprBinary:
		l, r := e.left.eval(slot, vals), e.right.eval(slot, vals)
		switch e.op {
		case '+':
			return l + r
		case '-':
			return l - r
		case '*':
			return l * r
		}
		return l / r
	}
	return vals[slot[e]]
}
