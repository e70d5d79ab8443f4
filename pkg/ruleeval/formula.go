package ruleeval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arkritico/wallnut-sub005/pkg/fieldpath"
)

// EvalFormula evaluates a restricted arithmetic expression against
// project data: additive chains of terms, terms are * and / chains of
// factors, factors are literals, dot-paths (including computed.*) or
// parenthesized subexpressions.
func EvalFormula(expr string, ctx Context) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty formula")
	}
	tokens, err := splitAddSub(expr)
	if err != nil {
		return 0, err
	}
	total := 0.0
	sign := 1.0
	seen := false
	for _, tok := range tokens {
		switch tok {
		case "+":
			sign = 1
			continue
		case "-":
			sign = -1
			continue
		}
		v, err := evalTerm(tok, ctx)
		if err != nil {
			return 0, err
		}
		total += sign * v
		sign = 1
		seen = true
	}
	if !seen {
		return 0, fmt.Errorf("formula has no terms: %q", expr)
	}
	return total, nil
}

func evalTerm(term string, ctx Context) (float64, error) {
	factors, err := splitMulDiv(term)
	if err != nil {
		return 0, err
	}
	total := 1.0
	op := "*"
	seen := false
	for _, tok := range factors {
		if tok == "*" || tok == "/" {
			op = tok
			continue
		}
		v, err := evalFactor(tok, ctx)
		if err != nil {
			return 0, err
		}
		if op == "/" {
			if v == 0 {
				return 0, fmt.Errorf("division by zero in %q", term)
			}
			total /= v
		} else {
			total *= v
		}
		seen = true
	}
	if !seen {
		return 0, fmt.Errorf("empty term")
	}
	return total, nil
}

func evalFactor(factor string, ctx Context) (float64, error) {
	factor = strings.TrimSpace(factor)
	if factor == "" {
		return 0, fmt.Errorf("empty factor")
	}
	if strings.HasPrefix(factor, "(") && strings.HasSuffix(factor, ")") {
		return EvalFormula(factor[1:len(factor)-1], ctx)
	}
	if v, err := strconv.ParseFloat(factor, 64); err == nil {
		return v, nil
	}
	raw, ok := ctx.resolve(factor)
	if !ok {
		return 0, fmt.Errorf("unknown field %q", factor)
	}
	n, ok := fieldpath.Number(raw)
	if !ok {
		return 0, fmt.Errorf("field %q is not numeric", factor)
	}
	return n, nil
}

func splitAddSub(expr string) ([]string, error) {
	return splitOperators(expr, func(ch byte) bool { return ch == '+' || ch == '-' })
}

func splitMulDiv(expr string) ([]string, error) {
	return splitOperators(expr, func(ch byte) bool { return ch == '*' || ch == '/' })
}

// splitOperators splits on the given operators at parenthesis depth
// zero, keeping the operators as their own tokens.
func splitOperators(expr string, isOp func(byte) bool) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	depth := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			tokens = append(tokens, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		switch {
		case ch == '(':
			depth++
			cur.WriteByte(ch)
		case ch == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", expr)
			}
			cur.WriteByte(ch)
		case depth == 0 && isOp(ch):
			// A minus directly after another operator or at the start
			// is a numeric sign, not an operator.
			if ch == '-' && strings.TrimSpace(cur.String()) == "" && (len(tokens) == 0 || tokens[len(tokens)-1] == "+" || tokens[len(tokens)-1] == "-" || tokens[len(tokens)-1] == "*" || tokens[len(tokens)-1] == "/") {
				cur.WriteByte(ch)
				continue
			}
			flush()
			tokens = append(tokens, string(ch))
		default:
			cur.WriteByte(ch)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in %q", expr)
	}
	flush()
	return tokens, nil
}
