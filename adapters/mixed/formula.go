// Package mixed implements ports.ModelAdapter: a linear mixed model with crossed
// random intercepts, fitted by maximum likelihood with Wald tests on fixed effects.
package mixed

import (
	"fmt"
	"sort"
	"strings"

	"mixpower/domain/core"
	"mixpower/domain/model"
)

// ParseFormula parses "resp ~ a * b + c + (1 | g1) + (1 | g2)". A*B expands to
// every sub-interaction; "0" or "- 1" removes the intercept. Fixed terms are
// ordered by interaction order, then by first appearance.
func ParseFormula(s string) (model.Formula, error) {
	sides := strings.Split(s, "~")
	if len(sides) != 2 {
		return model.Formula{}, formulaError(s, "expected exactly one '~'")
	}
	f := model.Formula{
		Response:  strings.TrimSpace(sides[0]),
		Intercept: true,
	}
	if !isIdentifier(f.Response) {
		return model.Formula{}, formulaError(s, fmt.Sprintf("invalid response %q", f.Response))
	}

	tokens, err := splitTerms(sides[1])
	if err != nil {
		return model.Formula{}, formulaError(s, err.Error())
	}

	seen := make(map[string]bool)
	for _, tok := range tokens {
		body := tok.body
		switch {
		case tok.negated:
			if body != "1" {
				return model.Formula{}, formulaError(s, fmt.Sprintf("cannot remove term %q", body))
			}
			f.Intercept = false
		case body == "1":
			f.Intercept = true
		case body == "0":
			f.Intercept = false
		case strings.HasPrefix(body, "("):
			group, err := parseRandom(body)
			if err != nil {
				return model.Formula{}, formulaError(s, err.Error())
			}
			for _, g := range f.Random {
				if g == group {
					return model.Formula{}, formulaError(s, fmt.Sprintf("duplicate random term for %q", group))
				}
			}
			f.Random = append(f.Random, group)
		default:
			terms, err := expandTerm(body)
			if err != nil {
				return model.Formula{}, formulaError(s, err.Error())
			}
			for _, t := range terms {
				key := termKey(t)
				if seen[key] {
					continue
				}
				seen[key] = true
				f.Fixed = append(f.Fixed, t)
			}
		}
	}

	sort.SliceStable(f.Fixed, func(i, j int) bool {
		return f.Fixed[i].Order() < f.Fixed[j].Order()
	})
	return f, nil
}

func formulaError(formula, reason string) error {
	return fmt.Errorf("%w: formula %q: %s", core.ErrInvalidArgument, formula, reason)
}

type token struct {
	body    string
	negated bool
}

// splitTerms splits the right-hand side on top-level '+' and '-'.
func splitTerms(rhs string) ([]token, error) {
	var tokens []token
	depth := 0
	negated := false
	var cur strings.Builder

	flush := func() error {
		body := strings.Join(strings.Fields(cur.String()), " ")
		cur.Reset()
		if body == "" {
			if negated {
				return fmt.Errorf("dangling '-'")
			}
			return nil
		}
		tokens = append(tokens, token{body: body, negated: negated})
		negated = false
		return nil
	}

	for _, r := range rhs {
		switch {
		case r == '(':
			depth++
			cur.WriteRune(r)
		case r == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ')'")
			}
			cur.WriteRune(r)
		case (r == '+' || r == '-') && depth == 0:
			if err := flush(); err != nil {
				return nil, err
			}
			negated = r == '-'
		default:
			cur.WriteRune(r)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '('")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty right-hand side")
	}
	return tokens, nil
}

func parseRandom(body string) (string, error) {
	if !strings.HasSuffix(body, ")") {
		return "", fmt.Errorf("malformed random term %q", body)
	}
	inner := strings.TrimSpace(body[1 : len(body)-1])
	parts := strings.Split(inner, "|")
	if len(parts) != 2 {
		return "", fmt.Errorf("random term %q must look like (1 | group)", body)
	}
	if strings.TrimSpace(parts[0]) != "1" {
		return "", fmt.Errorf("random term %q: only random intercepts are supported", body)
	}
	group := strings.TrimSpace(parts[1])
	if !isIdentifier(group) {
		return "", fmt.Errorf("random term %q: invalid grouping %q", body, group)
	}
	return group, nil
}

// expandTerm turns "a*b:c" into a, b:c, a:b:c.
func expandTerm(body string) ([]model.Term, error) {
	factors := strings.Split(body, "*")
	parts := make([][]string, len(factors))
	for i, factor := range factors {
		for _, v := range strings.Split(factor, ":") {
			v = strings.TrimSpace(v)
			if !isIdentifier(v) {
				return nil, fmt.Errorf("invalid variable %q in term %q", v, body)
			}
			parts[i] = append(parts[i], v)
		}
	}

	var terms []model.Term
	for mask := 1; mask < 1<<len(parts); mask++ {
		var vars []string
		used := make(map[string]bool)
		for i, p := range parts {
			if mask&(1<<i) == 0 {
				continue
			}
			for _, v := range p {
				if !used[v] {
					used[v] = true
					vars = append(vars, v)
				}
			}
		}
		terms = append(terms, model.Term{Vars: vars})
	}
	sort.SliceStable(terms, func(i, j int) bool { return terms[i].Order() < terms[j].Order() })
	return terms, nil
}

func termKey(t model.Term) string {
	vars := append([]string(nil), t.Vars...)
	sort.Strings(vars)
	return strings.Join(vars, ":")
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
