// Package formula parses Wilkinson–Rogers model formulas with lme4-style
// random-effects terms and builds the fixed and random design columns.
//
//	dv ~ 1 + age * context + (1 + context | subj) + (1 | item)
//
// Supported operators: + (term union), * (crossing, expands to every
// sub-interaction), : (interaction), 1 and 0 (keep or drop the intercept).
package formula

import (
	"fmt"
	"sort"
	"strings"

	"lmmpower/domain/core"
)

// Term is a fixed-effect term; an empty factor list is the intercept
type Term struct {
	Factors []string
}

// IsIntercept reports whether the term is the intercept
func (t Term) IsIntercept() bool { return len(t.Factors) == 0 }

// Degree is the number of interacting factors
func (t Term) Degree() int { return len(t.Factors) }

func (t Term) String() string {
	if t.IsIntercept() {
		return "1"
	}
	return strings.Join(t.Factors, ":")
}

func (t Term) key() string {
	sorted := append([]string(nil), t.Factors...)
	sort.Strings(sorted)
	return strings.Join(sorted, ":")
}

// RandomTerm is a (terms | group) block
type RandomTerm struct {
	Terms []Term
	Group string
}

func (r RandomTerm) String() string {
	parts := make([]string, len(r.Terms))
	for i, t := range r.Terms {
		parts[i] = t.String()
	}
	return fmt.Sprintf("(%s | %s)", strings.Join(parts, " + "), r.Group)
}

// Formula is a parsed mixed-model formula
type Formula struct {
	Response string
	Fixed    []Term
	Random   []RandomTerm
	source   string
}

// Source returns the text the formula was parsed from
func (f *Formula) Source() string { return f.source }

func (f *Formula) String() string {
	parts := make([]string, 0, len(f.Fixed)+len(f.Random))
	hasIntercept := false
	for _, t := range f.Fixed {
		if t.IsIntercept() {
			hasIntercept = true
		}
		parts = append(parts, t.String())
	}
	if !hasIntercept {
		parts = append([]string{"0"}, parts...)
	}
	for _, r := range f.Random {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%s ~ %s", f.Response, strings.Join(parts, " + "))
}

// Variables lists every factor and grouping variable the formula references,
// in order of first appearance
func (f *Formula) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, t := range f.Fixed {
		for _, name := range t.Factors {
			add(name)
		}
	}
	for _, r := range f.Random {
		for _, t := range r.Terms {
			for _, name := range t.Factors {
				add(name)
			}
		}
		add(r.Group)
	}
	return out
}

// Groups returns the grouping factor names in formula order
func (f *Formula) Groups() []string {
	out := make([]string, len(f.Random))
	for i, r := range f.Random {
		out[i] = r.Group
	}
	return out
}

// Parse parses a formula such as "dv ~ 1 + a * b + (1 + a | subj) + (1 | item)"
func Parse(src string) (*Formula, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	f, err := p.formula()
	if err != nil {
		return nil, core.NewInvalidArgumentf("formula", "%q: %v", src, err)
	}
	f.source = src
	return f, nil
}

// MustParse is Parse for formulas known at compile time
func MustParse(src string) *Formula {
	f, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return f
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, fmt.Errorf("expected %s at offset %d, found %s", kind, tok.pos, tok)
	}
	return tok, nil
}

func (p *parser) formula() (*Formula, error) {
	resp, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokTilde); err != nil {
		return nil, err
	}

	f := &Formula{Response: resp.text}
	terms, intercept, err := p.sum(f)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at offset %d", tok, tok.pos)
	}
	f.Fixed = arrange(terms, intercept)

	groups := make(map[string]bool)
	for _, r := range f.Random {
		if groups[r.Group] {
			return nil, fmt.Errorf("grouping factor %q appears in more than one random term", r.Group)
		}
		groups[r.Group] = true
	}
	return f, nil
}

// sum parses "item (+ item)*". Random terms are only accepted when f is non-nil.
func (p *parser) sum(f *Formula) ([]Term, bool, error) {
	var terms []Term
	intercept := true
	for {
		tok := p.peek()
		switch {
		case tok.kind == tokLParen && f != nil:
			p.next()
			rt, err := p.random()
			if err != nil {
				return nil, false, err
			}
			f.Random = append(f.Random, rt)
		case tok.kind == tokNumber:
			p.next()
			switch tok.text {
			case "1":
				intercept = true
			case "0":
				intercept = false
			default:
				return nil, false, fmt.Errorf("only 0 or 1 may appear as a constant, found %s", tok.text)
			}
		default:
			expanded, err := p.product()
			if err != nil {
				return nil, false, err
			}
			terms = append(terms, expanded...)
		}

		if p.peek().kind != tokPlus {
			return terms, intercept, nil
		}
		p.next()
	}
}

func (p *parser) random() (RandomTerm, error) {
	terms, intercept, err := p.sum(nil)
	if err != nil {
		return RandomTerm{}, err
	}
	if _, err := p.expect(tokBar); err != nil {
		return RandomTerm{}, err
	}
	group, err := p.expect(tokIdent)
	if err != nil {
		return RandomTerm{}, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return RandomTerm{}, err
	}
	rt := RandomTerm{Terms: arrange(terms, intercept), Group: group.text}
	if len(rt.Terms) == 0 {
		return RandomTerm{}, fmt.Errorf("random term for %q has no columns", group.text)
	}
	return rt, nil
}

// product parses "interaction (* interaction)*" and expands the crossing
func (p *parser) product() ([]Term, error) {
	first, err := p.interaction()
	if err != nil {
		return nil, err
	}
	operands := []Term{first}
	for p.peek().kind == tokStar {
		p.next()
		t, err := p.interaction()
		if err != nil {
			return nil, err
		}
		operands = append(operands, t)
	}
	return cross(operands), nil
}

func (p *parser) interaction() (Term, error) {
	var factors []string
	for {
		tok, err := p.expect(tokIdent)
		if err != nil {
			return Term{}, err
		}
		factors = appendUnique(factors, tok.text)
		if p.peek().kind != tokColon {
			return Term{Factors: factors}, nil
		}
		p.next()
	}
}

// cross returns every non-empty combination of operands, smaller combinations first
func cross(operands []Term) []Term {
	k := len(operands)
	var out []Term
	for size := 1; size <= k; size++ {
		for mask := 1; mask < 1<<k; mask++ {
			if bitCount(mask) != size {
				continue
			}
			var factors []string
			for i := 0; i < k; i++ {
				if mask&(1<<i) != 0 {
					for _, name := range operands[i].Factors {
						factors = appendUnique(factors, name)
					}
				}
			}
			out = append(out, Term{Factors: factors})
		}
	}
	return out
}

// arrange deduplicates terms, puts the intercept first and orders the rest
// by degree, keeping first-appearance order within a degree
func arrange(terms []Term, intercept bool) []Term {
	seen := make(map[string]bool)
	var unique []Term
	for _, t := range terms {
		key := t.key()
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, t)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Degree() < unique[j].Degree()
	})
	if intercept {
		unique = append([]Term{{}}, unique...)
	}
	return unique
}

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}

func bitCount(x int) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}
