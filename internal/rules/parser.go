// Package rules parses retrieved rulebook text back into individually
// numbered rules and glossary definitions. The answer pipeline uses the
// parsed set to ground citations: a rule number the model names is only
// shown to the user if it actually appears in the retrieved text.
package rules

import (
	"regexp"
	"sort"
	"strings"
)

// numberPattern matches a rule number at the start of a line, followed by
// its closing period: "1.", "3.A.1.", "12.B.", "B1.A.2.". The optional
// leading capital marks appendix sections.
var numberPattern = regexp.MustCompile(
	`(?m)^([A-Z]?\d+(?:\.[A-Z]+)?(?:\.\d+)?(?:\.[a-z])?(?:\.\d+)?(?:\.\d+)?)\.(?:\s|$)`)

// headerPattern matches prose section headers like "Appendix B: Misconduct
// System" that separate the numbered rules from trailing narrative.
var headerPattern = regexp.MustCompile(`(?m)^(?:[A-Z][A-Za-z]*)(?: [A-Z][A-Za-z0-9]*)*:`)

// RuleSet maps rule numbers to their full text, remembering rulebook order.
type RuleSet struct {
	bodies map[string]string
	order  []string
}

// ParseRules extracts numbered rules from a block of rulebook text. Text
// before the first numbered rule and narrative after a prose section
// header is ignored. A rule's body runs from its number to the next rule
// boundary. Later occurrences of a number overwrite earlier ones.
func ParseRules(text string) *RuleSet {
	rs := &RuleSet{bodies: make(map[string]string)}

	if loc := headerPattern.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}

	matches := numberPattern.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		number := text[m[2]:m[3]]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(text[m[0]:end])
		if _, seen := rs.bodies[number]; !seen {
			rs.order = append(rs.order, number)
		}
		rs.bodies[number] = body
	}
	return rs
}

// Lookup returns the full text of a rule or ErrRuleNotFound.
func (rs *RuleSet) Lookup(number string) (string, error) {
	body, ok := rs.bodies[number]
	if !ok {
		return "", ErrRuleNotFound
	}
	return body, nil
}

// Has reports whether the set contains the rule number.
func (rs *RuleSet) Has(number string) bool {
	_, ok := rs.bodies[number]
	return ok
}

// Len returns the number of distinct rules.
func (rs *RuleSet) Len() int {
	return len(rs.bodies)
}

// Numbers returns all rule numbers in rulebook order.
func (rs *RuleSet) Numbers() []string {
	out := make([]string, len(rs.order))
	copy(out, rs.order)
	sort.Slice(out, func(i, j int) bool {
		return CompareNumbers(out[i], out[j]) < 0
	})
	return out
}

// Glossary maps defined terms to their definitions.
type Glossary struct {
	defs  map[string]string
	order []string
}

// ParseGlossary parses definition text into terms. Entries are separated
// by blank lines; the first line of an entry is the term and the remainder
// its definition. A term defined twice keeps the later definition.
func ParseGlossary(text string) *Glossary {
	g := &Glossary{defs: make(map[string]string)}

	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.SplitN(block, "\n", 2)
		term := strings.TrimSpace(lines[0])
		if term == "" {
			continue
		}
		def := ""
		if len(lines) > 1 {
			def = strings.TrimSpace(lines[1])
		}
		if _, seen := g.defs[term]; !seen {
			g.order = append(g.order, term)
		}
		g.defs[term] = def
	}
	return g
}

// Lookup returns a term's definition or ErrRuleNotFound.
func (g *Glossary) Lookup(term string) (string, error) {
	def, ok := g.defs[term]
	if !ok {
		return "", ErrRuleNotFound
	}
	return def, nil
}

// Has reports whether the term is defined.
func (g *Glossary) Has(term string) bool {
	_, ok := g.defs[term]
	return ok
}

// Terms returns defined terms in first-seen order.
func (g *Glossary) Terms() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of defined terms.
func (g *Glossary) Len() int {
	return len(g.defs)
}
