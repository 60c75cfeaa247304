// Package rdf collects (subject, predicate, object) triples and serializes
// them as Turtle.
//
// Terms are rendered strings: prefixed names (paper:abc, person:A_One1),
// bracketed IRIs, or literals built with the constructors below. Escaping
// and subject grouping live here so they are testable independently of the
// data that gets projected.
package rdf

import (
	"fmt"
	"strings"
	"time"
)

// Fixed prefix IRIs. The default prefix is configurable per graph since
// downstream SPARQL setups differ.
const (
	DefaultBase = "https://ortler.example.org/venue#"
	PaperBase   = "https://openreview.net/forum?id="
	PersonBase  = "https://openreview.net/profile?id=~"
)

// NoValue is the marker object used when a field has no usable value, so
// queries can distinguish "absent" from "empty string".
const NoValue = ":novalue"

// Graph is an in-memory triple collector grouped by subject. Triples are
// kept in insertion order; exact duplicates are dropped so repeated
// projection of the same record is idempotent.
type Graph struct {
	base     string
	subjects []string
	nodes    map[string]*node
	count    int
}

type node struct {
	predicates []string
	objects    map[string][]string
	seen       map[string]bool
}

// NewGraph returns an empty graph. An empty base selects DefaultBase.
func NewGraph(base string) *Graph {
	if base == "" {
		base = DefaultBase
	}
	return &Graph{
		base:  base,
		nodes: make(map[string]*node),
	}
}

// Add records one triple. Subject, predicate and object must already be
// rendered terms.
func (g *Graph) Add(subject, predicate, object string) {
	if subject == "" || predicate == "" || object == "" {
		return
	}
	n, ok := g.nodes[subject]
	if !ok {
		n = &node{
			objects: make(map[string][]string),
			seen:    make(map[string]bool),
		}
		g.nodes[subject] = n
		g.subjects = append(g.subjects, subject)
	}
	key := predicate + "\x00" + object
	if n.seen[key] {
		return
	}
	n.seen[key] = true
	if _, ok := n.objects[predicate]; !ok {
		n.predicates = append(n.predicates, predicate)
	}
	n.objects[predicate] = append(n.objects[predicate], object)
	g.count++
}

// Len returns the number of distinct triples collected.
func (g *Graph) Len() int {
	return g.count
}

// Turtle serializes the graph. Triples sharing a subject are grouped with
// semicolon continuation; multiple objects for one predicate are
// comma-joined; the final predicate-object pair of each subject ends with
// a period.
func (g *Graph) Turtle() string {
	var b strings.Builder
	fmt.Fprintf(&b, "@prefix : <%s> .\n", g.base)
	fmt.Fprintf(&b, "@prefix paper: <%s> .\n", PaperBase)
	fmt.Fprintf(&b, "@prefix person: <%s> .\n", PersonBase)
	b.WriteString("@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .\n")
	b.WriteString("@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .\n")

	for _, subject := range g.subjects {
		n := g.nodes[subject]
		b.WriteString("\n")
		b.WriteString(subject)
		for i, pred := range n.predicates {
			if i == 0 {
				b.WriteString(" ")
			} else {
				b.WriteString(" ;\n    ")
			}
			b.WriteString(pred)
			b.WriteString(" ")
			b.WriteString(strings.Join(n.objects[pred], ", "))
		}
		b.WriteString(" .\n")
	}
	return b.String()
}

// PaperIRI renders a submission identifier as paper:<id>, falling back to
// the full bracketed IRI when the identifier starts with a character that
// is illegal at the start of a prefixed local name. Some submission
// identifiers are negative-looking numeric strings, so the fallback is
// load-bearing, not cosmetic.
func PaperIRI(id string) string {
	if legalLocalName(id) {
		return "paper:" + id
	}
	return "<" + PaperBase + id + ">"
}

// PersonIRI renders a canonical profile key as person:<key-without-tilde>.
// The tilde lives in the prefix IRI, since "~" is illegal in a prefixed
// local name.
func PersonIRI(canonicalKey string) string {
	local := strings.TrimPrefix(canonicalKey, "~")
	if legalLocalName(local) {
		return "person:" + local
	}
	return "<" + PersonBase + local + ">"
}

// ReviewIRI renders the IRI for one official review, unique per
// (submission, reviewer) pair. Review IRIs live under the default prefix,
// so the bracketed fallback uses the graph's configured base.
func (g *Graph) ReviewIRI(submissionID, canonicalKey string) string {
	local := "review_" + submissionID + "_" + strings.TrimPrefix(canonicalKey, "~")
	if legalLocalName(local) {
		return ":" + local
	}
	return "<" + g.base + local + ">"
}

func legalLocalName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		case (r == '-' || r == '.') && i > 0:
		default:
			return false
		}
	}
	// A trailing dot would be parsed as the statement terminator.
	return !strings.HasSuffix(s, ".")
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Literal renders a plain string literal with Turtle escaping. Malformed
// escaping here breaks the downstream SPARQL import, so everything goes
// through this one function.
func Literal(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}

// LiteralOrNoValue renders a string literal, or the novalue marker when
// the string is empty.
func LiteralOrNoValue(s string) string {
	if s == "" {
		return NoValue
	}
	return Literal(s)
}

// Integer renders a typed integer literal.
func Integer(i int) string {
	return fmt.Sprintf(`"%d"^^xsd:integer`, i)
}

// Bool renders a typed boolean literal.
func Bool(v bool) string {
	return fmt.Sprintf(`"%t"^^xsd:boolean`, v)
}

// Date renders an epoch-milliseconds timestamp as a date-only typed
// literal in UTC.
func Date(millis int64) string {
	if millis <= 0 {
		return NoValue
	}
	t := time.UnixMilli(millis).UTC()
	return fmt.Sprintf(`"%s"^^xsd:date`, t.Format("2006-01-02"))
}

// DateTime renders an epoch-milliseconds timestamp as a full date-time
// typed literal in UTC.
func DateTime(millis int64) string {
	if millis <= 0 {
		return NoValue
	}
	t := time.UnixMilli(millis).UTC()
	return fmt.Sprintf(`"%s"^^xsd:dateTime`, t.Format("2006-01-02T15:04:05Z"))
}
