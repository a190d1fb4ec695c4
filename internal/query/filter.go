// Package query implements the filter/scan/sort query executor (C7):
// a boolean filter tree evaluated against decoded document payloads, a
// single-shard scan-filter-sort-paginate pipeline that spills to disk
// past a memory budget, and a distributed fan-out/merge coordinator
// across shards (spec §4.7).
package query

import (
	"encoding/json"
	"strings"

	"github.com/aerolithdb/aerolithdb/internal/document"
)

// Op is a comparison operator usable in a Cmp filter node.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpContains
	OpPrefix
)

// Node is one node of a filter tree: exactly one of the fields below is
// set, matching which constructor built it.
type Node struct {
	and  []Node
	or   []Node
	not  *Node
	cmp  *cmpNode
}

type cmpNode struct {
	path  []string
	op    Op
	value any
}

// And builds a conjunction; it matches a document iff every child does.
func And(children ...Node) Node { return Node{and: children} }

// Or builds a disjunction; it matches a document iff any child does.
func Or(children ...Node) Node { return Node{or: children} }

// Not negates child.
func Not(child Node) Node { return Node{not: &child} }

// Cmp builds a leaf comparing the JSON value at path (dot-separated)
// against value using op.
func Cmp(path string, op Op, value any) Node {
	return Node{cmp: &cmpNode{path: strings.Split(path, "."), op: op, value: value}}
}

// Evaluate reports whether doc's decoded payload satisfies the filter
// tree. A malformed payload (not a JSON object) never matches.
func (n Node) Evaluate(doc document.Document) bool {
	var fields map[string]any
	if err := json.Unmarshal(doc.Payload, &fields); err != nil {
		return false
	}
	return n.evaluate(fields)
}

func (n Node) evaluate(fields map[string]any) bool {
	switch {
	case n.and != nil:
		for _, c := range n.and {
			if !c.evaluate(fields) {
				return false
			}
		}
		return true
	case n.or != nil:
		for _, c := range n.or {
			if c.evaluate(fields) {
				return true
			}
		}
		return false
	case n.not != nil:
		return !n.not.evaluate(fields)
	case n.cmp != nil:
		return n.cmp.evaluate(fields)
	default:
		return true // an empty node matches everything
	}
}

func (c *cmpNode) evaluate(fields map[string]any) bool {
	actual, ok := lookup(fields, c.path)
	switch c.op {
	case OpEq:
		return ok && compareEqual(actual, c.value)
	case OpNe:
		return !ok || !compareEqual(actual, c.value)
	case OpLt:
		return ok && compareOrdered(actual, c.value) < 0
	case OpLe:
		return ok && compareOrdered(actual, c.value) <= 0
	case OpGt:
		return ok && compareOrdered(actual, c.value) > 0
	case OpGe:
		return ok && compareOrdered(actual, c.value) >= 0
	case OpIn:
		return ok && containsValue(c.value, actual)
	case OpContains:
		return ok && containsValue(actual, c.value)
	case OpPrefix:
		s, sok := actual.(string)
		prefix, pok := c.value.(string)
		return ok && sok && pok && strings.HasPrefix(s, prefix)
	default:
		return false
	}
}

func lookup(fields map[string]any, path []string) (any, bool) {
	var cur any = fields
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

// compareOrdered orders numbers numerically and falls back to string
// comparison otherwise, returning -1/0/1 like strings.Compare.
func compareOrdered(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func containsValue(container, needle any) bool {
	items, ok := container.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(item, needle) {
			return true
		}
	}
	return false
}
