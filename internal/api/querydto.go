package api

import (
	"fmt"

	"github.com/aerolithdb/aerolithdb/internal/query"
)

// filterSpec is the wire shape of a query.Node: exactly one of its
// fields is populated per node, mirroring the way query.Node itself is
// built via And/Or/Not/Cmp constructors.
type filterSpec struct {
	And   []filterSpec `json:"and,omitempty"`
	Or    []filterSpec `json:"or,omitempty"`
	Not   *filterSpec  `json:"not,omitempty"`
	Path  string       `json:"path,omitempty"`
	Op    string       `json:"op,omitempty"`
	Value any          `json:"value,omitempty"`
}

func (f filterSpec) toNode() (query.Node, error) {
	switch {
	case len(f.And) > 0:
		children, err := toNodes(f.And)
		if err != nil {
			return query.Node{}, err
		}
		return query.And(children...), nil
	case len(f.Or) > 0:
		children, err := toNodes(f.Or)
		if err != nil {
			return query.Node{}, err
		}
		return query.Or(children...), nil
	case f.Not != nil:
		child, err := f.Not.toNode()
		if err != nil {
			return query.Node{}, err
		}
		return query.Not(child), nil
	case f.Path != "":
		op, err := parseOp(f.Op)
		if err != nil {
			return query.Node{}, err
		}
		return query.Cmp(f.Path, op, f.Value), nil
	default:
		return query.Node{}, nil
	}
}

func toNodes(specs []filterSpec) ([]query.Node, error) {
	nodes := make([]query.Node, len(specs))
	for i, s := range specs {
		n, err := s.toNode()
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

func parseOp(s string) (query.Op, error) {
	switch s {
	case "", "eq":
		return query.OpEq, nil
	case "ne":
		return query.OpNe, nil
	case "lt":
		return query.OpLt, nil
	case "le":
		return query.OpLe, nil
	case "gt":
		return query.OpGt, nil
	case "ge":
		return query.OpGe, nil
	case "in":
		return query.OpIn, nil
	case "contains":
		return query.OpContains, nil
	case "prefix":
		return query.OpPrefix, nil
	default:
		return 0, fmt.Errorf("unknown filter op %q", s)
	}
}

// sortSpec is the wire shape of a query.SortField.
type sortSpec struct {
	Path       string `json:"path"`
	Descending bool   `json:"descending"`
}

func toSortFields(specs []sortSpec) []query.SortField {
	fields := make([]query.SortField, len(specs))
	for i, s := range specs {
		fields[i] = query.SortField{Path: s.Path, Descending: s.Descending}
	}
	return fields
}
