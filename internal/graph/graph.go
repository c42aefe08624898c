// Package graph implements the small directed-acyclic-graph primitive the
// module resolver needs: insert edges while rejecting cycles, then walk
// nodes in reverse-topological (bottom-up) order. A plain
// map[string][]string adjacency list is enough for the handful of named
// modules a config document declares.
package graph

import "github.com/pkg/errors"

// ErrCycle is returned by AddEdge when the edge would create a cycle.
var ErrCycle = errors.New("cyclic dependency detected")

// Graph is a directed graph over string node identifiers. The zero value
// is not usable; construct with New.
type Graph struct {
	nodes   map[string]struct{}
	forward map[string][]string // u -> nodes u points to (u extends v)
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]struct{}),
		forward: make(map[string][]string),
	}
}

// AddNode registers a node if not already present.
func (g *Graph) AddNode(name string) {
	if _, ok := g.nodes[name]; !ok {
		g.nodes[name] = struct{}{}
	}
}

// AddEdge records that u depends on (extends) v. It refuses the edge,
// returning ErrCycle, if v already reaches u — i.e. adding u->v would close
// a cycle u->v->...->u.
func (g *Graph) AddEdge(u, v string) error {
	g.AddNode(u)
	g.AddNode(v)

	if u == v || g.reaches(v, u) {
		return ErrCycle
	}

	g.forward[u] = append(g.forward[u], v)
	return nil
}

// reaches reports whether a path exists from -> to following forward edges.
func (g *Graph) reaches(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	var stack []string
	stack = append(stack, from)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		for _, next := range g.forward[n] {
			if next == to {
				return true
			}
			stack = append(stack, next)
		}
	}
	return false
}

// ReverseTopoOrder returns all nodes ordered so that every node appears
// after all nodes it depends on (its parents in the "extends" direction) —
// i.e. a bottom-up order suitable for folding defaults before overrides.
// Nodes that extend nothing come first.
//
// The input graph is required to be acyclic; AddEdge already guarantees
// that as long as every edge went through it.
func (g *Graph) ReverseTopoOrder() []string {
	// reversed[v] = nodes that point to v (i.e. v's children / extenders)
	reversed := make(map[string][]string)
	indegree := make(map[string]int) // indegree in the reversed graph == outdegree in forward graph... see below

	for n := range g.nodes {
		indegree[n] = 0
	}
	for u, vs := range g.forward {
		for _, v := range vs {
			reversed[v] = append(reversed[v], u)
		}
	}
	// In the *reversed* graph, edges run v->u for each original u->v
	// (u extends v). A node's in-degree in that reversed graph is the
	// number of parents it still extends that haven't been emitted yet.
	for u := range g.nodes {
		indegree[u] = len(g.forward[u])
	}

	var order []string
	queue := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	// Stable order: sort the initial queue and each expansion so that
	// resolution is deterministic across runs rather than dependent on
	// Go's randomized map iteration.
	sortStrings(queue)

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		children := append([]string(nil), reversed[n]...)
		sortStrings(children)
		for _, c := range children {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
				sortStrings(queue)
			}
		}
	}

	return order
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
