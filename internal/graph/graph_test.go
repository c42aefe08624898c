package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netwatch/tls-certificate-exporter/internal/graph"
)

func TestAddEdge_RejectsDirectCycle(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddEdge("a", "b"))
	err := g.AddEdge("b", "a")
	require.ErrorIs(t, err, graph.ErrCycle)
}

func TestAddEdge_RejectsSelfLoop(t *testing.T) {
	g := graph.New()
	err := g.AddEdge("a", "a")
	require.ErrorIs(t, err, graph.ErrCycle)
}

func TestAddEdge_RejectsIndirectCycle(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	err := g.AddEdge("c", "a")
	require.ErrorIs(t, err, graph.ErrCycle)
}

func TestReverseTopoOrder_ParentsBeforeChildren(t *testing.T) {
	g := graph.New()
	// child extends base; grandchild extends child
	require.NoError(t, g.AddEdge("child", "base"))
	require.NoError(t, g.AddEdge("grandchild", "child"))

	order := g.ReverseTopoOrder()
	require.Len(t, order, 3)

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}

	require.Less(t, pos["base"], pos["child"])
	require.Less(t, pos["child"], pos["grandchild"])
}

func TestReverseTopoOrder_DiamondInheritance(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddEdge("left", "base"))
	require.NoError(t, g.AddEdge("right", "base"))
	require.NoError(t, g.AddEdge("bottom", "left"))
	require.NoError(t, g.AddEdge("bottom", "right"))

	order := g.ReverseTopoOrder()
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}

	require.Less(t, pos["base"], pos["left"])
	require.Less(t, pos["base"], pos["right"])
	require.Less(t, pos["left"], pos["bottom"])
	require.Less(t, pos["right"], pos["bottom"])
}
