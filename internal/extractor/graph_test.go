package extractor

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/validation-cli/internal/model"
)

// diamond: d depends on b and c, which both depend on a.
func diamondGraph() *Graph {
	return NewGraph(model.Adjacency{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
}

func TestGraph_Layers(t *testing.T) {
	layers, err := diamondGraph().Layers()
	require.NoError(t, err)

	require.Len(t, layers, 3)
	assert.Equal(t, []string{"a"}, layers[0])
	assert.Equal(t, []string{"b", "c"}, layers[1])
	assert.Equal(t, []string{"d"}, layers[2])
}

func TestGraph_TopoSort_Deterministic(t *testing.T) {
	first, err := diamondGraph().TopoSort()
	require.NoError(t, err)
	second, err := diamondGraph().TopoSort()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "c", "d"}, first)
}

func TestGraph_Cycle(t *testing.T) {
	g := NewGraph(model.Adjacency{
		"a": {"b"},
		"b": {"a"},
	})
	_, err := g.Layers()
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrDependencyCycle))
}

func TestGraph_Validate_DanglingDependency(t *testing.T) {
	g := NewGraph(model.Adjacency{
		"a": {"ghost"},
	})
	require.Error(t, g.Validate())
}

func TestGraph_DependencyClosure(t *testing.T) {
	closure := diamondGraph().DependencyClosure("d")
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, closure)

	assert.Empty(t, diamondGraph().DependencyClosure("a"))
}

func TestGraph_DependentsClosure(t *testing.T) {
	impact := diamondGraph().DependentsClosure(map[string]bool{"b": true})
	assert.Equal(t, map[string]bool{"b": true, "d": true}, impact)

	// Changing the root impacts everything.
	impact = diamondGraph().DependentsClosure(map[string]bool{"a": true})
	assert.Len(t, impact, 4)

	// Changing a leaf impacts only itself.
	impact = diamondGraph().DependentsClosure(map[string]bool{"d": true})
	assert.Equal(t, map[string]bool{"d": true}, impact)
}
