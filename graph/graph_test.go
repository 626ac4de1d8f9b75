package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, State) (State, error) { return State{}, nil }

func TestFreeze_Diamond(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddInputField("x", KindString))
	require.NoError(t, g.AddField("y", KindString))
	require.NoError(t, g.AddField("z", KindString))
	require.NoError(t, g.AddField("out", KindString))
	require.NoError(t, g.AddStage("start", "", nil, nil, noop))
	require.NoError(t, g.AddStage("b", "", []string{"start"}, []string{"z"}, noop))
	require.NoError(t, g.AddStage("a", "", []string{"start"}, []string{"y"}, noop))
	require.NoError(t, g.AddStage("c", "", []string{"b", "a", "a"}, []string{"out"}, noop))
	require.NoError(t, g.SetOutputField("out"))

	assert.False(t, g.Frozen())
	assert.Equal(t, []string{"start", "b", "a", "c"}, g.Stages())

	require.NoError(t, g.Freeze())
	assert.True(t, g.Frozen())
	assert.NoError(t, g.Freeze(), "freezing twice is a no-op")

	assert.Equal(t, "start", g.Source())
	assert.Equal(t, "c", g.Sink())
	assert.Equal(t, "out", g.OutputField())
	assert.Equal(t, []string{"start", "a", "b", "c"}, g.Stages())
	assert.Equal(t, []string{"a", "b"}, g.Dependencies("c"))
	assert.Equal(t, []string{"a", "b"}, g.Dependents("start"))
	assert.True(t, g.IsAncestor("start", "c"))
	assert.True(t, g.IsAncestor("a", "c"))
	assert.False(t, g.IsAncestor("a", "b"))
	assert.False(t, g.IsAncestor("c", "a"))

	assert.Equal(t, []string{"start"}, g.ReadyStages(map[string]bool{}, nil))
	assert.Equal(t, []string{"a", "b"}, g.ReadyStages(map[string]bool{"start": true}, nil))
	assert.Equal(t, []string{"b"}, g.ReadyStages(map[string]bool{"start": true}, map[string]bool{"a": true}))
	assert.Empty(t, g.ReadyStages(map[string]bool{"start": true, "a": true}, map[string]bool{"b": true}))

	f, ok := g.Field("x")
	require.True(t, ok)
	assert.True(t, f.Required)
	assert.Len(t, g.Fields(), 4)
}

func TestFreeze_FrozenGraphIsReadOnly(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddStage("only", "", nil, nil, noop))
	require.NoError(t, g.Freeze())

	assert.ErrorIs(t, g.AddStage("late", "", []string{"only"}, nil, noop), ErrGraphFrozen)
	assert.ErrorIs(t, g.AddField("late", KindString), ErrGraphFrozen)
	assert.ErrorIs(t, g.SetOutputField("late"), ErrGraphFrozen)
}

func TestAddStage_Errors(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddStage("a", "", nil, nil, noop))
	assert.ErrorIs(t, g.AddStage("a", "", nil, nil, noop), ErrDuplicateStage)
	assert.Error(t, g.AddStage("", "", nil, nil, noop))
	assert.Error(t, g.AddStage("nofn", "", nil, nil, nil))

	require.NoError(t, g.AddField("f", KindInt))
	assert.ErrorIs(t, g.AddField("f", KindString), ErrDuplicateField)
}

func TestFreeze_Cycle(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddStage("start", "", nil, nil, noop))
	require.NoError(t, g.AddStage("a", "", []string{"start", "c"}, nil, noop))
	require.NoError(t, g.AddStage("b", "", []string{"a"}, nil, noop))
	require.NoError(t, g.AddStage("c", "", []string{"b"}, nil, noop))
	require.NoError(t, g.AddStage("end", "", []string{"c"}, nil, noop))

	err := g.Freeze()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGraph)
	assert.False(t, g.Frozen())

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	require.Len(t, cycle.Path, 4)
	assert.Equal(t, cycle.Path[0], cycle.Path[3])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle.Path[:3])
	// every hop follows a dependency edge
	for i := 0; i < 3; i++ {
		assert.Contains(t, g.Dependencies(cycle.Path[i+1]), cycle.Path[i])
	}
}

func TestFreeze_SelfLoop(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddStage("a", "", []string{"a"}, nil, noop))

	var cycle *CycleError
	require.ErrorAs(t, g.Freeze(), &cycle)
	assert.Equal(t, []string{"a", "a"}, cycle.Path)
}

func TestFreeze_MultipleSources(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddStage("s1", "", nil, nil, noop))
	require.NoError(t, g.AddStage("s2", "", nil, nil, noop))
	require.NoError(t, g.AddStage("end", "", []string{"s1", "s2"}, nil, noop))

	err := g.Freeze()
	assert.ErrorIs(t, err, ErrInvalidGraph)
	var ms *MultipleSourcesError
	require.ErrorAs(t, err, &ms)
	assert.Equal(t, []string{"s1", "s2"}, ms.Stages)
}

func TestFreeze_MultipleSinks(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddStage("start", "", nil, nil, noop))
	require.NoError(t, g.AddStage("x", "", []string{"start"}, nil, noop))
	require.NoError(t, g.AddStage("y", "", []string{"start"}, nil, noop))

	err := g.Freeze()
	assert.ErrorIs(t, err, ErrInvalidGraph)
	var ms *MultipleSinksError
	require.ErrorAs(t, err, &ms)
	assert.Equal(t, []string{"x", "y"}, ms.Stages)
}

func TestFreeze_FieldConflict(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddField("verdict", KindString))
	require.NoError(t, g.AddStage("start", "", nil, nil, noop))
	require.NoError(t, g.AddStage("left", "", []string{"start"}, []string{"verdict"}, noop))
	require.NoError(t, g.AddStage("right", "", []string{"start"}, []string{"verdict"}, noop))
	require.NoError(t, g.AddStage("end", "", []string{"left", "right"}, nil, noop))

	err := g.Freeze()
	assert.ErrorIs(t, err, ErrInvalidGraph)
	var fc *FieldConflictError
	require.ErrorAs(t, err, &fc)
	assert.Equal(t, "verdict", fc.Field)
	assert.Equal(t, []string{"left", "right"}, fc.Stages)
}

func TestFreeze_OrderedWritersAllowed(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddField("draft", KindString))
	require.NoError(t, g.AddStage("start", "", nil, []string{"draft"}, noop))
	require.NoError(t, g.AddStage("edit", "", []string{"start"}, []string{"draft"}, noop))

	require.NoError(t, g.Freeze())
	assert.Equal(t, []string{"start", "edit"}, g.Writers("draft"))
}

func TestFreeze_UnknownReferences(t *testing.T) {
	t.Run("dependency", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.AddStage("a", "", []string{"ghost"}, nil, noop))
		err := g.Freeze()
		assert.ErrorIs(t, err, ErrInvalidGraph)
		assert.ErrorIs(t, err, ErrUnknownStage)
	})
	t.Run("write", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.AddStage("a", "", nil, []string{"ghost"}, noop))
		err := g.Freeze()
		assert.ErrorIs(t, err, ErrInvalidGraph)
		assert.ErrorIs(t, err, ErrUnknownField)
	})
	t.Run("output", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.AddStage("a", "", nil, nil, noop))
		require.NoError(t, g.SetOutputField("ghost"))
		assert.ErrorIs(t, g.Freeze(), ErrUnknownField)
	})
	t.Run("empty", func(t *testing.T) {
		err := NewGraph().Freeze()
		assert.ErrorIs(t, err, ErrInvalidGraph)
		assert.ErrorIs(t, err, ErrEmptyGraph)
	})
}

func TestNormalize(t *testing.T) {
	intField := Field{Name: "n", Kind: KindInt}
	strField := Field{Name: "s", Kind: KindString}

	for _, in := range []any{3, int64(3), float64(3), uint8(3)} {
		v, err := normalize(intField, in)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	}

	_, err := normalize(intField, 3.5)
	assert.ErrorIs(t, err, ErrFieldType)
	_, err = normalize(intField, "3")
	assert.ErrorIs(t, err, ErrFieldType)
	_, err = normalize(strField, nil)
	assert.ErrorIs(t, err, ErrFieldType)

	v, err := normalize(strField, "go")
	require.NoError(t, err)
	assert.Equal(t, "go", v)
}

func TestState_Accessors(t *testing.T) {
	s := State{"topic": "go", "rounds": 2}
	assert.Equal(t, "go", s.String("topic"))
	assert.Equal(t, "", s.String("rounds"))
	assert.Equal(t, 2, s.Int("rounds"))
	assert.True(t, s.Has("topic"))
	assert.False(t, s.Has("verdict"))
	assert.Equal(t, []string{"rounds", "topic"}, s.Keys())

	c := s.Clone()
	c["topic"] = "rust"
	assert.Equal(t, "go", s.String("topic"))

	var empty State
	assert.NotNil(t, empty.Clone())
}
