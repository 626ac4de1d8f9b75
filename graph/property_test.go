package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Property: Freeze succeeds iff the dependency relation is acyclic with one
// source, one sink and disjoint write sets among concurrent stages.
func TestProperty_FreezeAcceptsExactlyValidGraphs(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "stages")
		fields := []string{"f0", "f1", "f2"}

		deps := make([][]int, n)
		writes := make([][]string, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if rapid.IntRange(0, 3).Draw(rt, fmt.Sprintf("edge_%d_%d", i, j)) == 0 {
					deps[i] = append(deps[i], j)
				}
			}
			for _, f := range fields {
				if rapid.IntRange(0, 4).Draw(rt, fmt.Sprintf("write_%d_%s", i, f)) == 0 {
					writes[i] = append(writes[i], f)
				}
			}
		}

		g := NewGraph()
		for _, f := range fields {
			require.NoError(rt, g.AddField(f, KindString))
		}
		for i := 0; i < n; i++ {
			var names []string
			for _, j := range deps[i] {
				names = append(names, stageName(j))
			}
			require.NoError(rt, g.AddStage(stageName(i), "", names, writes[i], noop))
		}

		err := g.Freeze()
		valid := oracleValid(n, deps, writes)
		if valid {
			assert.NoError(rt, err)
			assert.True(rt, g.Frozen())
		} else {
			assert.Error(rt, err)
			assert.True(rt, errors.Is(err, ErrInvalidGraph))
			assert.False(rt, g.Frozen())
		}
	})
}

func stageName(i int) string { return fmt.Sprintf("s%d", i) }

// oracleValid checks graph validity with a transitive closure.
func oracleValid(n int, deps [][]int, writes [][]string) bool {
	reach := make([][]bool, n) // reach[a][b]: a must run before b
	for i := range reach {
		reach[i] = make([]bool, n)
	}
	for b := 0; b < n; b++ {
		for _, a := range deps[b] {
			reach[a][b] = true
		}
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if reach[i][k] && reach[k][j] {
					reach[i][j] = true
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		if reach[i][i] {
			return false
		}
	}

	sources, sinks := 0, 0
	for i := 0; i < n; i++ {
		if len(deps[i]) == 0 {
			sources++
		}
		hasDependent := false
		for j := 0; j < n; j++ {
			for _, d := range deps[j] {
				if d == i {
					hasDependent = true
				}
			}
		}
		if !hasDependent {
			sinks++
		}
	}
	if sources != 1 || sinks != 1 {
		return false
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if reach[i][j] || reach[j][i] {
				continue
			}
			for _, f := range writes[i] {
				for _, h := range writes[j] {
					if f == h {
						return false
					}
				}
			}
		}
	}
	return true
}

// Property: parallel branches merged in any completion order yield the same state.
func TestProperty_MergeOrderIndependence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := rapid.IntRange(1, 5).Draw(rt, "branches")
		values := make([]string, k)
		idx := make([]int, k)
		for i := range values {
			values[i] = rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, fmt.Sprintf("value_%d", i))
			idx[i] = i
		}
		order := rapid.Permutation(idx).Draw(rt, "completion_order")

		g := NewGraph()
		require.NoError(rt, g.AddInputField("seed", KindString))
		require.NoError(rt, g.AddField("total", KindInt))
		require.NoError(rt, g.AddStage("start", "", nil, nil, noop))

		gates := make([]chan struct{}, k)
		join := make([]string, k)
		for i := 0; i < k; i++ {
			field := fmt.Sprintf("branch_%d", i)
			require.NoError(rt, g.AddField(field, KindString))
			gates[i] = make(chan struct{})
			join[i] = field
			require.NoError(rt, g.AddStage(field, "", []string{"start"}, []string{field},
				gated(gates[i], State{field: values[i]})))
		}
		require.NoError(rt, g.AddStage("end", "", join, []string{"total"},
			func(_ context.Context, s State) (State, error) {
				total := 0
				for _, f := range join {
					total += len(s.String(f))
				}
				return State{"total": total}, nil
			}))

		r, err := g.Compile(nil)
		require.NoError(rt, err)

		events := r.Stream(context.Background(), "s", State{"seed": "x"})
		first := <-events
		require.Equal(rt, "start", first.Stage)
		for _, i := range order {
			close(gates[i])
			ev := <-events
			require.Equal(rt, fmt.Sprintf("branch_%d", i), ev.Stage)
		}
		require.Equal(rt, "end", (<-events).Stage)
		term := <-events
		require.Equal(rt, EventTerminal, term.Kind)

		want := State{"seed": "x"}
		total := 0
		for i, v := range values {
			want[fmt.Sprintf("branch_%d", i)] = v
			total += len(v)
		}
		want["total"] = total
		assert.Equal(rt, want, term.State)
	})
}
