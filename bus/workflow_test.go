package bus_test

import (
	"context"
	"testing"

	"github.com/relaycore/edgehost/bus"
	"github.com/stretchr/testify/require"
)

// TestWorkflow_Composition exercises spec.md §8 scenario 3:
// Sequential(Condition(pred=true, Action(A->true)), Parallel(Action(B->true), Action(C->false))).
func TestWorkflow_Composition(t *testing.T) {
	a := bus.NewActionStep("A", func(ctx context.Context, ev bus.Event) bool { return true })
	cond := bus.NewConditionStep("cond", func(ctx context.Context, ev bus.Event) bool { return true }, a)

	b := bus.NewActionStep("B", func(ctx context.Context, ev bus.Event) bool { return true })
	c := bus.NewActionStep("C", func(ctx context.Context, ev bus.Event) bool { return false })
	par := bus.NewParallelStep("par", b, c)

	root := bus.NewSequentialStep("root", cond, par)

	ok := root.Execute(context.Background(), bus.NewEvent(bus.Custom, "test", ""))

	require.False(t, ok)
	require.Equal(t, bus.StatusFailed, root.Status())
	require.Equal(t, bus.StatusCompleted, a.Status())
	require.Equal(t, bus.StatusCompleted, b.Status())
	require.Equal(t, bus.StatusFailed, c.Status())
}

func TestWorkflow_ConditionFalseSkipsChildren(t *testing.T) {
	ran := false
	child := bus.NewActionStep("child", func(ctx context.Context, ev bus.Event) bool {
		ran = true
		return true
	})
	cond := bus.NewConditionStep("cond", func(ctx context.Context, ev bus.Event) bool { return false }, child)

	ok := cond.Execute(context.Background(), bus.NewEvent(bus.Custom, "", ""))

	require.True(t, ok)
	require.Equal(t, bus.StatusSkipped, cond.Status())
	require.False(t, ran)
	require.Equal(t, bus.StatusPending, child.Status())
}

func TestWorkflow_SequentialStopsAtFirstFailure(t *testing.T) {
	var ranThird bool
	first := bus.NewActionStep("first", func(ctx context.Context, ev bus.Event) bool { return true })
	second := bus.NewActionStep("second", func(ctx context.Context, ev bus.Event) bool { return false })
	third := bus.NewActionStep("third", func(ctx context.Context, ev bus.Event) bool {
		ranThird = true
		return true
	})
	seq := bus.NewSequentialStep("seq", first, second, third)

	ok := seq.Execute(context.Background(), bus.NewEvent(bus.Custom, "", ""))

	require.False(t, ok)
	require.Equal(t, bus.StatusCompleted, first.Status())
	require.Equal(t, bus.StatusFailed, second.Status())
	require.Equal(t, bus.StatusPending, third.Status())
	require.False(t, ranThird)
}

func TestWorkflow_ResetReturnsTreeToPending(t *testing.T) {
	leaf := bus.NewActionStep("leaf", func(ctx context.Context, ev bus.Event) bool { return true })
	root := bus.NewSequentialStep("root", leaf)

	root.Execute(context.Background(), bus.NewEvent(bus.Custom, "", ""))
	require.Equal(t, bus.StatusCompleted, root.Status())

	root.Reset()
	require.Equal(t, bus.StatusPending, root.Status())
	require.Equal(t, bus.StatusPending, leaf.Status())
}

func TestWorkflow_ResetThenExecuteEqualsFreshExecute(t *testing.T) {
	build := func() *bus.WorkflowStep {
		leaf := bus.NewActionStep("leaf", func(ctx context.Context, ev bus.Event) bool { return true })
		return bus.NewSequentialStep("root", leaf)
	}
	ev := bus.NewEvent(bus.Custom, "", "")

	used := build()
	used.Execute(context.Background(), ev)
	used.Reset()
	used.Execute(context.Background(), ev)

	fresh := build()
	fresh.Execute(context.Background(), ev)

	require.Equal(t, fresh.Status(), used.Status())
}
