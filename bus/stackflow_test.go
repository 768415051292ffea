package bus_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaycore/edgehost/bus"
	"github.com/stretchr/testify/require"
)

// TestStackFlow_DispatchOrder exercises spec.md §8 scenario 4: two
// handlers registered for the same tag fire in registration order.
func TestStackFlow_DispatchOrder(t *testing.T) {
	sf := bus.NewStackFlow("test", 16, nil)
	sf.Start()
	defer sf.Stop()

	var (
		mu    sync.Mutex
		order []string
		done  = make(chan struct{})
	)
	h1 := bus.NewHandlerFunc("h1", func(ev bus.Event) bool {
		mu.Lock()
		order = append(order, "h1")
		mu.Unlock()
		return true
	}, bus.Custom)
	h2 := bus.NewHandlerFunc("h2", func(ev bus.Event) bool {
		mu.Lock()
		order = append(order, "h2")
		mu.Unlock()
		close(done)
		return true
	}, bus.Custom)

	sf.RegisterHandler(bus.Custom, h1)
	sf.RegisterHandler(bus.Custom, h2)

	require.NoError(t, sf.PublishEvent(bus.NewEvent(bus.Custom, "src", "")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run in time")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"h1", "h2"}, order)
	require.Equal(t, uint64(1), sf.Processed())
}

// TestStackFlow_QueueFullRejectsPublish holds the worker inside a
// blocking handler so the bounded queue (capacity 1) can be driven
// full and the next publish observes spec.md §7's QueueFull.
func TestStackFlow_QueueFullRejectsPublish(t *testing.T) {
	sf := bus.NewStackFlow("full", 1, nil)
	gate := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	sf.RegisterHandler(bus.Custom, bus.NewHandlerFunc("blocker", func(ev bus.Event) bool {
		once.Do(func() { close(started) })
		<-gate
		return true
	}, bus.Custom))
	sf.Start()
	defer sf.Stop()
	defer func() {
		select {
		case <-gate:
		default:
			close(gate)
		}
	}()

	require.NoError(t, sf.PublishEvent(bus.NewEvent(bus.Custom, "", "")))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	require.NoError(t, sf.PublishEvent(bus.NewEvent(bus.Custom, "", "")))
	require.ErrorIs(t, sf.PublishEvent(bus.NewEvent(bus.Custom, "", "")), bus.ErrQueueFull)
}

func TestStackFlow_HandlerFailureContinuesDispatch(t *testing.T) {
	sf := bus.NewStackFlow("errs", 16, nil)
	sf.Start()
	defer sf.Stop()

	var calledSecond atomic.Bool
	done := make(chan struct{})

	sf.RegisterHandler(bus.Custom, bus.NewHandlerFunc("fails", func(ev bus.Event) bool {
		return false
	}, bus.Custom))
	sf.RegisterHandler(bus.Custom, bus.NewHandlerFunc("second", func(ev bus.Event) bool {
		calledSecond.Store(true)
		close(done)
		return true
	}, bus.Custom))

	require.NoError(t, sf.PublishEvent(bus.NewEvent(bus.Custom, "", "")))
	<-done
	require.True(t, calledSecond.Load())
	require.Equal(t, uint64(1), sf.Errors())
}

func TestStackFlow_UnregisterHandler(t *testing.T) {
	sf := bus.NewStackFlow("unreg", 16, nil)
	h := bus.NewHandlerFunc("h", func(ev bus.Event) bool { return true }, bus.Custom)
	sf.RegisterHandler(bus.Custom, h)
	require.True(t, sf.UnregisterHandler(bus.Custom, h))
	require.False(t, sf.UnregisterHandler(bus.Custom, h))
}

func TestStackFlow_ExecuteWorkflow(t *testing.T) {
	sf := bus.NewStackFlow("wf", 16, nil)
	leaf := bus.NewActionStep("leaf", func(ctx context.Context, ev bus.Event) bool { return true })
	sf.RegisterWorkflow("demo", bus.NewSequentialStep("root", leaf))

	ok, err := sf.ExecuteWorkflow(context.Background(), "demo", bus.NewEvent(bus.Custom, "", ""))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = sf.ExecuteWorkflow(context.Background(), "missing", bus.NewEvent(bus.Custom, "", ""))
	require.ErrorIs(t, err, bus.ErrWorkflowNotFound)
}
