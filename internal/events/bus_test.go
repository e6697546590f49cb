package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe("")
	defer cancel()

	messages := []string{"one", "two", "three"}
	for _, m := range messages {
		bus.Publish(NewTaskProgress(SourceCLI, Context{}, TaskProgressPayload{Message: m}))
	}

	for _, want := range messages {
		select {
		case ev := <-ch:
			assert.Equal(t, want, ev.TaskProgress.Message)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusFiltersByAgent(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe("agent-a")
	defer cancel()

	bus.Publish(NewAdapterOutput(SourceAgentSupervisor, Context{AgentID: "agent-b"}, AdapterOutputPayload{Stream: "stdout", Line: "other"}))
	bus.Publish(NewAdapterOutput(SourceAgentSupervisor, Context{AgentID: "agent-a"}, AdapterOutputPayload{Stream: "stdout", Line: "mine"}))

	select {
	case ev := <-ch:
		assert.Equal(t, "mine", ev.AdapterOutput.Line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected extra event: %+v", ev)
		}
	default:
	}
}

func TestBusCancelIsIdempotent(t *testing.T) {
	bus := NewBus(nil)
	_, cancel := bus.Subscribe("")
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusCloseAgentStreams(t *testing.T) {
	bus := NewBus(nil)
	ch, _ := bus.Subscribe("agent-a")
	other, cancelOther := bus.Subscribe("agent-b")
	defer cancelOther()

	bus.Publish(NewTerminalOutcome(SourceAgentSupervisor, Context{AgentID: "agent-a"}, TerminalOutcomePayload{Outcome: OutcomeSuccess}))
	bus.CloseAgentStreams("agent-a")

	// Terminal event first, then closed channel.
	ev, ok := <-ch
	require.True(t, ok)
	assert.True(t, ev.IsTerminal())
	_, ok = <-ch
	assert.False(t, ok)

	assert.Equal(t, 1, bus.SubscriberCount())
	select {
	case <-other:
		t.Fatal("unrelated subscription must stay open")
	default:
	}
}

func TestBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(nil)
	_, cancel := bus.Subscribe("")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+16; i++ {
			bus.Publish(NewTaskProgress(SourceCLI, Context{}, TaskProgressPayload{Message: "m"}))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
