package events

import (
	"fmt"
	"testing"
	"time"
)

func taskEvent(id string) TaskStartedEvent {
	return TaskStartedEvent{ID: id, Title: "test", Agent: "coder", Timestamp: time.Now()}
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Errorf("unexpected event %s", ev.EventType())
	default:
	}
}

func TestPublishRoutesByTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 4)
	dagCh := bus.Subscribe(TopicDAG, 4)

	bus.Publish(taskEvent("t1"))
	bus.Publish(DAGProgressEvent{DagID: "d1", Total: 3, Completed: 1, Running: 1, Pending: 1, Timestamp: time.Now()})

	if got := recv(t, taskCh); got.EventType() != EventTypeTaskStarted {
		t.Errorf("task topic got %s", got.EventType())
	}
	if got := recv(t, dagCh); got.EventType() != EventTypeDAGProgress {
		t.Errorf("dag topic got %s", got.EventType())
	}

	// Neither channel sees the other topic's event.
	assertEmpty(t, taskCh)
	assertEmpty(t, dagCh)
}

func TestTopicDerivation(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{EventTypeTaskStarted, TopicTask},
		{EventTypeDAGProgress, TopicDAG},
		{EventTypeNodeWaitingApproval, TopicDAG},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		if got := Topic(tt.eventType); got != tt.want {
			t.Errorf("Topic(%q) = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}

func TestNodeEventsRouteToDAGTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	dagCh := bus.Subscribe(TopicDAG, 4)
	bus.Publish(NodeStartedEvent{DagID: "d1", NodeID: "n1", Name: "build", Type: "task", Timestamp: time.Now()})

	if got := recv(t, dagCh); got.EntityID() != "n1" {
		t.Errorf("entity = %s, want n1", got.EntityID())
	}
}

func TestFanout(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	first := bus.Subscribe(TopicTask, 4)
	second := bus.Subscribe(TopicTask, 4)
	all := bus.SubscribeAll(4)

	bus.Publish(taskEvent("t1"))

	for _, ch := range []<-chan Event{first, second, all} {
		if got := recv(t, ch); got.EntityID() != "t1" {
			t.Errorf("entity = %s, want t1", got.EntityID())
		}
	}
}

func TestSubscribeAllSpansTopics(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(4)

	bus.Publish(taskEvent("t1"))
	bus.Publish(NodeStartedEvent{DagID: "d1", NodeID: "n1", Name: "build", Type: "task", Timestamp: time.Now()})

	got := map[string]bool{}
	got[recv(t, all).EventType()] = true
	got[recv(t, all).EventType()] = true
	if !got[EventTypeTaskStarted] || !got[EventTypeNodeStarted] {
		t.Errorf("received %v, want both the task and the node event", got)
	}
}

func TestFullSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	for i := 0; i < 3; i++ {
		bus.Publish(taskEvent(fmt.Sprintf("t%d", i)))
	}

	if got := recv(t, ch); got.EntityID() != "t0" {
		t.Errorf("kept event = %s, want the first", got.EntityID())
	}
	assertEmpty(t, ch)
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 4)

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after Close")
	}

	// Publishing on a closed bus is a silent no-op.
	bus.Publish(taskEvent("late"))

	late := bus.Subscribe(TopicTask, 4)
	if _, ok := <-late; ok {
		t.Error("Subscribe on a closed bus returned an open channel")
	}
}
