package gateway_test

import (
	"context"
	"slices"
	"testing"

	"github.com/dantte-lp/smgw/internal/gateway"
)

// TestRouterFanout verifies one send per (agent, whom) pair.
func TestRouterFanout(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	metrics := newRecordingMetrics()
	r := gateway.NewRouter(sender, "test", metrics, discardLogger())

	rcps := gateway.NewRecipientMap(map[string][]string{
		"a": {"r2", "r1"},
		"b": {"r3"},
	})

	if sent := r.Fanout(context.Background(), rcps, "<alice> hi", "alice"); sent != 3 {
		t.Fatalf("Fanout() = %d, want 3", sent)
	}

	want := []gateway.Message{
		{Body: "<alice> hi", Author: "alice", Agent: "a", Whom: "r1"},
		{Body: "<alice> hi", Author: "alice", Agent: "a", Whom: "r2"},
		{Body: "<alice> hi", Author: "alice", Agent: "b", Whom: "r3"},
	}
	if got := sender.Messages(); !slices.Equal(got, want) {
		t.Errorf("messages = %+v, want %+v", got, want)
	}
	if metrics.Count("forwarded/a") != 2 || metrics.Count("forwarded/b") != 1 {
		t.Errorf("forwarded counts = %d/%d, want 2/1",
			metrics.Count("forwarded/a"), metrics.Count("forwarded/b"))
	}
}

// TestRouterSendFailure verifies that a refused send is counted and does
// not stop the remaining sends.
func TestRouterSendFailure(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{failAgents: []string{"a"}}
	metrics := newRecordingMetrics()
	r := gateway.NewRouter(sender, "test", metrics, discardLogger())

	rcps := gateway.NewRecipientMap(map[string][]string{
		"a": {"r1"},
		"b": {"r2"},
	})

	if sent := r.Fanout(context.Background(), rcps, "x", "alice"); sent != 1 {
		t.Fatalf("Fanout() = %d, want 1", sent)
	}
	if metrics.Count("failed/a") != 1 {
		t.Errorf("failed/a = %d, want 1", metrics.Count("failed/a"))
	}
	if got := sender.Messages(); len(got) != 1 || got[0].Agent != "b" {
		t.Errorf("messages = %+v, want one message for agent b", got)
	}
}

func TestRecipientMap(t *testing.T) {
	t.Parallel()

	m := gateway.NewRecipientMap(map[string][]string{
		"telegram": {"-100", "-100", "42"},
		"log":      {"console"},
		"empty":    nil,
	})

	if got, want := m.Agents(), []string{"log", "telegram"}; !slices.Equal(got, want) {
		t.Errorf("Agents() = %v, want %v", got, want)
	}
	if got, want := m.Recipients("telegram"), []string{"-100", "42"}; !slices.Equal(got, want) {
		t.Errorf("Recipients(telegram) = %v, want %v", got, want)
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}
	if !m.Contains("42") || !m.Contains("console") {
		t.Error("Contains() = false for configured recipient")
	}
	if m.Contains("room1") {
		t.Error("Contains(room1) = true, want false")
	}
}
