// Package estest provides Given-When-Then test fixtures for event-sourced
// aggregates. A fixture replays historical events to establish state, runs a
// command, and asserts on the raised events or the returned error.
package estest

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	chronicle "github.com/corvid-labs/chronicle"
)

// TB aliases testing.TB so fixtures can be exercised with a mock in tests.
type TB = testing.TB

// Fixture drives a Given-When-Then scenario against one aggregate.
type Fixture struct {
	t           TB
	aggregate   chronicle.Aggregate
	givenEvents []any
	result      error
	executed    bool
}

// Given sets up the aggregate with optional historical events. The events
// establish state through replay, exactly as loading from a stream would.
func Given(t TB, aggregate chronicle.Aggregate, events ...any) *Fixture {
	t.Helper()
	return &Fixture{
		t:           t,
		aggregate:   aggregate,
		givenEvents: events,
	}
}

// When executes a command function against the aggregate. The command
// function should call aggregate methods and return their error.
func (f *Fixture) When(commandFunc func() error) *Fixture {
	f.t.Helper()

	history := make([]chronicle.Event, len(f.givenEvents))
	streamID := chronicle.BuildStreamID(f.aggregate.AggregateType(), f.aggregate.AggregateID())
	for i, event := range f.givenEvents {
		history[i] = chronicle.Event{
			StreamID: streamID,
			Type:     chronicle.EventTypeOf(event),
			Data:     event,
			Version:  int64(i + 1),
		}
	}
	if err := chronicle.LoadFromHistory(f.aggregate, history); err != nil {
		f.t.Fatalf("failed to apply given events: %v", err)
	}

	f.result = commandFunc()
	f.executed = true

	return f
}

// Then asserts that the command succeeded and raised exactly the expected
// events, in order.
func (f *Fixture) Then(expectedEvents ...any) {
	f.t.Helper()
	f.requireExecuted("Then")

	if f.result != nil {
		f.t.Fatalf("expected success but got error: %v", f.result)
	}

	uncommitted := f.aggregate.UncommittedEvents()
	if len(uncommitted) != len(expectedEvents) {
		f.t.Fatalf("expected %d events, got %d.\nexpected: %+v\nactual: %+v",
			len(expectedEvents), len(uncommitted), expectedEvents, uncommitted)
	}

	for i, expected := range expectedEvents {
		if !reflect.DeepEqual(uncommitted[i], expected) {
			f.t.Errorf("event %d mismatch:\nexpected: %+v\nactual: %+v",
				i, expected, uncommitted[i])
		}
	}
}

// ThenError asserts that the command failed with the expected error.
func (f *Fixture) ThenError(expectedErr error) {
	f.t.Helper()
	f.requireExecuted("ThenError")

	if f.result == nil {
		f.t.Fatal("expected error but got success")
	}

	if !errors.Is(f.result, expectedErr) {
		f.t.Errorf("expected error %v, got %v", expectedErr, f.result)
	}

	if len(f.aggregate.UncommittedEvents()) > 0 {
		f.t.Errorf("rejected command must not raise events, got %d", len(f.aggregate.UncommittedEvents()))
	}
}

// ThenErrorContains asserts that the error message contains a substring.
func (f *Fixture) ThenErrorContains(substring string) {
	f.t.Helper()
	f.requireExecuted("ThenErrorContains")

	if f.result == nil {
		f.t.Fatal("expected error but got success")
	}

	if !strings.Contains(f.result.Error(), substring) {
		f.t.Errorf("expected error containing %q, got %q", substring, f.result.Error())
	}
}

// ThenNoEvents asserts that the command succeeded without raising events.
func (f *Fixture) ThenNoEvents() {
	f.t.Helper()
	f.requireExecuted("ThenNoEvents")

	if f.result != nil {
		f.t.Fatalf("expected success but got error: %v", f.result)
	}

	if uncommitted := f.aggregate.UncommittedEvents(); len(uncommitted) > 0 {
		f.t.Errorf("expected no events, got %d: %+v", len(uncommitted), uncommitted)
	}
}

// ThenVersion asserts the aggregate reached the expected version.
func (f *Fixture) ThenVersion(expected int64) *Fixture {
	f.t.Helper()
	f.requireExecuted("ThenVersion")

	if got := f.aggregate.Version(); got != expected {
		f.t.Errorf("expected version %d, got %d", expected, got)
	}
	return f
}

func (f *Fixture) requireExecuted(method string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("estest: %s() must be called after When() - no command was executed", method)
	}
}
