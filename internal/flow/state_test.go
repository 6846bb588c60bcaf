package flow

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		want  State
	}{
		{StateEmpty, EventSelectImage, StatePreviewing},
		{StateEmpty, EventStartCapture, StateCapturing},
		{StateEmpty, EventDiscard, StateEmpty},
		{StateCapturing, EventTakePhoto, StatePreviewing},
		{StateCapturing, EventCancelCapture, StateEmpty},
		{StatePreviewing, EventSelectImage, StatePreviewing},
		{StatePreviewing, EventDiscard, StateEmpty},
		{StatePreviewing, EventSubmit, StateSubmitting},
		{StateSubmitting, EventSubmitSucceeded, StateDelivered},
		{StateSubmitting, EventSubmitFailed, StatePreviewing},
		{StateDelivered, EventDiscard, StateEmpty},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.event)
		if err != nil {
			t.Fatalf("%s on %s: unexpected error %v", tc.from, tc.event, err)
		}
		if got != tc.want {
			t.Fatalf("%s on %s: got %s, want %s", tc.from, tc.event, got, tc.want)
		}
	}
}

func TestTransitionLeaveFromAnyState(t *testing.T) {
	for _, s := range []State{StateEmpty, StateCapturing, StatePreviewing, StateSubmitting, StateDelivered} {
		got, err := Transition(s, EventLeave)
		if err != nil || got != StateEmpty {
			t.Fatalf("leave from %s: got %s, %v", s, got, err)
		}
	}
}

func TestTransitionRejectsDuplicateSubmit(t *testing.T) {
	got, err := Transition(StateSubmitting, EventSubmit)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got != StateSubmitting {
		t.Fatalf("state must not change on a refused submit, got %s", got)
	}
}

func TestTransitionRejectsInvalidPairs(t *testing.T) {
	invalid := []struct {
		from  State
		event Event
	}{
		{StateEmpty, EventSubmit},
		{StateEmpty, EventTakePhoto},
		{StateCapturing, EventSelectImage},
		{StateCapturing, EventSubmit},
		{StatePreviewing, EventStartCapture},
		{StateSubmitting, EventDiscard},
		{StateDelivered, EventSubmit},
	}
	for _, tc := range invalid {
		got, err := Transition(tc.from, tc.event)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s on %s: expected ErrInvalidTransition, got %v", tc.from, tc.event, err)
		}
		if got != tc.from {
			t.Fatalf("%s on %s: state changed to %s", tc.from, tc.event, got)
		}
	}
}

func TestStateMarshalText(t *testing.T) {
	text, err := StateSubmitting.MarshalText()
	if err != nil || string(text) != "submitting" {
		t.Fatalf("unexpected text %q, %v", text, err)
	}
}
