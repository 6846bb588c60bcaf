package flow

import (
	"errors"
	"fmt"
)

// State is a step of the capture/upload page.
type State int

const (
	StateEmpty State = iota
	StateCapturing
	StatePreviewing
	StateSubmitting
	// StateDelivered means the image was handed to the result page.
	StateDelivered
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateCapturing:
		return "capturing"
	case StatePreviewing:
		return "previewing"
	case StateSubmitting:
		return "submitting"
	case StateDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON views.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event drives a transition.
type Event int

const (
	EventSelectImage Event = iota
	EventStartCapture
	EventTakePhoto
	EventCancelCapture
	EventDiscard
	EventSubmit
	EventSubmitSucceeded
	EventSubmitFailed
	EventLeave
)

func (e Event) String() string {
	switch e {
	case EventSelectImage:
		return "select_image"
	case EventStartCapture:
		return "start_capture"
	case EventTakePhoto:
		return "take_photo"
	case EventCancelCapture:
		return "cancel_capture"
	case EventDiscard:
		return "discard"
	case EventSubmit:
		return "submit"
	case EventSubmitSucceeded:
		return "submit_succeeded"
	case EventSubmitFailed:
		return "submit_failed"
	case EventLeave:
		return "leave"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var (
	// ErrInvalidTransition is returned for an event the current state does not accept.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrBusy is returned for a submit while one is already in flight.
	ErrBusy = errors.New("submission already in progress")
)

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{StateEmpty, EventSelectImage}:          StatePreviewing,
	{StateEmpty, EventStartCapture}:         StateCapturing,
	{StateEmpty, EventDiscard}:              StateEmpty,
	{StateCapturing, EventTakePhoto}:        StatePreviewing,
	{StateCapturing, EventCancelCapture}:    StateEmpty,
	{StatePreviewing, EventSelectImage}:     StatePreviewing,
	{StatePreviewing, EventDiscard}:         StateEmpty,
	{StatePreviewing, EventSubmit}:          StateSubmitting,
	{StateSubmitting, EventSubmitSucceeded}: StateDelivered,
	{StateSubmitting, EventSubmitFailed}:    StatePreviewing,
	{StateDelivered, EventDiscard}:          StateEmpty,
}

// Transition returns the state reached from s on e. Leave is accepted from every state.
func Transition(s State, e Event) (State, error) {
	if e == EventLeave {
		return StateEmpty, nil
	}
	if s == StateSubmitting && e == EventSubmit {
		return s, ErrBusy
	}
	next, ok := transitions[transitionKey{from: s, event: e}]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
	}
	return next, nil
}
