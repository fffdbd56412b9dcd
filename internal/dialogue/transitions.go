package dialogue

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when the engine tries to take an edge that
// is not in the transition table.
var ErrIllegalTransition = errors.New("dialogue: illegal state transition")

// edges is the complete transition table. CheckAvailability is reachable
// only from ValidateSlot and Done has no outgoing edges.
var edges = map[State][]State{
	StateStart: {StateCaptureIntent},
	StateCaptureIntent: {
		StateCaptureIntent, StateCaptureMissingSlots, StateValidateSlot,
		StateCaptureEmail, StateConfirmEmail, StateDone,
	},
	StateCaptureMissingSlots: {
		StateCaptureMissingSlots, StateValidateSlot, StateCaptureEmail,
		StateConfirmEmail, StateCommitting, StateDone,
	},
	StateValidateSlot: {
		StateCaptureMissingSlots, StateCaptureEmail, StateConfirmEmail,
		StateOfferReschedule, StateCheckAvailability, StateDone,
	},
	StateCaptureEmail: {StateCaptureEmail, StateConfirmEmail, StateDone},
	StateConfirmEmail: {
		StateConfirmEmail, StateCaptureEmail, StateCaptureMissingSlots,
		StateValidateSlot, StateCommitting, StateDone,
	},
	StateOfferReschedule:   {StateOfferReschedule, StateValidateSlot, StateDone},
	StateCheckAvailability: {StateCommitting, StateAwaitSlotSelection, StateCaptureMissingSlots, StateDone},
	StateAwaitSlotSelection: {
		StateAwaitSlotSelection, StateValidateSlot, StateCaptureMissingSlots, StateDone,
	},
	StateCommitting: {StateNotifying, StateAwaitSlotSelection, StateCaptureMissingSlots, StateDone},
	StateNotifying:  {StateDone},
	StateDone:       nil,
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// awaitsInput reports states that suspend the call until the next utterance.
func (s State) awaitsInput() bool {
	switch s {
	case StateCaptureIntent, StateCaptureMissingSlots, StateCaptureEmail,
		StateConfirmEmail, StateOfferReschedule, StateAwaitSlotSelection:
		return true
	}
	return false
}

func illegal(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
