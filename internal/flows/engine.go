package flows

import (
	"context"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
)

// Params are the inbound callback fields handed to the flow engine
// (keypad digits and whatever else the provider posted).
type Params map[string]string

// CallResponse is what the engine produced for one round-trip: the voice
// markup document to hand back to the provider verbatim, and the flow
// step that rendered it (the billing unit).
type CallResponse struct {
	Markup string
	StepID string
}

// Engine is the flow engine collaborator. Its execution semantics are
// external to this system: given an active call and the latest input, it
// returns the next voice document.
type Engine interface {
	HandleCall(ctx context.Context, call ivr.Call, input Params) (CallResponse, error)
}

// HangupEngine answers every call with the same terminal document. It
// stands in until a real flow engine is attached to the gateway.
type HangupEngine struct {
	Markup string
}

func (e HangupEngine) HandleCall(ctx context.Context, call ivr.Call, input Params) (CallResponse, error) {
	return CallResponse{Markup: e.Markup, StepID: "hangup"}, nil
}
