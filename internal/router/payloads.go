package router

import (
	"fmt"

	"classhub/pkg/types"
)

type classroomMessagePayload struct {
	Message     string   `json:"message" validate:"required,max=4096"`
	MessageType string   `json:"messageType" validate:"max=32"`
	RequiresAck bool     `json:"requiresAck"`
	StudentIDs  []string `json:"studentIds" validate:"dive,required"`
}

type timerControlPayload struct {
	Action  types.TimerOp      `json:"action" validate:"required,oneof=create start pause stop delete"`
	TimerID string             `json:"timerId" validate:"max=64"`
	Config  *types.TimerConfig `json:"config" validate:"-"`
}

type screenControlPayload struct {
	Action     string   `json:"action" validate:"required,oneof=lock_all unlock_all lock unlock"`
	StudentIDs []string `json:"studentIds" validate:"dive,required"`
	Message    string   `json:"message" validate:"max=1024"`
}

type emergencyPayload struct {
	Message string `json:"message" validate:"max=1024"`
	Active  *bool  `json:"active"`
}

type modeChangePayload struct {
	NewMode types.Mode `json:"newMode" validate:"required"`
}

type acknowledgmentPayload struct {
	MessageID string `json:"messageId" validate:"max=128"`
	Response  any    `json:"response,omitempty"`
}

type statusPayload struct {
	CurrentActivity *string `json:"currentActivity" validate:"omitempty,max=256"`
}

// decodePayload unmarshals env.Data into v and validates its tags.
func decodePayload(env *types.Envelope, v any) error {
	if err := env.DecodeData(v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	if err := types.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return nil
}

// mergeIDs unions payload ids with envelope target ids, keeping first-seen order.
func mergeIDs(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
