package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/drivethru/internal/kiosk"
	"github.com/ent0n29/drivethru/internal/session"
)

// MessageType identifies renderer websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeKioskState    MessageType = "kiosk_state"
	TypeModelVolume   MessageType = "model_volume"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Control actions a renderer may send.
const (
	ActionStart          = "start"
	ActionStop           = "stop"
	ActionToggle         = "toggle"
	ActionIngredientDone = "ingredient_done"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type         MessageType `json:"type"`
	Action       string      `json:"action"`
	IngredientID string      `json:"ingredient_id,omitempty"`
	TSMs         int64       `json:"ts_ms,omitempty"`
}

type KioskState struct {
	Type    MessageType      `json:"type"`
	Kiosk   kiosk.Snapshot   `json:"kiosk"`
	Session *session.Session `json:"session,omitempty"`
}

// ModelVolume drives the speaker grill animation between state pushes.
type ModelVolume struct {
	Type  MessageType `json:"type"`
	Level float64     `json:"level"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionStart, ActionStop, ActionToggle:
		case ActionIngredientDone:
			if msg.IngredientID == "" {
				return nil, errors.New("invalid client_control: ingredient_id is required")
			}
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
