package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"gamechat/errors"
)

// envelope is the wire shape shared by all inbound frames.
type envelope struct {
	Type   string `json:"type"`
	Room   string `json:"room,omitempty"`
	To     string `json:"to,omitempty"`
	Body   string `json:"body,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// Command is an inbound client intent, decoded and shape-checked.
// Body bounds are not checked here: an empty or oversized body is a
// recoverable InvalidMessage, not a schema violation.
type Command interface {
	Name() string
}

// Identifier fields exclude ':' (0x3A): it is the separator of the storage
// key scheme.

type JoinCommand struct {
	Room string `validate:"required,max=64,excludesall=:"`
}

func (JoinCommand) Name() string { return "join" }

type ChannelCommand struct {
	Room string `validate:"required,max=64,excludesall=:"`
	Body string
}

func (ChannelCommand) Name() string { return "channel" }

type DMCommand struct {
	To   string `validate:"required,max=128,excludesall=:"`
	Body string
}

func (DMCommand) Name() string { return "dm" }

type BlockCommand struct {
	UserID string `validate:"required,max=128,excludesall=:"`
}

func (BlockCommand) Name() string { return "block" }

var validate = validator.New()

// ParseCommand decodes a raw inbound frame into a Command.
// Any schema violation (bad JSON, unknown type, missing field) maps to
// ErrMalformedCommand.
func ParseCommand(raw []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedCommand, err)
	}

	var cmd Command
	switch env.Type {
	case "join":
		cmd = JoinCommand{Room: env.Room}
	case "channel":
		cmd = ChannelCommand{Room: env.Room, Body: env.Body}
	case "dm":
		cmd = DMCommand{To: env.To, Body: env.Body}
	case "block":
		cmd = BlockCommand{UserID: env.UserID}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errors.ErrMalformedCommand, env.Type)
	}

	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedCommand, err)
	}
	return cmd, nil
}
