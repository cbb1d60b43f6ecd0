package core

import (
	"errors"
	"testing"

	"stagefw/protocol"
)

func TestCommandRegistry(t *testing.T) {
	var registry CommandRegistry

	var called bool
	registry.Register(protocol.OpIdle, func(protocol.Command) (uint32, Status) {
		called = true
		return result(StatusSuccess)
	})
	registry.Register(protocol.Opcode(99), func(protocol.Command) (uint32, Status) {
		return result(StatusSuccess)
	})

	if registry.Count() != 1 {
		t.Errorf("Expected 1 registered command, got %d", registry.Count())
	}

	arg, status, err := registry.Dispatch(protocol.Idle{})
	if err != nil || arg != protocol.ResultSuccess || status != StatusSuccess {
		t.Errorf("Dispatch = %d, %v, %v", arg, status, err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	arg, status, err = registry.Dispatch(protocol.Unknown{Code: 99})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
	if arg != protocol.ResultFailure || status != StatusFailure {
		t.Errorf("unknown opcode reply = %#x, %v", arg, status)
	}

	if _, ok := registry.Lookup(protocol.OpStop); ok {
		t.Error("Lookup found an unregistered opcode")
	}
}
