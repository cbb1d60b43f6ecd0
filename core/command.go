package core

import (
	"errors"

	"stagefw/protocol"
)

var ErrUnknownCommand = errors.New("unknown command opcode")

// CommandHandler executes one decoded request. It returns the reply argument
// and the outcome; most handlers reply with the outcome's result code.
type CommandHandler func(cmd protocol.Command) (arg uint32, status Status)

// CommandRegistry maps opcodes to handlers.
// It is filled once at startup, so lookups need no locking.
type CommandRegistry struct {
	handlers [protocol.OpcodeCount]CommandHandler
	count    int
}

// Register installs handler for op, replacing any previous one
func (r *CommandRegistry) Register(op protocol.Opcode, handler CommandHandler) {
	if !op.Known() {
		return
	}
	if r.handlers[op] == nil && handler != nil {
		r.count++
	}
	r.handlers[op] = handler
}

// Lookup returns the handler for op
func (r *CommandRegistry) Lookup(op protocol.Opcode) (CommandHandler, bool) {
	if !op.Known() || r.handlers[op] == nil {
		return nil, false
	}
	return r.handlers[op], true
}

// Count returns the number of registered opcodes
func (r *CommandRegistry) Count() int {
	return r.count
}

// Dispatch runs the handler for cmd
func (r *CommandRegistry) Dispatch(cmd protocol.Command) (uint32, Status, error) {
	h, ok := r.Lookup(cmd.Opcode())
	if !ok {
		return protocol.ResultFailure, StatusFailure, ErrUnknownCommand
	}
	arg, status := h(cmd)
	return arg, status, nil
}

// result adapts a status-only operation to a CommandHandler return
func result(s Status) (uint32, Status) {
	return s.Result(), s
}
