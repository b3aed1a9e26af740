package fieldbus

import (
	"context"

	"codeberg.org/mutker/h2station/internal/register"
)

// Reader acquires one register frame per call.
type Reader interface {
	ReadFrame(ctx context.Context) (*register.Frame, error)
	Close() error
}

// registerClient is the subset of modbus.Client used for block reads.
type registerClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}
