package fieldbus

import (
	"context"
	"encoding/binary"
	"sync"

	"codeberg.org/mutker/h2station/internal/config"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/register"
	"github.com/goburrow/modbus"
)

// MaxReadRegisters is the protocol limit for one holding-register read.
const MaxReadRegisters = 125

type ModbusReader struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  registerClient
	start   int
	log     logger.Logger
}

// Dial connects to the controller. A failure here is a bootstrap error.
func Dial(cfg config.FieldbusConfig, log logger.Logger) (*ModbusReader, error) {
	errFactory := errors.New()

	if cfg.Count != register.FrameSize {
		return nil, errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Want  int
			Got   int
		}{"fieldbus.count", register.FrameSize, cfg.Count})
	}

	handler := modbus.NewTCPClientHandler(cfg.Address)
	handler.Timeout = cfg.Timeout
	handler.SlaveId = byte(cfg.SlaveID)

	if err := handler.Connect(); err != nil {
		return nil, errFactory.Wrap(ErrConnect, err)
	}

	log.Info().Str("address", cfg.Address).Int("slave_id", cfg.SlaveID).Msg("Modbus connected")

	return &ModbusReader{
		handler: handler,
		client:  modbus.NewClient(handler),
		start:   cfg.Start,
		log:     log,
	}, nil
}

func (r *ModbusReader) ReadFrame(ctx context.Context) (*register.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var f register.Frame
	if err := readRegisters(ctx, r.client, r.start, f[:]); err != nil {
		return nil, err
	}

	return &f, nil
}

// ReadRegisters reads count holding registers starting at start.
func (r *ModbusReader) ReadRegisters(ctx context.Context, start, count int) ([]uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint16, count)
	if err := readRegisters(ctx, r.client, start, out); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *ModbusReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handler == nil {
		return nil
	}

	if err := r.handler.Close(); err != nil {
		return errors.New().Wrap(ErrClose, err)
	}
	r.handler = nil

	return nil
}

// readRegisters fills dst in blocks of at most MaxReadRegisters.
func readRegisters(ctx context.Context, client registerClient, start int, dst []uint16) error {
	errFactory := errors.New()

	for off := 0; off < len(dst); off += MaxReadRegisters {
		if err := ctx.Err(); err != nil {
			return errFactory.Wrap(ErrRead, err)
		}

		n := min(MaxReadRegisters, len(dst)-off)
		addr := start + off

		raw, err := client.ReadHoldingRegisters(uint16(addr), uint16(n))
		if err != nil {
			return errFactory.WithData(ErrRead, struct {
				Address int
				Error   string
			}{addr, err.Error()})
		}
		if len(raw) != 2*n {
			return errFactory.WithData(ErrShortRead, struct {
				Address int
				Want    int
				Got     int
			}{addr, 2 * n, len(raw)})
		}

		for i := 0; i < n; i++ {
			dst[off+i] = binary.BigEndian.Uint16(raw[2*i:])
		}
	}

	return nil
}
