package telemetry

import "codeberg.org/mutker/h2station/internal/errors"

const (
	defaultHours    = 7
	defaultDecimals = 3
)

type Config struct {
	// Hours is the number of hourly averages published per channel.
	Hours int
	// Decimals is the precision of every formatted reading.
	Decimals int
}

func DefaultConfig() Config {
	return Config{
		Hours:    defaultHours,
		Decimals: defaultDecimals,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Hours <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "average hours must be positive")
	}
	if c.Decimals < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "decimals must not be negative")
	}
	return nil
}

func boolToInt(v float64) int {
	if v != 0 {
		return 1
	}
	return 0
}
