package metrics

import (
	"net"

	"codeberg.org/mutker/h2station/internal/errors"
)

const (
	defaultPath      = "/metrics"
	namespace        = "h2station"
	shutdownDeadline = 5
)

type Config struct {
	// Listen is the host:port of the endpoint. Empty disables it.
	Listen string
	Path   string
}

func DefaultConfig() Config {
	return Config{
		Path: defaultPath,
	}
}

func (c Config) Enabled() bool {
	return c.Listen != ""
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the address if metrics are enabled
	if !c.Enabled() {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errFactory.Wrap(ErrInvalidListen, err)
	}
	return nil
}
