package config

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "H2STATION"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// Mode selects which branches of the pipeline a process drives
type Mode string

const (
	ModeAcquire Mode = "acquire"
	ModeAnalyze Mode = "analyze"
	ModeAll     Mode = "all"
)

// IsValid returns whether the mode is known
func (m Mode) IsValid() bool {
	switch m {
	case ModeAcquire, ModeAnalyze, ModeAll:
		return true
	default:
		return false
	}
}

// Acquires reports whether the mode polls the fieldbus
func (m Mode) Acquires() bool {
	return m == ModeAcquire || m == ModeAll
}

// Analyzes reports whether the mode evaluates alarms and statistics
func (m Mode) Analyzes() bool {
	return m == ModeAnalyze || m == ModeAll
}
