package logfx

// Config controls the daemon's structured logger, corresponding to the
// `log_*` keys of the top-level daemon config.
type Config struct {
	Level string `conf:"level" default:"info"`

	Stdout bool `conf:"stdout" default:"true"`
	Stderr bool `conf:"stderr" default:"false"`

	// PrettyColor enables ANSI coloring of console output. Disabled
	// automatically when Stdout is not a terminal.
	PrettyColor bool `conf:"pretty_color" default:"true"`
	AddSource   bool `conf:"add_source"   default:"false"`

	// RotatePath, when non-empty, additionally writes logs to a size/age
	// rotated file at this path.
	RotatePath string `conf:"rotate_path"`
	// RotateSizeMB is the max size of a single rotated log file, in MiB.
	RotateSizeMB int `conf:"rotate_size_mb" default:"100"`
	// RotateAgeDays is the max age a rotated log file is kept before pruning.
	RotateAgeDays int `conf:"rotate_age_days" default:"7"`

	OTLPEnabled bool `conf:"otlp_enabled" default:"false"`
}
