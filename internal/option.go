package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	dryRun    bool
	assumeYes bool
	promptIn  io.Reader
	promptOut io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithDryRun makes Run compute and report decisions without copying,
// recording, or logging anything.
func WithDryRun(dry bool) Option {
	return func(a *application) {
		a.dryRun = dry
	}
}

// WithAssumeYes skips the interactive confirmation before a merge run.
func WithAssumeYes(yes bool) Option {
	return func(a *application) {
		a.assumeYes = yes
	}
}

// WithPromptIO overrides where the confirmation prompt reads and writes,
// defaulting to stdin and stderr.
func WithPromptIO(in io.Reader, out io.Writer) Option {
	return func(a *application) {
		a.promptIn = in
		a.promptOut = out
	}
}
