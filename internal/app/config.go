package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ModelPath string // .hcl file or gs:// URI

	Bench  bool
	Warmup int // -1 means "use the model's bench block"
	Runs   int // -1 means "use the model's bench block"

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("ModelPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
