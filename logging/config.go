package logging

import "github.com/pkg/errors"

// Config mirrors the teacher's services/logging/config.go shape: an output
// target plus a level, TOML-loadable from server.Config.
type Config struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

func NewConfig() Config {
	return Config{File: "STDERR", Level: "INFO"}
}

func (c Config) Validate() error {
	switch c.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return errors.Errorf("unknown logging level %q", c.Level)
	}
	return nil
}
