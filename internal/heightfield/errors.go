package heightfield

import (
	"fmt"

	"brickstream.ai/internal/config"
)

// ConfigError reports a height source that cannot be used. It is fatal at
// startup and matches config.ErrConfiguration.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("height field %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{config.ErrConfiguration, e.Err}
}
