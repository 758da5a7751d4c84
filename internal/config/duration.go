package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that round-trips through yaml as a string
// ("30s", "1h") while also accepting bare integers as seconds.
type Duration time.Duration

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML decodes either a duration string or an integer second count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value %q", value.Value)
}

// MarshalYAML emits the string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
