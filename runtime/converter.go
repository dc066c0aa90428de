package runtime

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
)

// mapToStructFromYAML decodes a map into a struct using yaml tags.
// Extension configs arrive as strings, so weak typing turns "30" into an int
// and "30s" into a time.Duration.
func mapToStructFromYAML(m map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("failed to decode map to struct: %w", err)
	}

	return nil
}

// typedValues returns a copy of m where strings that look like booleans or
// numbers are converted, for use as an expression environment.
func typedValues(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			result[k] = typedValues(val)
		case string:
			result[k] = typedScalar(val)
		default:
			result[k] = val
		}
	}
	return result
}

func typedScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
