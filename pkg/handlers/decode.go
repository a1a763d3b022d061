package handlers

import (
	"fmt"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// decode maps a message's fields onto a typed request struct. Weak typing
// tolerates transports that deliver numbers as strings or floats.
func decode(msg domain.Message, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(msg)); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}
