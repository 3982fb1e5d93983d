package agent

import (
	"github.com/mitchellh/mapstructure"
)

// decodeParams maps loosely-typed skill parameters onto a typed struct.
// Weak typing tolerates LLM-produced params where numbers arrive as strings.
func decodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(params)
}
