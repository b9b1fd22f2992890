package hash

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Hashes travel as hex text in JSON and as byte strings in CBOR frames.

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return fmt.Errorf("decoding hash %q: %w", text, err)
	}
	*h = parsed
	return nil
}

func (h Hash) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(h[:])
}

func (h *Hash) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromBytes(raw)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
