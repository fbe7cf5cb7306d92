package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// Hex64 is a 64-bit address or value. It serializes as a lowercase
// 0x-prefixed string so consumers with 53-bit numbers do not lose bits.
type Hex64 uint64

func (h Hex64) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

func (h Hex64) Uint64() uint64 {
	return uint64(h)
}

func (h Hex64) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hex64) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("hex64: %w", err)
	}
	v, err := ParseHex64(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// JSONSchema describes Hex64 as a pattern-constrained string.
func (Hex64) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     "^0x[0-9a-f]+$",
		Description: "64-bit value as lowercase 0x-prefixed hexadecimal",
	}
}

// ParseHex64 accepts "0x1f" and "1f".
func ParseHex64(s string) (Hex64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("hex64: parse %q: %w", s, err)
	}
	return Hex64(v), nil
}

// FormatRange renders "[start, end)" as "0xstart - 0xend".
func FormatRange(start, end uint64) string {
	return fmt.Sprintf("%#x - %#x", start, end)
}
