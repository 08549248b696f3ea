package audit

import (
	"encoding/json"
	"fmt"
)

// Canonicalize serializes an event to stable bytes: JSON with object keys
// in sorted order plus the variant tag. Two logically equal events always
// canonicalize identically, so event hashes are reproducible across
// processes and storage backends.
func Canonicalize(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	// Round-trip through a map: encoding/json writes map keys sorted.
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to normalize event: %w", err)
	}
	m["kind"] = string(e.EventKind())

	canonical, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize event: %w", err)
	}
	return canonical, nil
}
