package orderrepo

import "encoding/json"

// toJSONB marshals a metadata map for storage in a jsonb column. Marshal
// errors collapse to nil rather than failing the write: metadata is
// advisory passthrough data, never load-bearing for repository invariants.
func toJSONB(m map[string]any) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

func fromJSONB(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
