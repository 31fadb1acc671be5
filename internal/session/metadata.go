package session

import (
	"encoding/json"

	"github.com/aurorabench/converge-backend/internal/model"
)

func marshalMetadata(v any) ([]byte, error) {
	switch m := v.(type) {
	case *model.MessageMetadata:
		if m == nil {
			return nil, nil
		}
		return json.Marshal(m)
	case map[string]any:
		if m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(m)
	default:
		return json.Marshal(v)
	}
}

func unmarshalMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func unmarshalMessageMetadata(b []byte) (*model.MessageMetadata, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m model.MessageMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
