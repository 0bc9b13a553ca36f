package live

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"stockdesk/internal/watchlist"
)

// encodeView converts a view into a protobuf Struct using its JSON form, so
// the wire shape matches the REST API.
func encodeView(v watchlist.View) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling view: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshalling view: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("building struct: %w", err)
	}
	return s, nil
}

// decodeView is the inverse of encodeView.
func decodeView(s *structpb.Struct) (watchlist.View, error) {
	var v watchlist.View
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return v, fmt.Errorf("marshalling struct: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decoding view: %w", err)
	}
	return v, nil
}
