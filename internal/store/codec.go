package store

import "github.com/goccy/go-json"

func encodeDocument(value any) ([]byte, error) {
	return json.Marshal(value)
}

func decodeDocument(payload []byte, target any) error {
	return json.Unmarshal(payload, target)
}
