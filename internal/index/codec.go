package index

import "github.com/goccy/go-json"

func encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

func decode(payload []byte, target any) error {
	return json.Unmarshal(payload, target)
}
