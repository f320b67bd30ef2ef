package recordstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// InsertPayload is the decoded body of a row-insert notification.
type InsertPayload struct {
	Table  string         `json:"table"`
	Type   string         `json:"type"`
	Record map[string]any `json:"record"`
}

type realtimeEnvelope struct {
	InsertPayload
	Data *InsertPayload `json:"data"`
}

// DecodeInsert parses a notification body. Both the flat trigger shape
// {"record":{...}} and the realtime shape {"data":{"record":{...}}} are
// accepted.
func DecodeInsert(raw []byte) (InsertPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var env realtimeEnvelope
	if err := dec.Decode(&env); err != nil {
		return InsertPayload{}, fmt.Errorf("decode insert payload: %w", err)
	}
	if env.Data != nil && len(env.Data.Record) > 0 {
		return *env.Data, nil
	}
	return env.InsertPayload, nil
}

// RecordID returns the inserted row's id as a string, or "" when absent.
func (p InsertPayload) RecordID() string {
	v, ok := p.Record["id"]
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

func encodeInsert(table, id string) []byte {
	b, _ := json.Marshal(InsertPayload{
		Table:  table,
		Type:   "INSERT",
		Record: map[string]any{"id": id},
	})
	return b
}
