package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// envelope is the wire shape with the payload left undecoded, so the fileId can be
// read (and a FileState updated) before the potentially large payload is validated.
type envelope struct {
	FileID string          `json:"FileId"`
	Data   json.RawMessage `json:"Data"`
}

type wirePayload struct {
	Columns []string          `json:"Columns"`
	Rows    []json.RawMessage `json:"Rows"`
}

// EncodeMessage serializes msg into the {FileId, Data} wire envelope.
func EncodeMessage(msg *IngestionMessage) ([]byte, error) {
	if msg.FileID == "" {
		return nil, fmt.Errorf("%w: message has no FileId", ErrPublish)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode message %s: %w", ErrPublish, msg.FileID, err)
	}

	return data, nil
}

// DecodeEnvelope extracts the fileId and the raw payload from a message body.
func DecodeEnvelope(body []byte) (string, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, fmt.Errorf("%w: envelope: %w", ErrDeserialization, err)
	}

	if env.FileID == "" {
		return "", nil, fmt.Errorf("%w: envelope has no FileId", ErrDeserialization)
	}

	return env.FileID, env.Data, nil
}

// DecodePayload decodes and validates the Data part of an envelope.
//
// Columns must be unique and non-empty. Each row must be a JSON object whose values
// are strings, numbers, booleans or null. Row keys outside Columns are dropped.
func DecodePayload(data json.RawMessage) (*TabularPayload, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, fmt.Errorf("%w: payload is missing", ErrDeserialization)
	}

	var wire wirePayload
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrDeserialization, err)
	}

	if len(wire.Columns) == 0 {
		return nil, fmt.Errorf("%w: payload has no columns", ErrDeserialization)
	}

	known := make(map[string]struct{}, len(wire.Columns))

	for _, col := range wire.Columns {
		if col == "" {
			return nil, fmt.Errorf("%w: payload has an empty column name", ErrDeserialization)
		}

		if _, dup := known[col]; dup {
			return nil, fmt.Errorf("%w: payload repeats column %q", ErrDeserialization, col)
		}

		known[col] = struct{}{}
	}

	rows := make([]Row, 0, len(wire.Rows))

	for i, raw := range wire.Rows {
		row, err := decodeRow(raw, known)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrDeserialization, i, err)
		}

		rows = append(rows, row)
	}

	return &TabularPayload{Columns: wire.Columns, Rows: rows}, nil
}

func decodeRow(raw json.RawMessage, known map[string]struct{}) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}

	if fields == nil {
		return nil, errors.New("row is not an object")
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after row")
	}

	row := make(Row, len(known))

	for key, value := range fields {
		if _, ok := known[key]; !ok {
			continue
		}

		switch value.(type) {
		case nil, string, json.Number, bool:
			row[key] = value
		default:
			return nil, fmt.Errorf("column %q holds a nested value", key)
		}
	}

	return row, nil
}
