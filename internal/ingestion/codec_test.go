package ingestion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessage(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("wire shape", func(t *testing.T) {
		body, err := EncodeMessage(&IngestionMessage{
			FileID: "f-1",
			Data: TabularPayload{
				Columns: []string{"email", "age"},
				Rows:    []Row{{"email": "a@example.com", "age": nil}},
			},
		})
		require.NoError(t, err)

		assert.JSONEq(t,
			`{"FileId":"f-1","Data":{"Columns":["email","age"],"Rows":[{"email":"a@example.com","age":null}]}}`,
			string(body))
	})

	t.Run("requires a file id", func(t *testing.T) {
		_, err := EncodeMessage(&IngestionMessage{})
		assert.ErrorIs(t, err, ErrPublish)
	})
}

func TestDecodeEnvelope(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fileID, raw, err := DecodeEnvelope([]byte(`{"FileId":"f-1","Data":{"Columns":["a"],"Rows":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "f-1", fileID)
	assert.JSONEq(t, `{"Columns":["a"],"Rows":[]}`, string(raw))

	_, _, err = DecodeEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrDeserialization)

	_, _, err = DecodeEnvelope([]byte(`{"Data":{}}`))
	assert.ErrorIs(t, err, ErrDeserialization)
}

func TestDecodePayload(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("scalar values and unknown keys", func(t *testing.T) {
		payload, err := DecodePayload(json.RawMessage(
			`{"Columns":["email","age","active"],"Rows":[{"email":"a@b","age":42,"active":true,"extra":"x"}]}`))
		require.NoError(t, err)

		row := payload.Rows[0]
		assert.Equal(t, "a@b", row["email"])
		assert.Equal(t, json.Number("42"), row["age"])
		assert.Equal(t, true, row["active"])
		assert.NotContains(t, row, "extra")
	})

	t.Run("round trip through the encoder", func(t *testing.T) {
		original := TabularPayload{
			Columns: []string{"email", "zip"},
			Rows:    []Row{{"email": "a@b", "zip": "00123"}, {"email": "c@d", "zip": nil}},
		}

		body, err := EncodeMessage(&IngestionMessage{FileID: "f", Data: original})
		require.NoError(t, err)

		_, raw, err := DecodeEnvelope(body)
		require.NoError(t, err)

		decoded, err := DecodePayload(raw)
		require.NoError(t, err)
		assert.Equal(t, original, *decoded)
	})

	invalid := map[string]string{
		"missing":          ``,
		"null":             `null`,
		"not an object":    `[1,2]`,
		"no columns":       `{"Columns":[],"Rows":[]}`,
		"empty column":     `{"Columns":[""],"Rows":[]}`,
		"duplicate column": `{"Columns":["a","a"],"Rows":[]}`,
		"row not object":   `{"Columns":["a"],"Rows":[[1]]}`,
		"nested value":     `{"Columns":["a"],"Rows":[{"a":{"b":1}}]}`,
		"null row":         `{"Columns":["a"],"Rows":[null]}`,
	}

	for name, body := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePayload(json.RawMessage(body))
			assert.ErrorIs(t, err, ErrDeserialization)
		})
	}
}

func TestCellText(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cases := []struct {
		in     any
		want   string
		wantOK bool
	}{
		{nil, "", false},
		{"00123", "00123", true},
		{json.Number("12.50"), "12.50", true},
		{true, "true", true},
		{float64(3.5), "3.5", true},
		{7, "7", true},
	}

	for _, c := range cases {
		got, ok := CellText(c.in)
		assert.Equal(t, c.wantOK, ok)
		assert.Equal(t, c.want, got)
	}
}
