package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogEntries(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		ids     []int64
		wantErr bool
	}{
		{name: "single object", input: `{"id":7,"message":"ok"}`, ids: []int64{7}},
		{name: "array", input: ` [{"id":1},{"id":2}] `, ids: []int64{1, 2}},
		{name: "numeric string id", input: `{"id":"12"}`, ids: []int64{12}},
		{name: "missing id", input: `{"message":"no id"}`, ids: []int64{0}},
		{name: "garbage id", input: `{"id":"abc"}`, ids: []int64{0}},
		{name: "fractional id", input: `{"id":1.5}`, ids: []int64{0}},
		{name: "empty", input: `  `, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "scalar", input: `42`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := ParseLogEntries([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			ids := make([]int64, 0, len(entries))
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestLogEntry_Fields(t *testing.T) {
	var e LogEntry
	require.NoError(t, json.Unmarshal([]byte(
		`{"id":3,"createdAt":"2024-05-01T10:00:00.5Z","kind":"progress","level":"warn","message":"lote 2","extra":{"n":1}}`,
	), &e))

	assert.Equal(t, int64(3), e.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 500_000_000, time.UTC), e.CreatedAt)
	assert.Equal(t, "progress", e.Kind())
	assert.Equal(t, "warn", e.Level())
	assert.Equal(t, "lote 2", e.Message())
	assert.Contains(t, e.Fields(), "extra")

	out, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, string(e.Payload), string(out))
}

func TestLogPage_Decode(t *testing.T) {
	var page LogPage
	require.NoError(t, json.Unmarshal([]byte(`{"items":[{"id":1},{"id":2}],"nextAfter":null}`), &page))
	assert.Len(t, page.Items, 2)
	assert.Nil(t, page.NextAfter)
}
