package recordstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInsert(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantID  string
		wantErr bool
	}{
		{"trigger shape numeric id", `{"table":"order_items","type":"INSERT","record":{"id":42,"order_id":"abc"}}`, "42", false},
		{"realtime shape", `{"data":{"record":{"id":"7f3c"}}}`, "7f3c", false},
		{"missing record", `{"table":"order_items"}`, "", false},
		{"null id", `{"record":{"id":null}}`, "", false},
		{"not json", `not-json`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeInsert([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.RecordID())
		})
	}
}

func TestEncodeInsertRoundTrip(t *testing.T) {
	p, err := DecodeInsert(encodeInsert(LineItemsTable, "99"))
	require.NoError(t, err)
	assert.Equal(t, "99", p.RecordID())
	assert.Equal(t, LineItemsTable, p.Table)
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, validIdentifier("order_items_insert"))
	assert.False(t, validIdentifier(""))
	assert.False(t, validIdentifier("1abc"))
	assert.False(t, validIdentifier("bad-name"))
}
