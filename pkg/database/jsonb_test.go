package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB_ScanValue(t *testing.T) {
	src := NewJSONB(map[string]any{"baseUrl": "https://acme.atlassian.net"})
	raw, err := src.Value()
	require.NoError(t, err)

	var dst JSONB[map[string]any]
	require.NoError(t, dst.Scan(raw))
	assert.Equal(t, "https://acme.atlassian.net", dst.Data["baseUrl"])

	require.NoError(t, dst.Scan(`{"teamId":"T1"}`))
	assert.Equal(t, "T1", dst.Data["teamId"])
}

func TestJSONB_ScanNull(t *testing.T) {
	dst := NewJSONB(map[string]any{"stale": true})
	require.NoError(t, dst.Scan(nil))
	assert.Nil(t, dst.Data)
}

func TestJSONB_ScanRejectsOtherTypes(t *testing.T) {
	var dst JSONB[map[string]any]
	assert.Error(t, dst.Scan(42))
}
