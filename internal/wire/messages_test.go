package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInboundPixelUpdate(t *testing.T) {
	raw := []byte(`{"type":"pixel:update","data":{"x":100,"y":200,"color":"#FF0000","tool":"brush","clientTimestamp":"2024-01-01T00:00:00Z","userId":"u1"}}`)
	msg := DecodeInbound(raw)

	require.Equal(t, TypePixelUpdate, msg.Kind)
	assert.Equal(t, 100, msg.PixelUpdate.X)
	assert.Equal(t, 200, msg.PixelUpdate.Y)
	assert.Equal(t, "#FF0000", msg.PixelUpdate.Color)
	assert.Equal(t, "brush", msg.PixelUpdate.Tool)
	require.NotNil(t, msg.PixelUpdate.UserID)
	assert.Equal(t, "u1", *msg.PixelUpdate.UserID)
}

func TestDecodeInboundHeartbeat(t *testing.T) {
	msg := DecodeInbound([]byte(`{"type":"heartbeat"}`))
	assert.Equal(t, TypeHeartbeat, msg.Kind)
	assert.False(t, msg.Unknown)
}

func TestDecodeInboundUnknownType(t *testing.T) {
	msg := DecodeInbound([]byte(`{"type":"pixel:teleport","data":{}}`))
	assert.True(t, msg.Unknown)
}

func TestDecodeInboundMalformedJSON(t *testing.T) {
	msg := DecodeInbound([]byte(`{not json`))
	assert.True(t, msg.Unknown)
}

func TestDecodeInboundPixelUpdateBadDataShape(t *testing.T) {
	msg := DecodeInbound([]byte(`{"type":"pixel:update","data":"not an object"}`))
	assert.True(t, msg.Unknown)
}

func TestParseClientTimestamp(t *testing.T) {
	got := ParseClientTimestamp("2024-01-01T00:00:00Z")
	assert.Equal(t, 2024, got.Year())

	assert.True(t, ParseClientTimestamp("").IsZero())
	assert.True(t, ParseClientTimestamp("not-a-timestamp").IsZero())
}

func TestNewPixelBulkUpdateRoundTrip(t *testing.T) {
	now := ParseClientTimestamp("2024-01-01T00:00:00Z")
	frame := NewPixelBulkUpdate([]BulkPixel{{X: 1, Y: 2, Color: "#FFFFFF"}}, "deadbeef", now)

	data, err := MarshalFrame(frame)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"pixel:bulk_update"`)
	assert.Contains(t, string(data), `"hash":"deadbeef"`)
}

func TestNewPixelRejectOmitsNilCoordinates(t *testing.T) {
	frame := NewPixelReject("invalid", ParseClientTimestamp("2024-01-01T00:00:00Z"), nil, nil)
	data, err := MarshalFrame(frame)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"x"`)
}
