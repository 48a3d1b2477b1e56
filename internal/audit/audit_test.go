package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPixelAppliedPopulatesFields(t *testing.T) {
	now := time.Now().UTC()
	e := NewPixelApplied(now, "u1", "1.2.3.4", 10, 20, "#FF0000", "brush")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, ActionPixelApplied, e.Action)
	assert.Equal(t, 10, e.Details.X)
	assert.Equal(t, 20, e.Details.Y)
	assert.Equal(t, "#FF0000", e.Details.Color)
	assert.Equal(t, "brush", e.Details.Tool)
	assert.Equal(t, "1.2.3.4", e.IP)
}

func TestNewPixelAppliedGeneratesUniqueIDs(t *testing.T) {
	now := time.Now().UTC()
	a := NewPixelApplied(now, "", "", 0, 0, "#000000", "eraser")
	b := NewPixelApplied(now, "", "", 0, 0, "#000000", "eraser")
	assert.NotEqual(t, a.ID, b.ID)
}
