// Package canvas holds the authoritative pixel bitmap and the types that
// flow through the edit pipeline (C1's in-memory counterpart, C8's subject).
package canvas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Tool selects what a PixelEdit writes at its coordinate.
type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// EraserRGB is the fixed color the eraser tool writes.
var EraserRGB = RGB{R: 255, G: 255, B: 255}

// RGB is an 8-bit-per-channel color.
type RGB struct {
	R, G, B byte
}

// ParseHexColor parses a "#RRGGBB" string (hex digits in either case).
func ParseHexColor(s string) (RGB, error) {
	if len(s) != 7 || s[0] != '#' {
		return RGB{}, fmt.Errorf("color must be 7 characters in #RRGGBB form, got %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return RGB{
		R: byte(v >> 16),
		G: byte(v >> 8),
		B: byte(v),
	}, nil
}

// String renders an RGB back to "#RRGGBB" (uppercase hex).
func (c RGB) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// PixelEdit is a single-pixel mutation request, validated at ingress and
// consumed by the Batcher/Applier.
type PixelEdit struct {
	X, Y            int
	Color           string // raw "#RRGGBB" as received; the broadcast carries the applied RGB re-rendered by RGB.String
	Tool            Tool
	ClientTimestamp time.Time
	UserID          string // empty means anonymous
	IP              string // originating connection's address, for audit

	// SubscriberID identifies the originating connection so a reject can be
	// routed back to it. It is never cleared; if that connection is no
	// longer registered, the Broadcaster drops the reject.
	SubscriberID uint64

	// Retries counts prior persistence-failure requeues of this edit
	// (spec.md §4.6's "retry up to a small count"). Zero for a fresh edit.
	Retries int
}

// Validate checks structural validity per spec.md §3/§4.1: coordinates in
// bounds, a well-formed color, and a recognized tool.
func (e PixelEdit) Validate(width, height int) error {
	if e.X < 0 || e.X >= width || e.Y < 0 || e.Y >= height {
		return fmt.Errorf("coordinate (%d,%d) out of bounds for %dx%d canvas", e.X, e.Y, width, height)
	}
	if _, err := ParseHexColor(e.Color); err != nil {
		return err
	}
	switch e.Tool {
	case ToolBrush, ToolEraser, "":
	default:
		return fmt.Errorf("unknown tool %q", e.Tool)
	}
	return nil
}

// Canvas is the server-authoritative W×H RGB raster. It is exclusively
// mutated by the Applier (C8); every other reader takes a copy through
// Applier.Snapshot, which reads the live canvas, not the Cache.
type Canvas struct {
	Width, Height int
	Bitmap        []byte // len == Width*Height*3
	Hash           string // lowercase hex SHA-256 of Bitmap
	LastUpdated    time.Time
}

// EmptyColor controls what New fills an uninitialized canvas with. The
// reference source is ambiguous here (§9 Open Questions); DESIGN.md records
// the resolution and config.Config.EmptyCanvasColor makes it explicit.
type EmptyColor int

const (
	EmptyBlack EmptyColor = iota
	EmptyWhite
)

// New allocates a zero-initialized (or white-initialized) canvas of the
// given dimensions and computes its initial hash.
func New(width, height int, fill EmptyColor) *Canvas {
	bitmap := make([]byte, width*height*3)
	if fill == EmptyWhite {
		for i := range bitmap {
			bitmap[i] = 255
		}
	}
	c := &Canvas{
		Width:       width,
		Height:      height,
		Bitmap:      bitmap,
		LastUpdated: time.Now().UTC(),
	}
	c.rehash()
	return c
}

// FromBytes reconstructs a Canvas from previously persisted bytes, verifying
// the supplied hash still matches (a defensive check against corruption in
// the Persistence tier).
func FromBytes(width, height int, bitmap []byte, hash string, lastUpdated time.Time) (*Canvas, error) {
	if len(bitmap) != width*height*3 {
		return nil, fmt.Errorf("bitmap length %d does not match %dx%d canvas", len(bitmap), width, height)
	}
	c := &Canvas{
		Width:       width,
		Height:      height,
		Bitmap:      bitmap,
		Hash:        hash,
		LastUpdated: lastUpdated,
	}
	if got := sha256Hex(c.Bitmap); got != hash {
		return nil, fmt.Errorf("persisted canvas hash mismatch: stored %s, computed %s", hash, got)
	}
	return c, nil
}

// offset returns the byte index of pixel (x,y); callers must bounds-check.
func (c *Canvas) offset(x, y int) int {
	return (y*c.Width + x) * 3
}

// Set writes a pixel in place. Callers must have validated bounds already
// (ingress does, via PixelEdit.Validate, before an edit reaches Apply).
func (c *Canvas) Set(x, y int, color RGB) {
	i := c.offset(x, y)
	c.Bitmap[i] = color.R
	c.Bitmap[i+1] = color.G
	c.Bitmap[i+2] = color.B
}

// At reads the pixel at (x,y).
func (c *Canvas) At(x, y int) RGB {
	i := c.offset(x, y)
	return RGB{R: c.Bitmap[i], G: c.Bitmap[i+1], B: c.Bitmap[i+2]}
}

// Snapshot returns a deep copy of the canvas suitable for handing to a cache
// tier or an HTTP response without risking a data race with the Applier's
// next mutation.
func (c *Canvas) Snapshot() *Canvas {
	cp := make([]byte, len(c.Bitmap))
	copy(cp, c.Bitmap)
	return &Canvas{
		Width:       c.Width,
		Height:      c.Height,
		Bitmap:      cp,
		Hash:        c.Hash,
		LastUpdated: c.LastUpdated,
	}
}

// Rehash recomputes Hash from the current Bitmap contents. The Applier
// calls it after a batch's edits are applied, and again after rolling the
// bitmap back on a persistence failure.
func (c *Canvas) Rehash() {
	c.rehash()
}

func (c *Canvas) rehash() {
	c.Hash = sha256Hex(c.Bitmap)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
