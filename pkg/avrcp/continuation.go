package avrcp

import (
	"github.com/muxable/avrcp/pkg/avc"
)

// continuation is a metadata transfer split across frames that advances only
// when the receiver pulls the next fragment.
type continuation struct {
	pdu avc.PDUID
	// code and remaining are used on the sending side only.
	code      avc.ResponseCode
	remaining []byte
	timer     timer
}

func (c *continuation) stop() {
	if c != nil {
		c.timer.stop()
	}
}

// take removes the next fragment from the remainder and reports whether it is the last one.
func (c *continuation) take() ([]byte, bool) {
	n := len(c.remaining)
	if n > avc.MaxMetadataParams {
		n = avc.MaxMetadataParams
	}
	chunk := c.remaining[:n]
	c.remaining = c.remaining[n:]
	return chunk, len(c.remaining) == 0
}
