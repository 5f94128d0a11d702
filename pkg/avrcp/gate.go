package avrcp

import (
	"github.com/gammazero/deque"
	"github.com/muxable/avrcp/pkg/avctp"
)

// gate holds inbound packets back while the consumer owns the last delivered message.
type gate struct {
	blocked bool
	tag     Tag
	limit   int
	held    *deque.Deque[*avctp.Packet]
}

func newGate(limit int) *gate {
	return &gate{limit: limit, held: deque.New[*avctp.Packet]()}
}

func (g *gate) block(tag Tag) {
	g.blocked = true
	g.tag = tag
}

// release reports whether the gate was blocked.
func (g *gate) release() bool {
	was := g.blocked
	g.blocked = false
	g.tag = Tag{}
	return was
}

// push queues p and returns false when the queue is full.
func (g *gate) push(p *avctp.Packet) bool {
	if g.held.Len() >= g.limit {
		return false
	}
	g.held.PushBack(p)
	return true
}

// next returns the next queued packet when the gate is open.
func (g *gate) next() (*avctp.Packet, bool) {
	if g.blocked || g.held.Len() == 0 {
		return nil, false
	}
	return g.held.PopFront(), true
}

func (g *gate) reset() {
	g.release()
	g.held.Clear()
}
