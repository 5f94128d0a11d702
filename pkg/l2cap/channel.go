package l2cap

import (
	"fmt"
	"sync"

	"github.com/gammazero/deque"
)

// PacketConn moves whole SDUs of one L2CAP channel.
type PacketConn interface {
	ReadPacket() ([]byte, error)
	WritePacket([]byte) error
	Close() error
}

// Channel adapts a PacketConn to the claim/commit transport of an AVRCP
// session. SDU boundaries are kept: Available never returns bytes of two SDUs.
type Channel struct {
	conn  PacketConn
	TxMTU int

	mu sync.Mutex
	rx *deque.Deque[[]byte]

	wmu     sync.Mutex
	claimed []byte
}

// NewChannel wraps conn. Writes larger than txMTU are refused at claim time.
func NewChannel(conn PacketConn, txMTU int) *Channel {
	return &Channel{
		conn:  conn,
		TxMTU: txMTU,
		rx:    deque.New[[]byte](),
	}
}

// Fill blocks for the next SDU and queues it.
func (c *Channel) Fill() error {
	b, err := c.conn.ReadPacket()
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	c.mu.Lock()
	c.rx.PushBack(b)
	c.mu.Unlock()
	return nil
}

func (c *Channel) Available() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rx.Len() == 0 {
		return nil
	}
	return c.rx.Front()
}

func (c *Channel) Drop(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rx.Len() == 0 {
		return
	}
	b := c.rx.Front()
	if n >= len(b) {
		c.rx.PopFront()
		return
	}
	c.rx.Set(0, b[n:])
}

func (c *Channel) Claim(n int) ([]byte, error) {
	if n > c.TxMTU {
		return nil, fmt.Errorf("l2cap: %d bytes exceed mtu %d", n, c.TxMTU)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if cap(c.claimed) < n {
		c.claimed = make([]byte, n)
	}
	c.claimed = c.claimed[:n]
	return c.claimed, nil
}

func (c *Channel) Commit(n int) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if n > len(c.claimed) {
		return fmt.Errorf("l2cap: commit of %d bytes, %d claimed", n, len(c.claimed))
	}
	b := append([]byte(nil), c.claimed[:n]...)
	c.claimed = c.claimed[:0]
	return c.conn.WritePacket(b)
}

func (c *Channel) Close() error {
	return c.conn.Close()
}
