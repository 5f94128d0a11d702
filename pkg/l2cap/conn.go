package l2cap

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

var ErrChannelClosed = errors.New("l2cap: channel closed")

// Conn multiplexes B-frames of one ACL-U link onto the channels opened on it.
// Channel setup is negotiated elsewhere; Conn only moves data for channel ids
// it has been told about.
type Conn struct {
	rw  io.ReadWriter
	log *zap.Logger

	wmu sync.Mutex

	mu       sync.Mutex
	channels map[ChannelID]*endpoint
}

func NewConn(rw io.ReadWriter, log *zap.Logger) *Conn {
	return &Conn{
		rw:       rw,
		log:      log,
		channels: make(map[ChannelID]*endpoint),
	}
}

// Open registers a channel receiving on local and sending to remote.
func (c *Conn) Open(local, remote ChannelID) (PacketConn, error) {
	if local < ChannelIDDynamic {
		return nil, fmt.Errorf("l2cap: channel id %#04x is reserved", uint16(local))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[local]; ok {
		return nil, fmt.Errorf("l2cap: channel id %#04x already open", uint16(local))
	}
	e := &endpoint{conn: c, local: local, remote: remote, rxCh: make(chan []byte, 32), closed: make(chan struct{})}
	c.channels[local] = e
	return e, nil
}

// Serve reads frames and hands each to its channel until the link fails.
func (c *Conn) Serve() error {
	defer c.closeAll()
	for {
		f, err := ReadBFrame(c.rw)
		if err != nil {
			return err
		}
		c.log.Debug("l2cap reading", zap.Uint16("channel", uint16(f.ChannelID)), zap.String("payload", fmt.Sprintf("%x", f.Payload)))
		c.mu.Lock()
		e, ok := c.channels[f.ChannelID]
		c.mu.Unlock()
		if !ok {
			c.log.Warn("received packet for unknown channel", zap.Uint16("channel", uint16(f.ChannelID)))
			continue
		}
		e.deliver(f.Payload)
	}
}

func (c *Conn) write(cid ChannelID, payload []byte) error {
	f := &BFrame{ChannelID: cid, Payload: payload}
	buf, err := f.Marshal()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.log.Debug("l2cap writing", zap.Uint16("channel", uint16(cid)), zap.String("payload", fmt.Sprintf("%x", payload)))
	_, err = c.rw.Write(buf)
	return err
}

func (c *Conn) remove(local ChannelID) {
	c.mu.Lock()
	delete(c.channels, local)
	c.mu.Unlock()
}

func (c *Conn) closeAll() {
	c.mu.Lock()
	eps := make([]*endpoint, 0, len(c.channels))
	for _, e := range c.channels {
		eps = append(eps, e)
	}
	c.mu.Unlock()
	for _, e := range eps {
		e.Close()
	}
}

// endpoint is one channel of a Conn.
type endpoint struct {
	conn          *Conn
	local, remote ChannelID
	rxCh          chan []byte
	once          sync.Once
	closed        chan struct{}
}

func (e *endpoint) deliver(sdu []byte) {
	select {
	case e.rxCh <- sdu:
	case <-e.closed:
	}
}

func (e *endpoint) ReadPacket() ([]byte, error) {
	select {
	case b := <-e.rxCh:
		return b, nil
	case <-e.closed:
		return nil, io.EOF
	}
}

func (e *endpoint) WritePacket(b []byte) error {
	select {
	case <-e.closed:
		return ErrChannelClosed
	default:
	}
	return e.conn.write(e.remote, b)
}

func (e *endpoint) Close() error {
	e.once.Do(func() {
		close(e.closed)
		e.conn.remove(e.local)
	})
	return nil
}
