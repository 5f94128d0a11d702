package l2cap

import (
	"fmt"
	"io"
	"math"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// BT_SNDMTU and BT_RCVMTU from <bluetooth/bluetooth.h>.
const (
	btSndMTU = 12
	btRcvMTU = 13
)

// Socket is a connected BR/EDR L2CAP channel backed by a kernel SEQPACKET socket.
type Socket struct {
	fd     int
	Peer   string
	closed chan struct{}
	once   sync.Once
	rmu    sync.Mutex
	wmu    sync.Mutex
	buf    []byte
}

// ParseAddr converts "00:11:22:33:44:55" to the little-endian bdaddr used by the kernel.
func ParseAddr(s string) ([6]uint8, error) {
	var addr [6]uint8
	hw, err := net.ParseMAC(s)
	if err != nil {
		return addr, err
	}
	if len(hw) != 6 {
		return addr, fmt.Errorf("l2cap: %q is not a bluetooth address", s)
	}
	for i := range addr {
		addr[i] = hw[5-i]
	}
	return addr, nil
}

// FormatAddr is the inverse of ParseAddr.
func FormatAddr(addr [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}

func newSocket() (int, error) {
	return unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
}

// Dial opens an L2CAP channel to psm on the device at addr.
func Dial(addr string, psm uint16) (*Socket, error) {
	bdaddr, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := newSocket()
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(fd, &unix.SockaddrL2{PSM: psm, Addr: bdaddr}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap: connect %s psm %#04x: %w", addr, psm, err)
	}
	return &Socket{fd: fd, Peer: addr, closed: make(chan struct{})}, nil
}

// Listener accepts incoming L2CAP channels on one PSM.
type Listener struct {
	fd int
}

func Listen(psm uint16) (*Listener, error) {
	fd, err := newSocket()
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrL2{PSM: psm}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap: bind psm %#04x: %w", psm, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Listener{fd: fd}, nil
}

func (l *Listener) Accept() (*Socket, error) {
	fd, sa, err := unix.Accept(l.fd)
	if err != nil {
		return nil, err
	}
	s := &Socket{fd: fd, closed: make(chan struct{})}
	if l2, ok := sa.(*unix.SockaddrL2); ok {
		s.Peer = FormatAddr(l2.Addr)
	}
	return s, nil
}

func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// SendMTU is the outgoing MTU negotiated for the channel.
func (s *Socket) SendMTU() (int, error) {
	return unix.GetsockoptInt(s.fd, unix.SOL_BLUETOOTH, btSndMTU)
}

// ReceiveMTU is the incoming MTU negotiated for the channel.
func (s *Socket) ReceiveMTU() (int, error) {
	return unix.GetsockoptInt(s.fd, unix.SOL_BLUETOOTH, btRcvMTU)
}

func (s *Socket) ReadPacket() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	default:
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if s.buf == nil {
		s.buf = make([]byte, math.MaxUint16)
	}
	n, err := unix.Read(s.fd, s.buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	zap.L().Debug("l2cap reading", zap.String("peer", s.Peer), zap.String("packet", fmt.Sprintf("%x", s.buf[:n])))
	return append([]byte(nil), s.buf[:n]...), nil
}

func (s *Socket) WritePacket(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := unix.Write(s.fd, b)
	return err
}

func (s *Socket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		// shutdown wakes a reader blocked in ReadPacket.
		unix.Shutdown(s.fd, unix.SHUT_RDWR)
		err = unix.Close(s.fd)
	})
	return err
}
