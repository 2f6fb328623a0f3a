package conn

// Byte-stream transport. The reactor never touches a socket: a reader
// goroutine hands inbound bytes to a callback, and outbound bytes are
// queued without blocking and drained by a writer goroutine.

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp-relay/internal/bufpool"
	rerrors "github.com/alxayo/go-rtmp-relay/internal/errors"
)

// ErrQueueFull is returned by Send when the outbound queue has no room.
var ErrQueueFull = errors.New("outbound queue full")

// Transport is a connection's bidirectional byte channel.
type Transport interface {
	// Send queues a copy of p for delivery. It never blocks.
	Send(p []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// TCPOptions tune a TCPTransport. Zero values select defaults.
type TCPOptions struct {
	QueueSize    int           // outbound queue depth, default 256
	ReadSize     int           // read buffer size, default bufpool.ClassRead
	WriteTimeout time.Duration // per-write deadline, default 10s
}

func (o *TCPOptions) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.ReadSize <= 0 {
		o.ReadSize = bufpool.ClassRead
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

// TCPTransport implements Transport over a net.Conn.
type TCPTransport struct {
	nc   net.Conn
	opts TCPOptions
	log  *slog.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewTCPTransport(nc net.Conn, opts TCPOptions, log *slog.Logger) *TCPTransport {
	opts.applyDefaults()
	return &TCPTransport{
		nc:   nc,
		opts: opts,
		log:  log,
		out:  make(chan []byte, opts.QueueSize),
		done: make(chan struct{}),
	}
}

// Start launches the reader and writer goroutines. onRead receives each
// non-empty read in a buffer from bufpool; ownership passes to the callee,
// which should bufpool.Put it when done. onClose is called exactly once,
// after the last onRead, with the error that ended the read side (io.EOF
// for an orderly close).
func (t *TCPTransport) Start(onRead func([]byte), onClose func(error)) {
	t.wg.Add(2)
	go t.readLoop(onRead, onClose)
	go t.writeLoop()
}

func (t *TCPTransport) readLoop(onRead func([]byte), onClose func(error)) {
	defer t.wg.Done()
	for {
		buf := bufpool.Get(t.opts.ReadSize)
		n, err := t.nc.Read(buf)
		if n > 0 {
			onRead(buf[:n])
		} else {
			bufpool.Put(buf)
		}
		if err != nil {
			onClose(err)
			return
		}
	}
}

func (t *TCPTransport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case p := <-t.out:
			if err := t.nc.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
				t.fail(err)
				return
			}
			if _, err := t.nc.Write(p); err != nil {
				if rerrors.IsTimeout(err) {
					err = rerrors.NewTimeoutError("transport.write", t.opts.WriteTimeout, err)
				}
				t.fail(err)
				return
			}
		}
	}
}

func (t *TCPTransport) fail(err error) {
	if t.log != nil {
		t.log.Debug("transport write failed", "error", err)
	}
	_ = t.Close()
}

func (t *TCPTransport) Send(p []byte) error {
	select {
	case <-t.done:
		return net.ErrClosed
	default:
	}
	select {
	case t.out <- append([]byte(nil), p...):
		return nil
	case <-t.done:
		return net.ErrClosed
	default:
		return ErrQueueFull
	}
}

// Close stops both loops and closes the socket. Queued bytes not yet
// written are discarded. Safe to call more than once.
func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.nc.Close()
	})
	return err
}

// Wait blocks until the reader and writer goroutines have exited. It must
// not be called before Start.
func (t *TCPTransport) Wait() { t.wg.Wait() }

func (t *TCPTransport) RemoteAddr() net.Addr { return t.nc.RemoteAddr() }

// IsClosedErr reports whether err just means the peer or we closed the
// socket.
func IsClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
