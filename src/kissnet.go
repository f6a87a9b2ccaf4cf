package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Provide service to other applications via KISS protocol via TCP socket.
 *
 * Description:	Several client applications may be attached at once.
 *		A frame received over the radio goes to all of them.  A
 *		response to a command goes only to the client that asked.
 *
 *		A client that stops reading, or goes away, is disconnected
 *		without disturbing the others.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultKISSTCPAddress = "0.0.0.0:8001"

const MaxNetClients = 10

const kissNetWriteTimeout = 5 * time.Second

type kissClient struct {
	id   int
	conn net.Conn
	out  *streamWriter
	done chan struct{}
}

// TCPKISS is a KISS TNC on a TCP port.
type TCPKISS struct {
	listener net.Listener

	mu      sync.Mutex
	clients map[int]*kissClient
	nextID  int
	onFrame func(Frame)

	wg sync.WaitGroup

	logger *log.Logger
}

func ListenTCPKISS(address string, logger *log.Logger) (*TCPKISS, error) {
	logger = logger.WithPrefix("kiss-tcp")

	var listener, err = net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("kiss tcp listen on %s: %w", address, err)
	}

	logger.Info("Ready to accept KISS TCP client applications", "address", listener.Addr().String())

	return &TCPKISS{ //nolint:exhaustruct
		listener: listener,
		clients:  make(map[int]*kissClient),
		logger:   logger,
	}, nil
}

func (k *TCPKISS) Name() string { return "tcp" }

func (k *TCPKISS) Addr() net.Addr { return k.listener.Addr() }

// Port is the TCP port actually listened on.
func (k *TCPKISS) Port() int {
	if a, ok := k.listener.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

func (k *TCPKISS) OnFrameReceived(cb func(Frame)) {
	k.mu.Lock()
	k.onFrame = cb
	k.mu.Unlock()
}

func (k *TCPKISS) deliver(frame Frame) {
	k.mu.Lock()
	var cb = k.onFrame
	k.mu.Unlock()

	if cb != nil {
		cb(frame)
	}
}

// ClientCount is the number of attached client applications.
func (k *TCPKISS) ClientCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.clients)
}

// SendFrame goes to every attached client.  Having no clients is not an error.
func (k *TCPKISS) SendFrame(frame Frame) error {
	var msg = KISSEncapsulate(frame)

	k.mu.Lock()
	var clients = make([]*kissClient, 0, len(k.clients))
	for _, c := range k.clients {
		clients = append(clients, c)
	}
	k.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.out.Send(msg); err != nil {
			k.logger.Warn("Client not keeping up, disconnecting", "client", c.id, "remote", c.conn.RemoteAddr())
			_ = c.conn.Close()
			errs = append(errs, fmt.Errorf("client %d: %w", c.id, err))
		}
	}

	return errors.Join(errs...)
}

// Run accepts clients until ctx is done, then disconnects them all.
func (k *TCPKISS) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = k.listener.Close()
	}()

	for {
		var conn, err = k.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			k.logger.Warn("Accept failed", "err", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		if k.ClientCount() >= MaxNetClients {
			k.logger.Warn("Too many KISS TCP clients, refusing", "remote", conn.RemoteAddr(), "max", MaxNetClients)
			_ = conn.Close()
			continue
		}

		k.attach(ctx, conn)
	}

	k.mu.Lock()
	for _, c := range k.clients {
		_ = c.conn.Close()
	}
	k.mu.Unlock()

	k.wg.Wait()

	return nil
}

func (k *TCPKISS) attach(ctx context.Context, conn net.Conn) {
	k.mu.Lock()
	var c = &kissClient{
		id:   k.nextID,
		conn: conn,
		out:  newStreamWriter(deadlineWriter{conn: conn}),
		done: make(chan struct{}),
	}
	k.nextID++
	k.clients[c.id] = c
	k.mu.Unlock()

	k.logger.Info("Attached to KISS TCP client application", "client", c.id, "remote", conn.RemoteAddr())

	k.wg.Add(2)

	go func() {
		defer k.wg.Done()
		var wctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			<-c.done
			cancel()
		}()
		if err := c.out.Run(wctx); err != nil {
			k.logger.Debug("Write to client failed", "client", c.id, "err", err)
			_ = conn.Close()
		}
	}()

	go func() {
		defer k.wg.Done()
		defer k.detach(c)

		var session = newKISSSession(k.deliver, func(b []byte) { _ = c.out.Send(b) }, k.logger.With("client", c.id))
		var buf = make([]byte, 1024)
		for {
			var n, err = conn.Read(buf)
			if n > 0 {
				session.Feed(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
}

func (k *TCPKISS) detach(c *kissClient) {
	k.mu.Lock()
	delete(k.clients, c.id)
	k.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()

	k.logger.Info("Detached KISS TCP client application", "client", c.id)
}

// deadlineWriter fails a write to a client that has stopped reading.
type deadlineWriter struct {
	conn net.Conn
}

func (d deadlineWriter) Write(p []byte) (int, error) {
	_ = d.conn.SetWriteDeadline(time.Now().Add(kissNetWriteTimeout))
	return d.conn.Write(p)
}
