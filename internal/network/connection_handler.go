// Package network accepts client connections, splits their byte streams into
// messages, and dispatches each message to the handler registered for its
// opcode.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cory-johannsen/manaserv/internal/config"
	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/observability"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

const readBufferSize = 4096

// unknownOpcodeLabel is the metrics label for opcodes outside the protocol
// table, so arbitrary client input cannot mint new series.
const unknownOpcodeLabel = "unknown"

var (
	errServerFull   = errors.New("client limit reached")
	errShuttingDown = errors.New("server shutting down")
)

// ConnectionHandler owns the client listener, the set of connected clients
// and the opcode → handler table.
type ConnectionHandler struct {
	cfg     config.NetworkConfig
	logger  *zap.Logger
	metrics *observability.Metrics

	hmu      sync.RWMutex
	handlers map[protocol.Opcode]Handler

	cmu     sync.Mutex
	clients map[uuid.UUID]*Conn

	// OnConnect, when set, is called after a client is accepted and before
	// its first message is read.
	OnConnect func(*Conn)
	// OnDisconnect, when set, is called once after a client's connection
	// has been closed. The Conn must not be used for sending afterwards.
	OnDisconnect func(*Conn)

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	running  bool
	stopped  bool
}

// NewConnectionHandler creates a handler with an empty opcode table.
//
// Precondition: logger and metrics must be non-nil.
// Postcondition: Returns a ConnectionHandler ready for Register and ListenAndServe.
func NewConnectionHandler(cfg config.NetworkConfig, logger *zap.Logger, metrics *observability.Metrics) *ConnectionHandler {
	return &ConnectionHandler{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[protocol.Opcode]Handler),
		clients:  make(map[uuid.UUID]*Conn),
		quit:     make(chan struct{}),
	}
}

// Register associates op with h. A later registration for the same opcode
// replaces the earlier one.
//
// Precondition: h must be non-nil.
func (h *ConnectionHandler) Register(op protocol.Opcode, handler Handler) {
	h.hmu.Lock()
	prev, replaced := h.handlers[op]
	h.handlers[op] = handler
	h.hmu.Unlock()

	if replaced {
		h.logger.Warn("replacing message handler",
			zap.Stringer("opcode", op),
			zap.String("previous", HandlerName(prev)),
			zap.String("handler", HandlerName(handler)),
		)
		return
	}
	h.logger.Debug("registered message handler",
		zap.Stringer("opcode", op),
		zap.String("handler", HandlerName(handler)),
	)
}

// Unregister removes the handler for op, if any.
func (h *ConnectionHandler) Unregister(op protocol.Opcode) {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	delete(h.handlers, op)
}

// Handler returns the handler registered for op.
func (h *ConnectionHandler) Handler(op protocol.Opcode) (Handler, bool) {
	h.hmu.RLock()
	defer h.hmu.RUnlock()
	handler, ok := h.handlers[op]
	return handler, ok
}

// Handlers returns the registered opcodes in ascending order.
func (h *ConnectionHandler) Handlers() []protocol.Opcode {
	h.hmu.RLock()
	ops := lo.Keys(h.handlers)
	h.hmu.RUnlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Dispatch decodes body and hands it to the handler registered for its
// opcode. Short bodies, unknown opcodes and handler panics are logged and
// dropped; the connection stays open.
func (h *ConnectionHandler) Dispatch(ctx context.Context, conn *Conn, body []byte) {
	msg, err := message.NewIn(body)
	if err != nil {
		h.metrics.Messages.WithLabelValues("", observability.OutcomeTooShort).Inc()
		h.logger.Error("message too short",
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.Int("length", len(body)),
		)
		return
	}

	op := msg.Opcode()
	label := opcodeLabel(op)
	handler, ok := h.Handler(op)
	if !ok {
		h.metrics.Messages.WithLabelValues(label, observability.OutcomeUnhandled).Inc()
		h.logger.Warn("unhandled message",
			zap.Stringer("opcode", op),
			zap.String("remote_addr", conn.RemoteAddr()),
		)
		return
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.metrics.Messages.WithLabelValues(label, observability.OutcomePanic).Inc()
			h.logger.Error("message handler panicked",
				zap.Stringer("opcode", op),
				zap.String("handler", HandlerName(handler)),
				zap.String("remote_addr", conn.RemoteAddr()),
				zap.Any("panic", r),
			)
		}
	}()

	handler.ReceiveMessage(ctx, conn, msg)

	h.metrics.Messages.WithLabelValues(label, observability.OutcomeHandled).Inc()
	h.metrics.Dispatch.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func opcodeLabel(op protocol.Opcode) string {
	if !op.Known() {
		return unknownOpcodeLabel
	}
	return op.String()
}

// ListenAndServe starts the TCP listener and accepts connections until Stop is called.
// This method blocks until the handler is stopped.
//
// Precondition: The handler must not already be running.
// Postcondition: The listener is closed when this method returns.
func (h *ConnectionHandler) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", h.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.cfg.Addr(), err)
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		listener.Close()
		return nil
	}
	h.listener = listener
	h.running = true
	// The accept loop holds the WaitGroup so per-client Adds never race Stop's Wait.
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	h.logger.Info("client listener started",
		zap.String("addr", listener.Addr().String()),
		zap.Int("handlers", len(h.Handlers())),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-h.quit:
				return nil
			default:
				h.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}

		h.wg.Add(1)
		go h.serve(raw)
	}
}

// serve runs the read loop of one client.
func (h *ConnectionHandler) serve(raw net.Conn) {
	defer h.wg.Done()

	conn := NewConn(raw, h.cfg.WriteTimeout, h.cfg.MaxFrameSize)
	conn.onSend = h.metrics.Sent.Inc
	if err := h.addClient(conn); err != nil {
		if errors.Is(err, errServerFull) {
			h.logger.Warn("client limit reached, refusing connection",
				zap.String("remote_addr", conn.RemoteAddr()),
				zap.Int("max_clients", h.cfg.MaxClients),
			)
			conn.Disconnect("server full")
			return
		}
		h.logger.Info("refusing connection during shutdown", zap.String("remote_addr", conn.RemoteAddr()))
		conn.Disconnect(errShuttingDown.Error())
		return
	}

	h.logger.Info("client connected",
		zap.Stringer("conn_id", conn.ID()),
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Int("clients", h.ClientCount()),
	)
	if h.OnConnect != nil {
		h.OnConnect(conn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		conn.Disconnect("connection closed")
		h.removeClient(conn)
		if h.OnDisconnect != nil {
			h.OnDisconnect(conn)
		}
		h.logger.Info("client disconnected",
			zap.Stringer("conn_id", conn.ID()),
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.String("reason", conn.DisconnectReason()),
			zap.Duration("duration", time.Since(conn.ConnectedAt())),
		)
	}()

	dec := NewDecoder(h.cfg.MaxFrameSize)
	buf := make([]byte, readBufferSize)
	for {
		if h.cfg.ReadTimeout > 0 {
			_ = raw.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		}
		n, err := raw.Read(buf)
		if n > 0 {
			bodies, derr := dec.Decode(buf[:n])
			for _, body := range bodies {
				h.Dispatch(ctx, conn, body)
			}
			if derr != nil {
				h.logger.Error("dropping client with malformed stream",
					zap.Stringer("conn_id", conn.ID()),
					zap.String("remote_addr", conn.RemoteAddr()),
					zap.Error(derr),
				)
				conn.Disconnect("malformed stream")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.logger.Debug("client read ended",
					zap.Stringer("conn_id", conn.ID()),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// addClient records conn unless the handler is full or stopping. Stop closes
// quit before it snapshots the clients, so a conn is either in that snapshot
// or refused here.
func (h *ConnectionHandler) addClient(conn *Conn) error {
	h.cmu.Lock()
	defer h.cmu.Unlock()
	select {
	case <-h.quit:
		return errShuttingDown
	default:
	}
	if h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients {
		return errServerFull
	}
	h.clients[conn.ID()] = conn
	h.metrics.Clients.Set(float64(len(h.clients)))
	return nil
}

func (h *ConnectionHandler) removeClient(conn *Conn) {
	h.cmu.Lock()
	defer h.cmu.Unlock()
	delete(h.clients, conn.ID())
	h.metrics.Clients.Set(float64(len(h.clients)))
}

// Client returns the connected client with the given id.
func (h *ConnectionHandler) Client(id uuid.UUID) (*Conn, bool) {
	h.cmu.Lock()
	defer h.cmu.Unlock()
	c, ok := h.clients[id]
	return c, ok
}

// ClientCount returns the number of connected clients.
func (h *ConnectionHandler) ClientCount() int {
	h.cmu.Lock()
	defer h.cmu.Unlock()
	return len(h.clients)
}

func (h *ConnectionHandler) snapshot() []*Conn {
	h.cmu.Lock()
	defer h.cmu.Unlock()
	return lo.Values(h.clients)
}

// SendToEveryone sends msg to every connected client. Failed sends are
// logged and do not stop the broadcast.
//
// Postcondition: Returns the number of clients the message was written to.
func (h *ConnectionHandler) SendToEveryone(msg *message.Out) int {
	sent := 0
	for _, c := range h.snapshot() {
		if err := c.Send(msg); err != nil {
			h.logger.Debug("broadcast send failed",
				zap.Stringer("conn_id", c.ID()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// Stop closes the listener and every client connection, then waits for all
// read loops to finish. A handler stopped before it started never listens.
//
// Postcondition: All connections are closed and goroutines have exited.
func (h *ConnectionHandler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	close(h.quit)
	if !h.running {
		return
	}
	h.running = false

	if h.listener != nil {
		h.listener.Close()
	}
	for _, c := range h.snapshot() {
		c.Disconnect("server shutting down")
	}
	h.wg.Wait()

	h.logger.Info("client listener stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (h *ConnectionHandler) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the handler is currently accepting connections.
func (h *ConnectionHandler) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}
