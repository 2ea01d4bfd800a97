package serve

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet/errors"
)

// Transports accepted by Server.Run.
const (
	TransportStdio     = "stdio"
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Editors connect from local processes, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server runs a Backend over one transport.
type Server struct {
	backend *Backend
	logger  *zap.SugaredLogger
}

// NewServer creates a server for backend.
func NewServer(backend *Backend) *Server {
	return &Server{
		backend: backend,
		logger:  backend.logger,
	}
}

// Run serves until the transport closes or ctx is cancelled. Stdio ends when
// the editor closes stdin; the network transports serve any number of
// sequential or concurrent connections, all sharing the backend's state.
func (s *Server) Run(ctx context.Context, transport, address string) error {
	s.logger.Infow("serving", "transport", transport, "address", address)

	switch transport {
	case TransportStdio, "":
		s.ServeStream(ctx, stdio{})
		return nil
	case TransportTCP:
		return s.runTCP(ctx, address)
	case TransportWebSocket:
		return s.runWebSocket(ctx, address)
	default:
		return errors.WithHint(
			errors.Newf("unknown transport %q", transport),
			"use one of stdio, tcp, websocket",
		)
	}
}

// ServeStream speaks LSP base-protocol framing over rwc until the peer
// disconnects or ctx is cancelled.
func (s *Server) ServeStream(ctx context.Context, rwc io.ReadWriteCloser) {
	s.serve(ctx, jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}))
}

func (s *Server) serve(ctx context.Context, stream jsonrpc2.ObjectStream) {
	conn := jsonrpc2.NewConn(ctx, stream, newConnHandler(s.backend))
	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		conn.Close()
		<-conn.DisconnectNotify()
	}
}

func (s *Server) runTCP(ctx context.Context, address string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listen tcp on %s", address)
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	s.logger.Infow("listening for tcp connections", "address", ln.Addr().String())
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "serve tcp on %s", address)
		}
		go func() {
			remote := c.RemoteAddr().String()
			s.logger.Infow("tcp connection opened", "remote", remote)
			s.ServeStream(ctx, c)
			s.logger.Infow("tcp connection closed", "remote", remote)
		}()
	}
}

func (s *Server) runWebSocket(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "serve websocket on %s", address)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleWebSocket upgrades the request and serves LSP over the socket until
// it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("failed to upgrade websocket", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	s.logger.Infow("websocket connection opened", "remote", r.RemoteAddr)
	s.serve(r.Context(), wsjsonrpc2.NewObjectStream(conn))
	s.logger.Infow("websocket connection closed", "remote", r.RemoteAddr)
}

// stdio joins the process's standard streams into one connection.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func (stdio) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
