// Package server implements the listener/connection supervisor (spec
// component C8): one goroutine per listener, goroutine-per-connection
// dispatch, and panic-isolated per-connection handling so one crashed
// session never takes the process down.
//
// Grounded on the teacher's RTMPServer.AcceptConnections / Start /
// HandleConnection trio: a sync.WaitGroup of accept loops, each
// spawning a handler goroutine per accepted connection, with the
// handler's own deferred recover() turning a panic into a logged error
// instead of an unhandled crash.
package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/AgustinSRG/relaystream/internal/logging"
	"github.com/AgustinSRG/relaystream/internal/registry"
	"github.com/AgustinSRG/relaystream/internal/rtmp"
)

// Config is the set of listener addresses this server brings up. A
// port of 0 disables that listener entirely.
type Config struct {
	BindAddress    string
	RTMPPort       int
	HTTPFLVPort    int
	HTTPPlayerPort int
	WSH264Port     int
	WSFMP4Port     int
}

// Server owns the shared registry and every configured listener.
type Server struct {
	cfg      Config
	registry *registry.Registry
	recorder rtmp.Recorder // nil disables the debug recorder

	upgrader websocket.Upgrader
}

// New builds a Server. recorder may be nil to disable the debug dump.
func New(cfg Config, reg *registry.Registry, recorder rtmp.Recorder) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		recorder: recorder,
		// CheckOrigin defaults to same-origin in gorilla/websocket; a
		// live relay is read by arbitrary third-party players, so every
		// origin is accepted here the same way HTTP-FLV sends
		// Access-Control-Allow-Origin: *.
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (s *Server) addr(port int) string {
	return net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(port))
}

// Run starts every configured listener and blocks until all of them
// stop (normally only on a listener-level error, since none of them
// exit on their own).
func (s *Server) Run() error {
	var wg sync.WaitGroup
	errCh := make(chan error, 5)

	if s.cfg.RTMPPort > 0 {
		ln, err := net.Listen("tcp", s.addr(s.cfg.RTMPPort))
		if err != nil {
			return err
		}
		logging.Info("[RTMP] listening on %s", ln.Addr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.acceptRTMP(ln)
		}()
	}

	if s.cfg.HTTPFLVPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.serveHTTPFLV()
		}()
	}

	if s.cfg.HTTPPlayerPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.serveHTTPPlayer()
		}()
	}

	if s.cfg.WSH264Port > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.serveWSH264()
		}()
	}

	if s.cfg.WSFMP4Port > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.serveWSFMP4()
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// acceptRTMP runs the RTMP accept loop: one goroutine per connection,
// with a recover() wrapper so a panic in one session's handling never
// brings the listener down.
func (s *Server) acceptRTMP(ln net.Listener) error {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleRTMPConnection(conn)
	}
}

func (s *Server) handleRTMPConnection(conn net.Conn) {
	id := rtmp.NextSessionID()
	ip := conn.RemoteAddr().String()

	defer func() {
		if r := recover(); r != nil {
			logging.Request(id, ip, "session crashed")
		}
		conn.Close()
		logging.Request(id, ip, "connection closed")
	}()

	logging.Request(id, ip, "connection accepted")
	sess := rtmp.NewSession(id, conn, s.registry, s.recorder)
	if err := sess.Run(); err != nil {
		logging.Request(id, ip, "session ended: "+err.Error())
	}
}
