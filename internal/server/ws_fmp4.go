package server

import (
	"net/http"
	"strings"

	"github.com/AgustinSRG/relaystream/internal/egress"
	"github.com/AgustinSRG/relaystream/internal/logging"
)

// wsFMP4Handler implements /websocket/{streamName} for the
// fragmented-MP4 WebSocket egress contract: one init segment, then one
// moof+mdat media segment per WebSocket message.
func (s *Server) wsFMP4Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/websocket/"), "/")
		stream, ok := s.registry.Lookup(name)
		if name == "" || !ok || !stream.HasPublisher() {
			http.Error(w, "stream not found", http.StatusNotFound)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Debug("ws-fmp4: upgrade failed: %s", err.Error())
			return
		}
		egress.ServeWSFMP4(conn, stream)
	})
	return mux
}

func (s *Server) serveWSFMP4() error {
	logging.Info("[WS-FMP4] listening on %s", s.addr(s.cfg.WSFMP4Port))
	return http.ListenAndServe(s.addr(s.cfg.WSFMP4Port), s.wsFMP4Handler())
}
