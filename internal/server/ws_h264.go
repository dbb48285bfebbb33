package server

import (
	"net/http"
	"strings"

	"github.com/AgustinSRG/relaystream/internal/egress"
	"github.com/AgustinSRG/relaystream/internal/logging"
)

// wsH264Handler implements /websocket/{streamName} for the raw
// H.264/ADTS-AAC WebSocket egress contract.
func (s *Server) wsH264Handler() http.Handler {
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
			logging.Debug("ws-h264: upgrade failed: %s", err.Error())
			return
		}
		egress.ServeWSRaw(conn, stream)
	})
	return mux
}

func (s *Server) serveWSH264() error {
	logging.Info("[WS-H264] listening on %s", s.addr(s.cfg.WSH264Port))
	return http.ListenAndServe(s.addr(s.cfg.WSH264Port), s.wsH264Handler())
}
