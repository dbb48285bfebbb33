package server

import (
	"net/http"
	"strings"

	"github.com/AgustinSRG/relaystream/internal/egress"
	"github.com/AgustinSRG/relaystream/internal/logging"
)

// httpFLVHandler implements GET /{streamName}, the chunked-FLV egress
// contract: unknown or not-currently-published stream names get a 404,
// anything else streams until the publisher or the client goes away.
func (s *Server) httpFLVHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.Trim(r.URL.Path, "/")
		stream, ok := s.registry.Lookup(name)
		if name == "" || !ok || !stream.HasPublisher() {
			http.NotFound(w, r)
			return
		}
		egress.ServeHTTPFLV(w, stream)
	})
	return mux
}

func (s *Server) serveHTTPFLV() error {
	logging.Info("[HTTP-FLV] listening on %s", s.addr(s.cfg.HTTPFLVPort))
	return http.ListenAndServe(s.addr(s.cfg.HTTPFLVPort), s.httpFLVHandler())
}
