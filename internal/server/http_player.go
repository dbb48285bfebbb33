package server

import (
	"fmt"
	"net/http"

	"github.com/AgustinSRG/relaystream/internal/logging"
)

// testPlayerPage is deliberately thin: the static HTML player is named
// as a collaborator, not a feature this server needs to own the
// details of — a real deployment would swap this for its own page.
const testPlayerPage = `<!DOCTYPE html>
<html>
<head><title>relaystream test player</title></head>
<body>
<h1>relaystream</h1>
<p>Publish with an RTMP client to rtmp://&lt;host&gt;:%d/&lt;streamName&gt;.</p>
<p>Then play it back over one of the enabled egress ports: HTTP-FLV
(GET /&lt;streamName&gt;), WebSocket raw H.264/AAC, or WebSocket
fragmented MP4 (both at /websocket/&lt;streamName&gt;).</p>
</body>
</html>
`

func (s *Server) httpPlayerHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, testPlayerPage, s.cfg.RTMPPort)
	})
	return mux
}

func (s *Server) serveHTTPPlayer() error {
	logging.Info("[HTTP-player] listening on %s", s.addr(s.cfg.HTTPPlayerPort))
	return http.ListenAndServe(s.addr(s.cfg.HTTPPlayerPort), s.httpPlayerHandler())
}
