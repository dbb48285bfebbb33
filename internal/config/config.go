// Package config implements the startup configuration surface (spec
// component A2): CLI flags via alecthomas/kong, each also readable from
// an environment variable, with an optional .env file loaded first.
//
// Grounded on bluenviron-mediamtx's internal/core.New (kong.New +
// parser.Parse + parser.FatalIfErrorf) for the parsing shape, and on
// the teacher's env-var-driven startup (RTMP_PORT, BIND_ADDRESS,
// GOP_CACHE_SIZE_MB, LOG_REQUESTS, LOG_DEBUG) for which knobs exist —
// re-expressed here as flags that also accept the same values through
// environment variables, via godotenv for an optional .env file.
package config

import (
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/AgustinSRG/relaystream/internal/logging"
)

// CLI is the full set of startup flags. Every port defaulting to 0
// disables that listener entirely, matching the teacher's pattern of
// an absent SSL_CERT/SSL_KEY pair disabling RTMPS rather than erroring.
type CLI struct {
	RTMPPort       int    `name:"rtmp-port" default:"1935" env:"RTMP_PORT" help:"TCP port the RTMP listener binds to."`
	HTTPFLVPort    int    `name:"http-flv-port" default:"0" env:"HTTP_FLV_PORT" help:"HTTP port serving chunked FLV over GET /{streamName}. 0 disables it."`
	HTTPPlayerPort int    `name:"http-player-port" default:"0" env:"HTTP_PLAYER_PORT" help:"HTTP port serving the bundled test player page. 0 disables it."`
	WSH264Port     int    `name:"ws-h264-port" default:"0" env:"WS_H264_PORT" help:"WebSocket port serving raw H.264 NALUs and ADTS AAC at /websocket/{streamName}. 0 disables it."`
	WSFMP4Port     int    `name:"ws-fmp4-port" default:"0" env:"WS_FMP4_PORT" help:"WebSocket port serving fragmented MP4 segments at /websocket/{streamName}. 0 disables it."`
	BindAddress    string `name:"bind-address" default:"" env:"BIND_ADDRESS" help:"Interface every listener binds to. Empty means all interfaces."`
	GopCacheLimit  int    `name:"gop-cache-limit" default:"1024" env:"GOP_CACHE_LIMIT" help:"Per-subscriber buffered frame count before backpressure drops non-key frames."`
	RecordDir      string `name:"record-dir" default:"" env:"RECORD_DIR" help:"Directory for the best-effort debug FLV recorder. Empty disables it."`
	Log            string `name:"log" default:"info" env:"LOG" help:"Log verbosity: error, warning, info, or debug."`
}

// Load reads an optional .env file — silently ignored if absent, same
// tolerance the teacher's own godotenv usage has — then parses flags
// from args and applies the resulting log level.
func Load(args []string) (*CLI, error) {
	_ = godotenv.Load()

	var cli CLI
	parser, err := kong.New(&cli, kong.Description("relaystream: RTMP ingest and multi-protocol live relay"))
	if err != nil {
		return nil, err
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, err
	}

	logging.SetLevel(logging.ParseLevel(cli.Log))
	return &cli, nil
}
