// Command relaystream runs the RTMP ingest and multi-protocol live
// relay server: one RTMP listener for publishers and RTMP players,
// plus optional HTTP-FLV, WebSocket-H264, WebSocket-fMP4, and a bundled
// test player page, all fed by a single in-process stream registry.
package main

import (
	"fmt"
	"os"

	"github.com/AgustinSRG/relaystream/internal/config"
	"github.com/AgustinSRG/relaystream/internal/egress"
	"github.com/AgustinSRG/relaystream/internal/logging"
	"github.com/AgustinSRG/relaystream/internal/recorder"
	"github.com/AgustinSRG/relaystream/internal/registry"
	"github.com/AgustinSRG/relaystream/internal/rtmp"
	"github.com/AgustinSRG/relaystream/internal/server"
)

func main() {
	cli, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logging.Info("relaystream starting")

	rtmp.SetSubscriberBacklog(cli.GopCacheLimit)
	egress.SetSubscriberBacklog(cli.GopCacheLimit)

	reg := registry.New()

	var rec rtmp.Recorder
	if cli.RecordDir != "" {
		rec = recorder.New(cli.RecordDir)
	}

	srv := server.New(server.Config{
		BindAddress:    cli.BindAddress,
		RTMPPort:       cli.RTMPPort,
		HTTPFLVPort:    cli.HTTPFLVPort,
		HTTPPlayerPort: cli.HTTPPlayerPort,
		WSH264Port:     cli.WSH264Port,
		WSFMP4Port:     cli.WSFMP4Port,
	}, reg, rec)

	if err := srv.Run(); err != nil {
		logging.Error(err)
		os.Exit(1)
	}
}
