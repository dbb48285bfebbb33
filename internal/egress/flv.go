package egress

import (
	"net/http"

	"github.com/AgustinSRG/relaystream/internal/codec"
	"github.com/AgustinSRG/relaystream/internal/registry"
)

// ServeHTTPFLV writes an FLV file header followed by one FLV tag per
// forwarded message onto w, blocking until the stream ends or the
// client disconnects. The caller is responsible for matching the
// request path to a stream name and for handling the unknown-stream
// (404) case before calling this.
//
// net/http's own chunked Transfer-Encoding framing carries this as the
// wire-level "hex length \r\n data \r\n" the GET /{streamName} contract
// describes; Flush after every tag so each one reaches the client as
// its own chunk instead of waiting in a buffer.
func ServeHTTPFLV(w http.ResponseWriter, stream *registry.Stream) {
	header := w.Header()
	header.Set("Content-Type", "video/x-flv")
	header.Set("Connection", "close")
	header.Set("Cache-Control", "no-cache")
	header.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	if _, err := w.Write(codec.FLVFileHeader(true, true)); err != nil {
		return
	}
	if canFlush {
		flusher.Flush()
	}

	sub := stream.Subscribe(subscriberBacklog())
	defer stream.Unsubscribe(sub.ID())

	gate := &KeyFrameGate{}
	var base uint32
	haveBase := false

	for msg := range sub.Messages() {
		if !gate.Allow(msg) {
			continue
		}
		if !haveBase {
			base = msg.Timestamp
			haveBase = true
		}

		// FLV tag types reuse the RTMP message type IDs verbatim (8
		// audio, 9 video, 18 script data), so msg.TypeID needs no
		// translation here.
		tag := codec.BuildFLVTag(msg.TypeID, msg.Timestamp-base, msg.Body)
		if _, err := w.Write(tag); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
