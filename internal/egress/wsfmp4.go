package egress

import (
	"github.com/gorilla/websocket"

	"github.com/AgustinSRG/relaystream/internal/amf0"
	"github.com/AgustinSRG/relaystream/internal/codec"
	"github.com/AgustinSRG/relaystream/internal/message"
	"github.com/AgustinSRG/relaystream/internal/registry"
)

const (
	defaultFrameWidth  = 1280
	defaultFrameHeight = 720
	defaultFrameRate   = 30
)

// ServeWSFMP4 writes one fMP4 initialization segment (ftyp+moov) built
// from the stream's cached AVC sequence header, followed by one
// moof+mdat media segment per subsequent video frame, one WebSocket
// binary message per segment. The connection is closed immediately if
// the stream has no cached video header yet, since an init segment
// cannot be built without SPS/PPS.
func ServeWSFMP4(conn *websocket.Conn, stream *registry.Stream) {
	defer conn.Close()

	videoHeader := stream.VideoHeader()
	if videoHeader == nil {
		return
	}
	nalus, _, _, err := codec.ParseVideoMessage(videoHeader.Body)
	if err != nil {
		return
	}
	spsList, ppsList := codec.SplitSPSPPS(nalus)
	if len(spsList) == 0 || len(ppsList) == 0 {
		return
	}

	width, height, frameRate := videoParamsFromMetaData(stream.MetaData())
	track := &codec.FMP4Track{
		ID:        1,
		TimeScale: codec.DefaultFMP4TimeScale,
		Width:     width,
		Height:    height,
		SPS:       spsList[0],
		PPS:       ppsList[0],
	}

	init, err := codec.BuildFMP4InitSegment(track)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, init); err != nil {
		return
	}

	segmenter := codec.NewFMP4Segmenter(track, frameRate)

	sub := stream.Subscribe(subscriberBacklog())
	defer stream.Unsubscribe(sub.ID())

	gate := &KeyFrameGate{}
	for msg := range sub.Messages() {
		if !gate.Allow(msg) {
			continue
		}
		if msg.TypeID != message.TypeVideo {
			continue
		}
		nalus, isKeyFrame, isSeqHeader, err := codec.ParseVideoMessage(msg.Body)
		if err != nil || isSeqHeader {
			continue
		}

		segment, err := segmenter.WrapFrame(avccJoin(nalus), isKeyFrame)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, segment); err != nil {
			return
		}
	}
}

func avccJoin(nalus [][]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, codec.ToAVCC(n)...)
	}
	return out
}

// videoParamsFromMetaData reads width/height/framerate out of a cached
// onMetaData object, falling back to common 720p30 defaults when the
// publisher never sent them or sent a shape this can't read.
func videoParamsFromMetaData(meta *amf0.Value) (width, height int, frameRate float64) {
	width, height, frameRate = defaultFrameWidth, defaultFrameHeight, defaultFrameRate
	if meta == nil {
		return
	}
	if w, ok := meta.Get("width"); ok {
		width = int(w.AsNumber())
	}
	if h, ok := meta.Get("height"); ok {
		height = int(h.AsNumber())
	}
	if fps, ok := meta.Get("framerate"); ok {
		frameRate = fps.AsNumber()
	} else if fps, ok := meta.Get("fps"); ok {
		frameRate = fps.AsNumber()
	}
	return
}
