package egress

import (
	"github.com/gorilla/websocket"

	"github.com/AgustinSRG/relaystream/internal/codec"
	"github.com/AgustinSRG/relaystream/internal/message"
	"github.com/AgustinSRG/relaystream/internal/registry"
)

const (
	discriminantVideo byte = 0x00
	discriminantAudio byte = 0x01
)

// ServeWSRaw streams decoded H.264 NALUs (Annex-B framed) and
// ADTS-wrapped AAC frames over conn, one WebSocket binary message per
// unit, each prefixed with a 1-byte discriminant distinguishing the two
// interleaved media kinds on the single connection.
func ServeWSRaw(conn *websocket.Conn, stream *registry.Stream) {
	defer conn.Close()

	sub := stream.Subscribe(subscriberBacklog())
	defer stream.Unsubscribe(sub.ID())

	gate := &KeyFrameGate{}
	var asc *codec.AudioSpecificConfig

	for msg := range sub.Messages() {
		if !gate.Allow(msg) {
			continue
		}

		switch msg.TypeID {
		case message.TypeVideo:
			nalus, _, _, err := codec.ParseVideoMessage(msg.Body)
			if err != nil {
				continue
			}
			// Both the sequence header's SPS/PPS and every coded-slice NALU
			// of a live frame go out as their own Annex-B framed message, one
			// NALU per WebSocket message; a decoder cannot make sense of a
			// key frame before it has seen the SPS/PPS that describe it.
			for _, nalu := range nalus {
				if err := conn.WriteMessage(websocket.BinaryMessage, prefixed(discriminantVideo, codec.ToAnnexB([][]byte{nalu}))); err != nil {
					return
				}
			}

		case message.TypeAudio:
			payload, isSeqHeader, err := codec.ParseAudioMessage(msg.Body)
			if err != nil {
				continue
			}
			if isSeqHeader {
				if parsed, err := codec.ParseAudioSpecificConfig(payload); err == nil {
					asc = parsed
				}
				continue
			}
			if asc == nil {
				continue
			}
			frame := codec.BuildADTSFrame(asc, payload)
			if err := conn.WriteMessage(websocket.BinaryMessage, prefixed(discriminantAudio, frame)); err != nil {
				return
			}
		}
	}
}

func prefixed(discriminant byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = discriminant
	copy(out[1:], payload)
	return out
}
