package rtmp

import (
	"bytes"
	"encoding/binary"

	"github.com/AgustinSRG/relaystream/internal/amf0"
)

// writeOut serializes one outgoing message under the write mutex, since
// the play loop goroutine and the command-dispatch goroutine both write
// to the same connection.
func (s *Session) writeOut(csid uint32, msg *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.encoder.WriteMessage(csid, msg)
}

func (s *Session) sendRaw(csid uint32, typeID byte, streamID uint32, body []byte) error {
	return s.writeOut(csid, &Message{TypeID: typeID, StreamID: streamID, Body: body})
}

func encodeValues(values ...*amf0.Value) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range values {
		if err := amf0.Encode(v, &buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (s *Session) sendInvoke(csid uint32, streamID uint32, values ...*amf0.Value) error {
	body, err := encodeValues(values...)
	if err != nil {
		return err
	}
	return s.sendRaw(csid, TypeInvoke, streamID, body)
}

func (s *Session) sendData(csid uint32, streamID uint32, values ...*amf0.Value) error {
	body, err := encodeValues(values...)
	if err != nil {
		return err
	}
	return s.sendRaw(csid, TypeData, streamID, body)
}

// sendWindowAckSize sends protocol control type 5: the window size (in
// bytes) after which the peer should send us an Acknowledgement.
func (s *Session) sendWindowAckSize(size uint32) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, size)
	return s.sendRaw(ChannelProtocol, TypeWindowAcknowledgeSize, 0, body)
}

// sendSetPeerBandwidth sends protocol control type 6: our own window
// size announcement to the peer, plus a limit type (0 hard, 1 soft, 2
// dynamic).
func (s *Session) sendSetPeerBandwidth(size uint32, limitType byte) error {
	body := make([]byte, 5)
	binary.BigEndian.PutUint32(body, size)
	body[4] = limitType
	return s.sendRaw(ChannelProtocol, TypeSetPeerBandwidth, 0, body)
}

// sendSetChunkSize sends protocol control type 1 and updates this
// session's own encoder to match, since the value we announce binds our
// own subsequent chunks, not the peer's.
func (s *Session) sendSetChunkSize(n uint32) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, n)
	if err := s.sendRaw(ChannelProtocol, TypeSetChunkSize, 0, body); err != nil {
		return err
	}
	s.encoder.SetChunkSize(n)
	return nil
}

// sendUserControl sends protocol control type 4 with a 4-byte stream id
// payload, covering the Stream Begin / Stream EOF / Stream Dry event
// shapes this server emits.
func (s *Session) sendUserControl(event uint16, streamID uint32) error {
	body := make([]byte, 6)
	binary.BigEndian.PutUint16(body[0:2], event)
	binary.BigEndian.PutUint32(body[2:6], streamID)
	return s.sendRaw(ChannelProtocol, TypeUserControl, 0, body)
}

func (s *Session) sendConnectResult(transID float64) error {
	cmdObj := amf0.Object(
		amf0.Pair{Key: "fmsVer", Value: amf0.String("FMS/3,0,1,123")},
		amf0.Pair{Key: "capabilities", Value: amf0.Number(31)},
	)
	info := amf0.Object(
		amf0.Pair{Key: "level", Value: amf0.String("status")},
		amf0.Pair{Key: "code", Value: amf0.String("NetConnection.Connect.Success")},
		amf0.Pair{Key: "description", Value: amf0.String("Connection succeeded.")},
		amf0.Pair{Key: "objectEncoding", Value: amf0.Number(0)},
	)
	return s.sendInvoke(ChannelInvoke, 0, amf0.String("_result"), amf0.Number(transID), cmdObj, info)
}

func (s *Session) sendCreateStreamResult(transID float64, msid uint32) error {
	return s.sendInvoke(ChannelInvoke, 0, amf0.String("_result"), amf0.Number(transID), amf0.Null(), amf0.Number(float64(msid)))
}

// sendStatus sends an onStatus command on the given message stream id,
// the shape used for every status reply after connect/createStream:
// publish start, play reset/start, and the error replies for a bad
// publish or a missing play target.
func (s *Session) sendStatus(streamID uint32, level, code, description string) error {
	info := amf0.Object(
		amf0.Pair{Key: "level", Value: amf0.String(level)},
		amf0.Pair{Key: "code", Value: amf0.String(code)},
		amf0.Pair{Key: "description", Value: amf0.String(description)},
	)
	return s.sendInvoke(ChannelInvoke, streamID, amf0.String("onStatus"), amf0.Number(0), amf0.Null(), info)
}

// sendSampleAccess tells the player it may read raw sample data from
// this stream (no content-protection rights management on either axis).
func (s *Session) sendSampleAccess(streamID uint32) error {
	return s.sendData(ChannelData, streamID, amf0.String("|RtmpSampleAccess"), amf0.Boolean(true), amf0.Boolean(true))
}
