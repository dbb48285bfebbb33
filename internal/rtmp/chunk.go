package rtmp

import (
	"fmt"
	"io"

	"github.com/AgustinSRG/relaystream/internal/message"
	"github.com/AgustinSRG/relaystream/internal/rtmperr"
)

// Message is a fully reassembled RTMP message: one command, one video
// frame, one audio frame, etc. Construction is complete only once the
// accumulated body length equals the declared message length, which is
// exactly when Decoder.ReadMessage returns it.
//
// Aliased from internal/message so internal/registry can hold these
// without importing this package back (Session, in turn, depends on
// internal/registry).
type Message = message.Message

// csidState is the per chunk-stream decode context: the last header
// seen on this csid (for field inheritance across fmt 1/2/3) plus the
// in-flight reassembly buffer, if a message is partway through.
type csidState struct {
	timestamp uint32 // absolute timestamp of the last message on this csid
	delta     uint32 // timestamp delta applied for the last message, reused by a bare fmt-3 "same as before" chunk
	length    uint32
	typeID    byte
	streamID  uint32
	extended  bool // whether the in-flight message's timestamp field uses the 4-byte extension

	body      []byte
	remaining uint32
}

func (s *csidState) inFlight() bool {
	return s.remaining > 0
}

// Decoder turns a byte stream into a sequence of Messages, maintaining
// one ChunkDecoderState per csid as described by the chunk-stream
// multiplexing rules: fmt 0 carries a full header, fmt 1/2/3 inherit
// progressively more fields from the csid's last header.
type Decoder struct {
	r         io.Reader
	chunkSize uint32
	states    map[uint32]*csidState
	scratch   [4]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:         r,
		chunkSize: DefaultChunkSize,
		states:    make(map[uint32]*csidState),
	}
}

// SetChunkSize updates the chunk size this decoder expects on the wire,
// in response to a received Set Chunk Size protocol control message.
func (d *Decoder) SetChunkSize(n uint32) {
	if n > 0 {
		d.chunkSize = n
	}
}

func (d *Decoder) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: connection closed mid-chunk", rtmperr.PeerGone)
		}
		return nil, err
	}
	return buf, nil
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func readUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func readUint32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// readBasicHeader reads the 1-, 2-, or 3-byte chunk basic header and
// returns (fmt, csid).
func (d *Decoder) readBasicHeader() (int, uint32, error) {
	b0, err := d.readFull(1)
	if err != nil {
		return 0, 0, err
	}
	fmtCode := int(b0[0]>>6) & 0x03
	low := uint32(b0[0] & 0x3F)

	switch low {
	case 0:
		b, err := d.readFull(1)
		if err != nil {
			return 0, 0, err
		}
		return fmtCode, 64 + uint32(b[0]), nil
	case 1:
		b, err := d.readFull(2)
		if err != nil {
			return 0, 0, err
		}
		return fmtCode, 64 + uint32(b[0]) + uint32(b[1])*256, nil
	default:
		return fmtCode, low, nil
	}
}

// ReadMessage reads chunks from the wire until one complete message is
// assembled and returns it.
func (d *Decoder) ReadMessage() (*Message, error) {
	for {
		fmtCode, csid, err := d.readBasicHeader()
		if err != nil {
			return nil, err
		}

		state, exists := d.states[csid]
		if !exists {
			if fmtCode != ChunkType0 {
				return nil, fmt.Errorf("%w: fmt %d chunk with no prior context on csid %d", rtmperr.ProtocolViolation, fmtCode, csid)
			}
			state = &csidState{}
			d.states[csid] = state
		}

		isNewMessage := !state.inFlight()

		switch fmtCode {
		case ChunkType0:
			if exists && !isNewMessage {
				return nil, fmt.Errorf("%w: fmt 0 chunk received mid-message on csid %d", rtmperr.ProtocolViolation, csid)
			}
			hdr, err := d.readFull(11)
			if err != nil {
				return nil, err
			}
			ts3 := readUint24(hdr[0:3])
			length := readUint24(hdr[3:6])
			typeID := hdr[6]
			streamID := readUint32LE(hdr[7:11])

			extended := ts3 == ExtendedTimestampThreshold
			ts := ts3
			if extended {
				ext, err := d.readFull(4)
				if err != nil {
					return nil, err
				}
				ts = readUint32BE(ext)
			}
			if length > MaxMessageLength {
				return nil, fmt.Errorf("%w: message length %d exceeds ceiling", rtmperr.ResourceExhausted, length)
			}
			state.timestamp = ts
			state.delta = 0
			state.length = length
			state.typeID = typeID
			state.streamID = streamID
			state.extended = extended
			state.body = make([]byte, 0, length)
			state.remaining = length

		case ChunkType1:
			if !isNewMessage {
				return nil, fmt.Errorf("%w: fmt 1 chunk received mid-message on csid %d", rtmperr.ProtocolViolation, csid)
			}
			hdr, err := d.readFull(7)
			if err != nil {
				return nil, err
			}
			delta3 := readUint24(hdr[0:3])
			length := readUint24(hdr[3:6])
			typeID := hdr[6]

			extended := delta3 == ExtendedTimestampThreshold
			delta := delta3
			if extended {
				ext, err := d.readFull(4)
				if err != nil {
					return nil, err
				}
				delta = readUint32BE(ext)
			}
			if length > MaxMessageLength {
				return nil, fmt.Errorf("%w: message length %d exceeds ceiling", rtmperr.ResourceExhausted, length)
			}
			state.timestamp += delta
			state.delta = delta
			state.length = length
			state.typeID = typeID
			state.extended = extended
			state.body = make([]byte, 0, length)
			state.remaining = length

		case ChunkType2:
			if !isNewMessage {
				return nil, fmt.Errorf("%w: fmt 2 chunk received mid-message on csid %d", rtmperr.ProtocolViolation, csid)
			}
			hdr, err := d.readFull(3)
			if err != nil {
				return nil, err
			}
			delta3 := readUint24(hdr)

			extended := delta3 == ExtendedTimestampThreshold
			delta := delta3
			if extended {
				ext, err := d.readFull(4)
				if err != nil {
					return nil, err
				}
				delta = readUint32BE(ext)
			}
			state.timestamp += delta
			state.delta = delta
			state.extended = extended
			state.body = make([]byte, 0, state.length)
			state.remaining = state.length

		case ChunkType3:
			if isNewMessage {
				if state.extended {
					if _, err := d.readFull(4); err != nil {
						return nil, err
					}
				}
				state.timestamp += state.delta
				state.body = make([]byte, 0, state.length)
				state.remaining = state.length
			} else if state.extended {
				// The extended-timestamp field is resent on every chunk of a
				// message that used it, including type-3 continuations.
				if _, err := d.readFull(4); err != nil {
					return nil, err
				}
			}
		}

		toRead := state.remaining
		if toRead > d.chunkSize {
			toRead = d.chunkSize
		}
		payload, err := d.readFull(int(toRead))
		if err != nil {
			return nil, err
		}
		state.body = append(state.body, payload...)
		state.remaining -= toRead

		if state.remaining == 0 {
			msg := &Message{
				Csid:      csid,
				Timestamp: state.timestamp,
				TypeID:    state.typeID,
				StreamID:  state.streamID,
				Body:      state.body,
			}
			state.body = nil
			return msg, nil
		}
	}
}

// Encoder splits outgoing messages into chunks using fmt 0 for the
// first chunk of a message and fmt 3 for continuations, per the simple
// (non-delta-optimizing) encode policy this server uses for egress.
type Encoder struct {
	w         io.Writer
	chunkSize uint32
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, chunkSize: DefaultChunkSize}
}

func (e *Encoder) SetChunkSize(n uint32) {
	if n > 0 {
		e.chunkSize = n
	}
}

func writeBasicHeader(buf []byte, fmtCode int, csid uint32) []byte {
	switch {
	case csid < 64:
		return append(buf, byte(fmtCode<<6)|byte(csid))
	case csid < 320:
		return append(buf, byte(fmtCode<<6), byte(csid-64))
	default:
		rem := csid - 64
		return append(buf, byte(fmtCode<<6)|0x01, byte(rem&0xFF), byte((rem>>8)&0xFF))
	}
}

func putUint24(buf []byte, v uint32) {
	buf[0] = byte(v >> 16)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v)
}

// WriteMessage encodes msg as one fmt-0 chunk followed by as many fmt-3
// continuation chunks as needed to carry the whole body.
func (e *Encoder) WriteMessage(csid uint32, msg *Message) error {
	extended := msg.Timestamp >= ExtendedTimestampThreshold

	var out []byte
	out = writeBasicHeader(out, ChunkType0, csid)

	hdr := make([]byte, 11)
	if extended {
		putUint24(hdr[0:3], ExtendedTimestampThreshold)
	} else {
		putUint24(hdr[0:3], msg.Timestamp)
	}
	putUint24(hdr[3:6], uint32(len(msg.Body)))
	hdr[6] = msg.TypeID
	hdr[7] = byte(msg.StreamID)
	hdr[8] = byte(msg.StreamID >> 8)
	hdr[9] = byte(msg.StreamID >> 16)
	hdr[10] = byte(msg.StreamID >> 24)
	out = append(out, hdr...)

	if extended {
		ext := make([]byte, 4)
		ext[0] = byte(msg.Timestamp >> 24)
		ext[1] = byte(msg.Timestamp >> 16)
		ext[2] = byte(msg.Timestamp >> 8)
		ext[3] = byte(msg.Timestamp)
		out = append(out, ext...)
	}

	remaining := msg.Body
	first := true
	for {
		n := len(remaining)
		if uint32(n) > e.chunkSize {
			n = int(e.chunkSize)
		}
		if !first {
			out = writeBasicHeader(out, ChunkType3, csid)
			if extended {
				ext := make([]byte, 4)
				ext[0] = byte(msg.Timestamp >> 24)
				ext[1] = byte(msg.Timestamp >> 16)
				ext[2] = byte(msg.Timestamp >> 8)
				ext[3] = byte(msg.Timestamp)
				out = append(out, ext...)
			}
		}
		out = append(out, remaining[:n]...)
		remaining = remaining[n:]
		first = false
		if len(remaining) == 0 {
			break
		}
	}

	_, err := e.w.Write(out)
	return err
}
