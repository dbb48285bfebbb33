// Package rtmp implements the chunk-stream wire protocol: handshake,
// chunk header parse/emit, message reassembly, and the per-connection
// session state machine that dispatches AMF0 commands.
package rtmp

import "github.com/AgustinSRG/relaystream/internal/message"

// Protocol-level constants, grounded on the Adobe RTMP 1.0 chunk stream
// layout.
const (
	Version       = 3
	HandshakeSize = 1536

	ChunkType0 = 0 // 11 bytes: timestamp(3) + length(3) + type(1) + stream id(4 LE)
	ChunkType1 = 1 // 7 bytes: delta(3) + length(3) + type(1)
	ChunkType2 = 2 // 3 bytes: delta(3)
	ChunkType3 = 3 // 0 bytes, continuation

	ExtendedTimestampThreshold = 0xFFFFFF

	ChannelProtocol = 2
	ChannelInvoke   = 3
	ChannelAudio    = 4
	ChannelVideo    = 5
	ChannelData     = 6

	DefaultChunkSize = 128

	// TypeSetChunkSize through TypeSetPeerBandwidth are protocol
	// control messages, always sent on ChannelProtocol.
	TypeSetChunkSize           = 1
	TypeAbort                  = 2
	TypeAcknowledgement        = 3
	TypeUserControl            = 4
	TypeWindowAcknowledgeSize  = 5
	TypeSetPeerBandwidth       = 6

	TypeAudio = message.TypeAudio
	TypeVideo = message.TypeVideo

	TypeFlexStream  = 15 // AMF3 data, unsupported
	TypeData        = 18 // AMF0 data
	TypeFlexObject  = 16 // AMF3 shared object, unsupported
	TypeSharedObject = 19
	TypeFlexMessage = 17 // AMF3 command, unsupported
	TypeInvoke      = 20 // AMF0 command
	TypeAggregate   = 22

	// User Control Message event types (carried in TypeUserControl body).
	UserControlStreamBegin      = 0
	UserControlStreamEOF        = 1
	UserControlStreamDry        = 2
	UserControlSetBufferLength  = 3
	UserControlStreamIsRecorded = 4
	UserControlPingRequest      = 6
	UserControlPingResponse     = 7

	DefaultWindowAckSize = 5_000_000
	DefaultPeerBandwidth = 5_000_000

	MaxMessageLength = 16 << 20 // 16 MiB ceiling, spec.md §4.2 edge-case policy
)
