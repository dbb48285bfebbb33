package codec

import "encoding/binary"

const (
	FLVTagTypeAudio      = 8
	FLVTagTypeVideo      = 9
	FLVTagTypeScriptData = 18
)

// FLVFileHeader builds the 13-byte FLV file header: signature "FLV",
// version 1, a flags byte marking which media types are present, a
// fixed header-size field of 9, and the 4-byte zero "previous tag
// size" that always precedes the first real tag.
func FLVFileHeader(hasAudio, hasVideo bool) []byte {
	var flags byte
	if hasAudio {
		flags |= 0x04
	}
	if hasVideo {
		flags |= 0x01
	}
	return []byte{'F', 'L', 'V', 0x01, flags, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}
}

// BuildFLVTag frames payload as one FLV tag: 1-byte tag type, u24 data
// size, u24 timestamp low bits + u8 extended high byte, u24 stream id
// (always 0), the payload, then the trailing u32 "previous tag size".
func BuildFLVTag(tagType byte, timestamp uint32, payload []byte) []byte {
	dataSize := uint32(len(payload))
	tag := make([]byte, 11+len(payload)+4)

	tag[0] = tagType
	tag[1] = byte(dataSize >> 16)
	tag[2] = byte(dataSize >> 8)
	tag[3] = byte(dataSize)
	tag[4] = byte(timestamp >> 16)
	tag[5] = byte(timestamp >> 8)
	tag[6] = byte(timestamp)
	tag[7] = byte(timestamp >> 24)
	tag[8] = 0
	tag[9] = 0
	tag[10] = 0
	copy(tag[11:], payload)

	prevTagSize := uint32(11 + len(payload))
	binary.BigEndian.PutUint32(tag[11+len(payload):], prevTagSize)
	return tag
}

// VideoTagPayload builds the FLV video-tag payload from the original
// RTMP video message body (FLV reuses the RTMP VideoTagHeader layout
// verbatim, so this is a pass-through retained as a named seam for
// clarity at call sites).
func VideoTagPayload(rtmpVideoBody []byte) []byte { return rtmpVideoBody }

// AudioTagPayload is the audio equivalent of VideoTagPayload.
func AudioTagPayload(rtmpAudioBody []byte) []byte { return rtmpAudioBody }
