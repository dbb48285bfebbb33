// Package codec implements the RTMP media-message transforms (spec
// component C6): demuxing RTMP video/audio bodies into H.264 NALUs and
// raw AAC, re-framing NALUs as Annex-B or AVCC, wrapping AAC in ADTS,
// and building FLV tags and fragmented MP4 boxes for egress.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/AgustinSRG/relaystream/internal/rtmperr"
)

const (
	NALUTypeSPS = 7
	NALUTypePPS = 8

	avcPacketTypeSequenceHeader = 0
	avcPacketTypeNALU           = 1
	avcPacketTypeEndOfSequence  = 2
)

// NALUType returns the nal_unit_type (low 5 bits of the first byte) of
// a raw, unframed NALU.
func NALUType(nalu []byte) byte {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1F
}

// ParseVideoMessage demultiplexes one RTMP video message body into its
// contained NALUs (unframed — no start code, no length prefix).
//
// Body layout: byte 0 = frame-type:4 | codec-id:4 (0x17 = key frame +
// AVC); byte 1 = AVC packet type (0 seq header, 1 NALU, 2 end); bytes
// 2..4 = signed 24-bit composition time, unused here. For packet type
// 0 the remainder is an AVCDecoderConfigurationRecord: 5 bytes of
// version/profile/level fields, then (count, (u16 length, bytes)...)
// for SPS followed by the same shape for PPS. For packet type 1 the
// remainder is one or more (u32 length, bytes) NALU records.
func ParseVideoMessage(body []byte) (nalus [][]byte, isKeyFrame bool, isSequenceHeader bool, err error) {
	if len(body) < 5 {
		return nil, false, false, fmt.Errorf("%w: video message shorter than header", rtmperr.ProtocolViolation)
	}
	isKeyFrame = body[0] == 0x17
	packetType := body[1]
	idx := 5

	switch packetType {
	case avcPacketTypeSequenceHeader:
		isSequenceHeader = true
		if len(body) < idx+6 {
			return nil, false, false, fmt.Errorf("%w: AVCDecoderConfigurationRecord too short", rtmperr.ProtocolViolation)
		}
		idx += 5 // version, profile, profile-compat, level, lengthSizeMinusOne
		numSPS := body[idx] & 0x1F
		idx++
		for i := 0; i < int(numSPS); i++ {
			nalu, next, err := readLengthPrefixed16(body, idx)
			if err != nil {
				return nil, false, false, err
			}
			nalus = append(nalus, nalu)
			idx = next
		}
		if idx >= len(body) {
			return nil, false, false, fmt.Errorf("%w: AVCDecoderConfigurationRecord missing PPS count", rtmperr.ProtocolViolation)
		}
		numPPS := body[idx] & 0x1F
		idx++
		for i := 0; i < int(numPPS); i++ {
			nalu, next, err := readLengthPrefixed16(body, idx)
			if err != nil {
				return nil, false, false, err
			}
			nalus = append(nalus, nalu)
			idx = next
		}
	case avcPacketTypeNALU:
		for idx < len(body) {
			nalu, next, err := readLengthPrefixed32(body, idx)
			if err != nil {
				return nil, false, false, err
			}
			nalus = append(nalus, nalu)
			idx = next
		}
	case avcPacketTypeEndOfSequence:
		// no NALUs
	default:
		return nil, false, false, fmt.Errorf("%w: AVC packet type %d", rtmperr.Unsupported, packetType)
	}

	return nalus, isKeyFrame, isSequenceHeader, nil
}

func readLengthPrefixed16(body []byte, idx int) ([]byte, int, error) {
	if idx+2 > len(body) {
		return nil, 0, fmt.Errorf("%w: truncated NALU length", rtmperr.ProtocolViolation)
	}
	n := int(binary.BigEndian.Uint16(body[idx:]))
	idx += 2
	if idx+n > len(body) {
		return nil, 0, fmt.Errorf("%w: truncated NALU data", rtmperr.ProtocolViolation)
	}
	return body[idx : idx+n], idx + n, nil
}

func readLengthPrefixed32(body []byte, idx int) ([]byte, int, error) {
	if idx+4 > len(body) {
		return nil, 0, fmt.Errorf("%w: truncated NALU length", rtmperr.ProtocolViolation)
	}
	n := int(binary.BigEndian.Uint32(body[idx:]))
	idx += 4
	if idx+n > len(body) {
		return nil, 0, fmt.Errorf("%w: truncated NALU data", rtmperr.ProtocolViolation)
	}
	return body[idx : idx+n], idx + n, nil
}

// ToAnnexB frames a sequence of raw NALUs with 4-byte start codes,
// concatenated into one buffer.
func ToAnnexB(nalus [][]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

// ToAVCC frames one raw NALU with a 4-byte big-endian length prefix.
func ToAVCC(nalu []byte) []byte {
	out := make([]byte, 4+len(nalu))
	binary.BigEndian.PutUint32(out, uint32(len(nalu)))
	copy(out[4:], nalu)
	return out
}

// SplitSPSPPS separates SPS/PPS NALUs (as found in an AVC sequence
// header message) from everything else, for callers building an avcC
// box.
func SplitSPSPPS(nalus [][]byte) (sps, pps [][]byte) {
	for _, n := range nalus {
		switch NALUType(n) {
		case NALUTypeSPS:
			sps = append(sps, n)
		case NALUTypePPS:
			pps = append(pps, n)
		}
	}
	return
}
