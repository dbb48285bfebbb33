package codec

import (
	"fmt"

	"github.com/AgustinSRG/relaystream/internal/rtmperr"
)

const soundFormatAAC = 10

var aacSampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350,
}

// AudioSpecificConfig is the decoded form of the 2-byte AAC
// AudioSpecificConfig carried in the AAC sequence header message.
type AudioSpecificConfig struct {
	ObjectType      byte
	SampleRateIndex byte
	SampleRate      int
	ChannelConfig   byte
}

// ParseAudioSpecificConfig decodes the first two bytes of an
// AudioSpecificConfig: audioObjectType (5 bits), samplingFrequencyIndex
// (4 bits), channelConfiguration (4 bits).
func ParseAudioSpecificConfig(asc []byte) (*AudioSpecificConfig, error) {
	if len(asc) < 2 {
		return nil, fmt.Errorf("%w: AudioSpecificConfig shorter than 2 bytes", rtmperr.ProtocolViolation)
	}
	objectType := asc[0] >> 3
	sampleRateIndex := ((asc[0] & 0x07) << 1) | (asc[1] >> 7)
	channelConfig := (asc[1] >> 3) & 0x0F

	rate := 0
	if int(sampleRateIndex) < len(aacSampleRates) {
		rate = aacSampleRates[sampleRateIndex]
	}

	return &AudioSpecificConfig{
		ObjectType:      objectType,
		SampleRateIndex: sampleRateIndex,
		SampleRate:      rate,
		ChannelConfig:   channelConfig,
	}, nil
}

// ParseAudioMessage demultiplexes an RTMP audio message body. Byte 0 =
// soundFormat:4 | rate:2 | size:1 | type:1 (0xAF => AAC, 44kHz, 16-bit,
// stereo); byte 1 = AAC packet type (0 = AudioSpecificConfig, 1 = raw
// frame). Only AAC is supported; anything else is Unsupported.
func ParseAudioMessage(body []byte) (payload []byte, isSequenceHeader bool, err error) {
	if len(body) < 2 {
		return nil, false, fmt.Errorf("%w: audio message shorter than header", rtmperr.ProtocolViolation)
	}
	soundFormat := body[0] >> 4
	if soundFormat != soundFormatAAC {
		return nil, false, fmt.Errorf("%w: audio codec %d", rtmperr.Unsupported, soundFormat)
	}
	return body[2:], body[1] == 0, nil
}

// BuildADTSHeader constructs the 7-byte ADTS header for one AAC raw
// block of length frameLen (the payload length, not including the
// header itself).
func BuildADTSHeader(asc *AudioSpecificConfig, frameLen int) []byte {
	const bufferFullness = 0x7FF // VBR: all ones

	profile := asc.ObjectType - 1
	frameLength := frameLen + 7

	hdr := make([]byte, 7)
	hdr[0] = 0xFF
	hdr[1] = 0xF1 // MPEG-4, layer 0, protection absent
	hdr[2] = (profile << 6) | (asc.SampleRateIndex << 2) | ((asc.ChannelConfig >> 2) & 0x01)
	hdr[3] = ((asc.ChannelConfig & 0x03) << 6) | byte((frameLength>>11)&0x03)
	hdr[4] = byte((frameLength >> 3) & 0xFF)
	hdr[5] = byte((frameLength&0x07)<<5) | byte((bufferFullness>>6)&0x1F)
	hdr[6] = byte((bufferFullness&0x3F)<<2) | 0x00 // number_of_frames_minus_1 == 0
	return hdr
}

// BuildADTSFrame prepends the ADTS header to one raw AAC block.
func BuildADTSFrame(asc *AudioSpecificConfig, raw []byte) []byte {
	hdr := BuildADTSHeader(asc, len(raw))
	out := make([]byte, 0, len(hdr)+len(raw))
	out = append(out, hdr...)
	out = append(out, raw...)
	return out
}
