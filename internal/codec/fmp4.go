package codec

import (
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
	"github.com/orcaman/writerseeker"
)

// DefaultFMP4TimeScale is the timescale used for the single video track
// in the fragmented MP4 output: 1,000,000 units per second gives
// microsecond-granularity decode timestamps.
const DefaultFMP4TimeScale = 1_000_000

const (
	trunFlagDataOffsetPreset                       = 0x01
	trunFlagSampleDurationPresent                  = 0x100
	trunFlagSampleSizePresent                      = 0x200
	trunFlagSampleFlagsPresent                     = 0x400
	trunFlagSampleCompositionTimeOffsetPresentOrV1 = 0x800

	sampleFlagIsNonSyncSample = 1 << 16
)

// mp4Writer wraps a seekable in-memory buffer with go-mp4's box writer, so
// a box emitted early (the trun's data offset) can be patched once the
// bytes that follow it are known.
type mp4Writer struct {
	buf *writerseeker.WriterSeeker
	w   *gomp4.Writer
}

func newMP4Writer() *mp4Writer {
	w := &mp4Writer{buf: &writerseeker.WriterSeeker{}}
	w.w = gomp4.NewWriter(w.buf)
	return w
}

func (w *mp4Writer) writeBoxStart(box gomp4.IImmutableBox) (int, error) {
	bi, err := w.w.StartBox(&gomp4.BoxInfo{Type: box.GetType()})
	if err != nil {
		return 0, err
	}
	if _, err := gomp4.Marshal(w.w, box, gomp4.Context{}); err != nil {
		return 0, err
	}
	return int(bi.Offset), nil
}

func (w *mp4Writer) writeBoxEnd() error {
	_, err := w.w.EndBox()
	return err
}

func (w *mp4Writer) WriteBox(box gomp4.IImmutableBox) (int, error) {
	off, err := w.writeBoxStart(box)
	if err != nil {
		return 0, err
	}
	if err := w.writeBoxEnd(); err != nil {
		return 0, err
	}
	return off, nil
}

func (w *mp4Writer) rewriteBox(off int, box gomp4.IImmutableBox) error {
	prevOff, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.w.Seek(int64(off), io.SeekStart); err != nil {
		return err
	}
	if _, err := w.writeBoxStart(box); err != nil {
		return err
	}
	if err := w.writeBoxEnd(); err != nil {
		return err
	}
	_, err = w.w.Seek(prevOff, io.SeekStart)
	return err
}

func (w *mp4Writer) bytes() []byte {
	return w.buf.Bytes()
}

// FMP4Track describes the one video track carried by the fragmented MP4
// output. SPS and PPS are the raw (unframed) NALUs collected from the
// AVC sequence header; Width/Height are supplied by the caller
// (ServeWSFMP4 reads them from the cached onMetaData values and falls
// back to 1280x720 when the publisher never sent them).
type FMP4Track struct {
	ID        int
	TimeScale uint32
	Width     int
	Height    int
	SPS       []byte
	PPS       []byte
}

// BuildFMP4InitSegment encodes the ftyp+moov initialization segment for
// a single H.264 track: avcC embeds the track's SPS and PPS.
//
//	ftyp
//	moov
//	  mvhd
//	  trak
//	    tkhd
//	    mdia
//	      mdhd / hdlr / minf(vmhd/dinf/stbl(stsd(avc1(avcC/btrt))/stts/stsc/stsz/stco))
//	  mvex
//	    trex
func BuildFMP4InitSegment(track *FMP4Track) ([]byte, error) {
	if len(track.SPS) < 4 {
		return nil, fmt.Errorf("SPS too short to build avcC")
	}

	w := newMP4Writer()

	_, err := w.WriteBox(&gomp4.Ftyp{
		MajorBrand:   [4]byte{'m', 'p', '4', '2'},
		MinorVersion: 1,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '2'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := w.writeBoxStart(&gomp4.Moov{}); err != nil {
		return nil, err
	}

	_, err = w.WriteBox(&gomp4.Mvhd{
		Timescale:   1000,
		Rate:        65536,
		Volume:      256,
		Matrix:      [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
		NextTrackID: uint32(track.ID) + 1,
	})
	if err != nil {
		return nil, err
	}

	if err := marshalVideoTrak(w, track); err != nil {
		return nil, err
	}

	if _, err := w.writeBoxStart(&gomp4.Mvex{}); err != nil {
		return nil, err
	}
	_, err = w.WriteBox(&gomp4.Trex{
		TrackID:                       uint32(track.ID),
		DefaultSampleDescriptionIndex: 1,
	})
	if err != nil {
		return nil, err
	}
	if err := w.writeBoxEnd(); err != nil { // </mvex>
		return nil, err
	}

	if err := w.writeBoxEnd(); err != nil { // </moov>
		return nil, err
	}

	return w.bytes(), nil
}

func marshalVideoTrak(w *mp4Writer, track *FMP4Track) error {
	if _, err := w.writeBoxStart(&gomp4.Trak{}); err != nil {
		return err
	}

	_, err := w.WriteBox(&gomp4.Tkhd{
		FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID: uint32(track.ID),
		Width:   uint32(track.Width * 65536),
		Height:  uint32(track.Height * 65536),
		Matrix:  [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
	})
	if err != nil {
		return err
	}

	if _, err := w.writeBoxStart(&gomp4.Mdia{}); err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Mdhd{
		Timescale: track.TimeScale,
		Language:  [3]byte{'u', 'n', 'd'},
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Hdlr{
		HandlerType: [4]byte{'v', 'i', 'd', 'e'},
		Name:        "VideoHandler",
	})
	if err != nil {
		return err
	}

	if _, err := w.writeBoxStart(&gomp4.Minf{}); err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Vmhd{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}})
	if err != nil {
		return err
	}

	if _, err := w.writeBoxStart(&gomp4.Dinf{}); err != nil {
		return err
	}
	if _, err := w.writeBoxStart(&gomp4.Dref{EntryCount: 1}); err != nil {
		return err
	}
	_, err = w.WriteBox(&gomp4.Url{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}})
	if err != nil {
		return err
	}
	if err := w.writeBoxEnd(); err != nil { // </dref>
		return err
	}
	if err := w.writeBoxEnd(); err != nil { // </dinf>
		return err
	}

	if err := marshalStbl(w, track); err != nil {
		return err
	}

	if err := w.writeBoxEnd(); err != nil { // </minf>
		return err
	}
	if err := w.writeBoxEnd(); err != nil { // </mdia>
		return err
	}
	return w.writeBoxEnd() // </trak>
}

func marshalStbl(w *mp4Writer, track *FMP4Track) error {
	if _, err := w.writeBoxStart(&gomp4.Stbl{}); err != nil {
		return err
	}
	if _, err := w.writeBoxStart(&gomp4.Stsd{EntryCount: 1}); err != nil {
		return err
	}

	_, err := w.writeBoxStart(&gomp4.VisualSampleEntry{
		SampleEntry: gomp4.SampleEntry{
			AnyTypeBox:         gomp4.AnyTypeBox{Type: gomp4.BoxTypeAvc1()},
			DataReferenceIndex: 1,
		},
		Width:           uint16(track.Width),
		Height:          uint16(track.Height),
		Horizresolution: 4718592,
		Vertresolution:  4718592,
		FrameCount:      1,
		Depth:           24,
		PreDefined3:     -1,
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.AVCDecoderConfiguration{
		AnyTypeBox:                 gomp4.AnyTypeBox{Type: gomp4.BoxTypeAvcC()},
		ConfigurationVersion:       1,
		Profile:                    track.SPS[1],
		ProfileCompatibility:       track.SPS[2],
		Level:                      track.SPS[3],
		LengthSizeMinusOne:         3,
		NumOfSequenceParameterSets: 1,
		SequenceParameterSets: []gomp4.AVCParameterSet{
			{Length: uint16(len(track.SPS)), NALUnit: track.SPS},
		},
		NumOfPictureParameterSets: 1,
		PictureParameterSets: []gomp4.AVCParameterSet{
			{Length: uint16(len(track.PPS)), NALUnit: track.PPS},
		},
	})
	if err != nil {
		return err
	}

	_, err = w.WriteBox(&gomp4.Btrt{MaxBitrate: 1000000, AvgBitrate: 1000000})
	if err != nil {
		return err
	}

	if err := w.writeBoxEnd(); err != nil { // </avc1>
		return err
	}
	if err := w.writeBoxEnd(); err != nil { // </stsd>
		return err
	}

	if _, err := w.WriteBox(&gomp4.Stts{}); err != nil {
		return err
	}
	if _, err := w.WriteBox(&gomp4.Stsc{}); err != nil {
		return err
	}
	if _, err := w.WriteBox(&gomp4.Stsz{}); err != nil {
		return err
	}
	if _, err := w.WriteBox(&gomp4.Stco{}); err != nil {
		return err
	}

	return w.writeBoxEnd() // </stbl>
}

// FMP4Segmenter emits successive moof+mdat media segments for one video
// track, carrying the session's monotonic sequence number and decode
// clock. Not safe for concurrent use; callers serialize it the same way
// they serialize publish-side message delivery.
type FMP4Segmenter struct {
	track    *FMP4Track
	duration uint32
	dts      uint64
	seq      uint32
}

// NewFMP4Segmenter builds a segmenter whose nominal per-frame duration
// is timescale/frameRate, rounded down. A frameRate of 0 falls back to
// 30fps so a malformed or absent rate never produces a zero duration.
func NewFMP4Segmenter(track *FMP4Track, frameRate float64) *FMP4Segmenter {
	if frameRate <= 0 {
		frameRate = 30
	}
	return &FMP4Segmenter{
		track:    track,
		duration: uint32(float64(track.TimeScale) / frameRate),
	}
}

// WrapFrame encodes one AVCC-framed NALU payload as a moof+mdat media
// segment, advancing the sequence number and decode clock for the next
// call. isKeyFrame controls the trun sample's dependency flags: a key
// frame is marked non-dependent and sync; anything else is marked
// dependent and non-sync.
func (s *FMP4Segmenter) WrapFrame(avccPayload []byte, isKeyFrame bool) ([]byte, error) {
	w := newMP4Writer()

	moofOffset, err := w.writeBoxStart(&gomp4.Moof{})
	if err != nil {
		return nil, err
	}

	_, err = w.WriteBox(&gomp4.Mfhd{SequenceNumber: s.seq})
	if err != nil {
		return nil, err
	}

	trun, trunOffset, err := s.marshalTraf(w, len(avccPayload), isKeyFrame)
	if err != nil {
		return nil, err
	}

	if err := w.writeBoxEnd(); err != nil { // </moof>
		return nil, err
	}

	mdat := &gomp4.Mdat{Data: avccPayload}
	mdatOffset, err := w.WriteBox(mdat)
	if err != nil {
		return nil, err
	}

	trun.DataOffset = int32(mdatOffset - moofOffset + 8)
	if err := w.rewriteBox(trunOffset, trun); err != nil {
		return nil, err
	}

	s.dts += uint64(s.duration)
	s.seq++

	return w.bytes(), nil
}

// marshalTraf builds the traf box for one emitted sample: tfhd + tfdt +
// trun. Sample flags mark a key frame as non-dependent/sync and
// anything else as dependent/non-sync, per the dependency-bit encoding
// ISO/IEC 14496-12 assigns to sample_depends_on / sample_is_non_sync.
func (s *FMP4Segmenter) marshalTraf(w *mp4Writer, payloadSize int, isKeyFrame bool) (*gomp4.Trun, int, error) {
	if _, err := w.writeBoxStart(&gomp4.Traf{}); err != nil {
		return nil, 0, err
	}

	_, err := w.WriteBox(&gomp4.Tfhd{
		FullBox: gomp4.FullBox{Flags: [3]byte{2, 0, 0}},
		TrackID: uint32(s.track.ID),
	})
	if err != nil {
		return nil, 0, err
	}

	_, err = w.WriteBox(&gomp4.Tfdt{
		FullBox:               gomp4.FullBox{Version: 1},
		BaseMediaDecodeTimeV1: s.dts,
	})
	if err != nil {
		return nil, 0, err
	}

	const flags = trunFlagDataOffsetPreset |
		trunFlagSampleDurationPresent |
		trunFlagSampleSizePresent |
		trunFlagSampleFlagsPresent |
		trunFlagSampleCompositionTimeOffsetPresentOrV1

	// sample_depends_on occupies bits 24-25: 2 = depends on no other
	// sample, 1 = depends on other samples.
	const (
		sampleFlagDependsOnOthers = 1 << 24
		sampleFlagDependsOnNone   = 2 << 24
	)

	var sampleFlags uint32 = sampleFlagDependsOnNone
	if !isKeyFrame {
		sampleFlags = sampleFlagDependsOnOthers | sampleFlagIsNonSyncSample
	}

	trun := &gomp4.Trun{
		FullBox:     gomp4.FullBox{Version: 1, Flags: [3]byte{0, byte(flags >> 8), byte(flags)}},
		SampleCount: 1,
		Entries: []gomp4.TrunEntry{
			{
				SampleDuration:                s.duration,
				SampleSize:                    uint32(payloadSize),
				SampleFlags:                   sampleFlags,
				SampleCompositionTimeOffsetV1: 0,
			},
		},
	}

	trunOffset, err := w.WriteBox(trun)
	if err != nil {
		return nil, 0, err
	}

	if err := w.writeBoxEnd(); err != nil { // </traf>
		return nil, 0, err
	}

	return trun, trunOffset, nil
}
