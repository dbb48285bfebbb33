package rtmp

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AgustinSRG/relaystream/internal/amf0"
	"github.com/AgustinSRG/relaystream/internal/registry"
	"github.com/AgustinSRG/relaystream/internal/rtmperr"
)

// newTestSession builds a Session with its encoder wired to an
// in-memory buffer, bypassing Run/handshake entirely so command
// handlers can be exercised directly against a registry.
func newTestSession(buf *bytes.Buffer, reg *registry.Registry) *Session {
	return &Session{
		id:       1,
		registry: reg,
		encoder:  NewEncoder(buf),
		st:       stateConnected,
	}
}

// readInvoke decodes the single message written to buf and returns its
// AMF0 values in order.
func readInvoke(t *testing.T, buf *bytes.Buffer) []*amf0.Value {
	t.Helper()
	dec := NewDecoder(bytes.NewReader(buf.Bytes()))
	msg, err := dec.ReadMessage()
	require.NoError(t, err)

	r := amf0.NewReader(msg.Body)
	var values []*amf0.Value
	for !r.Done() {
		v, err := r.ReadValue()
		require.NoError(t, err)
		values = append(values, v)
	}
	return values
}

func TestSendConnectResultEncodesNetConnectionSuccess(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSession(&buf, registry.New())

	require.NoError(t, s.sendConnectResult(1))

	values := readInvoke(t, &buf)
	require.Len(t, values, 4)
	require.Equal(t, "_result", values[0].AsString())
	require.Equal(t, float64(1), values[1].AsNumber())

	info := values[3]
	code, ok := info.Get("code")
	require.True(t, ok)
	require.Equal(t, "NetConnection.Connect.Success", code.AsString())
}

func TestHandlePublishConflictSendsBadNameStatus(t *testing.T) {
	var buf bytes.Buffer
	reg := registry.New()
	stream := reg.GetOrCreate("mystream")
	require.True(t, stream.AcquirePublisher(999))

	s := newTestSession(&buf, reg)
	args := []*amf0.Value{amf0.Null(), amf0.String("mystream")}

	err := s.handlePublish(args, 1)
	require.Error(t, err)
	require.True(t, rtmperr.Is(err, rtmperr.Conflict))

	values := readInvoke(t, &buf)
	require.Equal(t, "onStatus", values[0].AsString())
	info := values[3]
	code, _ := info.Get("code")
	require.Equal(t, "NetStream.Publish.BadName", code.AsString())
}

func TestHandlePublishSucceedsAndMarksSessionPublishing(t *testing.T) {
	var buf bytes.Buffer
	reg := registry.New()
	s := newTestSession(&buf, reg)
	args := []*amf0.Value{amf0.Null(), amf0.String("mystream")}

	require.NoError(t, s.handlePublish(args, 1))
	require.Equal(t, statePublishing, s.st)

	stream, ok := reg.Lookup("mystream")
	require.True(t, ok)
	require.True(t, stream.HasPublisher())

	values := readInvoke(t, &buf)
	info := values[3]
	code, _ := info.Get("code")
	require.Equal(t, "NetStream.Publish.Start", code.AsString())
}

func TestHandlePlayMissingStreamSendsNotFoundStatus(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSession(&buf, registry.New())
	args := []*amf0.Value{amf0.Null(), amf0.String("absent")}

	err := s.handlePlay(args, 1)
	require.Error(t, err)
	require.True(t, rtmperr.Is(err, rtmperr.NotFound))

	values := readInvoke(t, &buf)
	require.Equal(t, "onStatus", values[0].AsString())
	info := values[3]
	code, _ := info.Get("code")
	require.Equal(t, "NetStream.Play.StreamNotFound", code.AsString())
}

func TestHandleDataCachesMetaDataDroppingSetDataFrameWrapper(t *testing.T) {
	reg := registry.New()
	s := newTestSession(&bytes.Buffer{}, reg)
	s.st = statePublishing
	s.stream = reg.GetOrCreate("mystream")

	width := amf0.Object(amf0.Pair{Key: "width", Value: amf0.Number(1280)})
	encoded, err := encodeValues(amf0.String("@setDataFrame"), amf0.String("onMetaData"), width)
	require.NoError(t, err)

	require.NoError(t, s.handleData(&Message{TypeID: TypeData, Body: encoded}))

	meta := s.stream.MetaData()
	require.NotNil(t, meta)
	w, ok := meta.Get("width")
	require.True(t, ok)
	require.Equal(t, float64(1280), w.AsNumber())

	sub := s.stream.Subscribe(4)
	cached := <-sub.Messages()
	r := amf0.NewReader(cached.Body)
	name, err := r.ReadValue()
	require.NoError(t, err)
	require.Equal(t, "onMetaData", name.AsString())
}

func TestHandleVideoRejectsNonAVCCodec(t *testing.T) {
	reg := registry.New()
	s := newTestSession(&bytes.Buffer{}, reg)
	s.st = statePublishing
	s.stream = reg.GetOrCreate("mystream")

	err := s.handleVideo(&Message{TypeID: TypeVideo, Body: []byte{0x12, 0x01}})
	require.Error(t, err)
	require.True(t, rtmperr.Is(err, rtmperr.Unsupported))
}

func TestHandleVideoCachesSequenceHeaderAndPublishes(t *testing.T) {
	reg := registry.New()
	s := newTestSession(&bytes.Buffer{}, reg)
	s.st = statePublishing
	s.stream = reg.GetOrCreate("mystream")

	seqHeader := &Message{TypeID: TypeVideo, Body: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x42}}
	require.NoError(t, s.handleVideo(seqHeader))
	require.Same(t, seqHeader, s.stream.VideoHeader())

	sub := s.stream.Subscribe(4)
	replayed := <-sub.Messages()
	require.Same(t, seqHeader, replayed)
}

func TestHandleAudioRejectsNonAACCodec(t *testing.T) {
	reg := registry.New()
	s := newTestSession(&bytes.Buffer{}, reg)
	s.st = statePublishing
	s.stream = reg.GetOrCreate("mystream")

	err := s.handleAudio(&Message{TypeID: TypeAudio, Body: []byte{0x22, 0x01}})
	require.Error(t, err)
	require.True(t, rtmperr.Is(err, rtmperr.Unsupported))
}

func TestRunPlayLoopNotifiesUnpublishWhenSubscriberChannelCloses(t *testing.T) {
	var buf bytes.Buffer
	reg := registry.New()
	stream := reg.GetOrCreate("mystream")
	require.True(t, stream.AcquirePublisher(1))

	s := newTestSession(&buf, reg)
	sub := stream.Subscribe(8)

	// Simulate the publisher leaving before the player has received any
	// frames: the subscriber channel closes immediately, so the loop
	// below should fall straight through to the unpublish notification.
	stream.ReleasePublisher()

	s.runPlayLoop(sub, 1)

	statusValues := readInvoke(t, &buf)
	require.Equal(t, "onStatus", statusValues[0].AsString())
	code, ok := statusValues[3].Get("code")
	require.True(t, ok)
	require.Equal(t, "NetStream.Play.UnpublishNotify", code.AsString())

	dec := NewDecoder(bytes.NewReader(buf.Bytes()))
	_, err := dec.ReadMessage() // consume the status message already read above
	require.NoError(t, err)
	eofMsg, err := dec.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(TypeUserControl), eofMsg.TypeID)
	require.Equal(t, uint16(UserControlStreamEOF), binary.BigEndian.Uint16(eofMsg.Body[0:2]))
}

func TestHandleDeleteStreamReleasesPublisher(t *testing.T) {
	reg := registry.New()
	s := newTestSession(&bytes.Buffer{}, reg)
	args := []*amf0.Value{amf0.Null(), amf0.String("mystream")}
	require.NoError(t, s.handlePublish(args, 1))

	require.NoError(t, s.handleDeleteStream())
	require.Equal(t, stateConnected, s.st)

	_, ok := reg.Lookup("mystream")
	require.False(t, ok)
}
