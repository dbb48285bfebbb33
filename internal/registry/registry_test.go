package registry

import (
	"testing"

	"github.com/AgustinSRG/relaystream/internal/message"
	"github.com/stretchr/testify/require"
)

func TestPublisherUniqueness(t *testing.T) {
	r := New()
	s := r.GetOrCreate("live")
	require.True(t, s.AcquirePublisher(1))
	require.False(t, s.AcquirePublisher(2))
	require.Equal(t, uint64(1), s.PublisherID())
}

func TestCleanupOnPublisherDrop(t *testing.T) {
	r := New()
	s := r.GetOrCreate("live")
	require.True(t, s.AcquirePublisher(1))
	sub := s.Subscribe(16)

	s.ReleasePublisher()
	r.Drop("live", s)

	_, ok := r.Lookup("live")
	require.False(t, ok)

	_, stillOpen := <-sub.Messages()
	require.False(t, stillOpen)
}

func TestHeaderReplayBeforeMedia(t *testing.T) {
	r := New()
	s := r.GetOrCreate("live")
	require.True(t, s.AcquirePublisher(1))

	videoHdr := &message.Message{TypeID: message.TypeVideo, Body: []byte{0x17, 0x00}}
	audioHdr := &message.Message{TypeID: message.TypeAudio, Body: []byte{0xAF, 0x00}}
	s.CacheVideoHeader(videoHdr)
	s.CacheAudioHeader(audioHdr)

	sub := s.Subscribe(16)
	s.Publish(&message.Message{TypeID: message.TypeVideo, Body: []byte{0x17, 0x01}})

	first := <-sub.Messages()
	require.Equal(t, videoHdr, first)
	second := <-sub.Messages()
	require.Equal(t, audioHdr, second)
	third := <-sub.Messages()
	require.Equal(t, byte(0x01), third.Body[1])
}

func TestOrderingPreservedPerSubscriber(t *testing.T) {
	r := New()
	s := r.GetOrCreate("live")
	require.True(t, s.AcquirePublisher(1))
	sub := s.Subscribe(16)

	for i := 0; i < 5; i++ {
		s.Publish(&message.Message{TypeID: message.TypeVideo, Timestamp: uint32(i), Body: []byte{0x27, 0x01}})
	}

	for i := 0; i < 5; i++ {
		msg := <-sub.Messages()
		require.Equal(t, uint32(i), msg.Timestamp)
	}
}

func TestDropsNonKeyFramesWhenSubscriberBacklogIsFull(t *testing.T) {
	r := New()
	s := r.GetOrCreate("live")
	require.True(t, s.AcquirePublisher(1))
	sub := s.Subscribe(2)

	inter := &message.Message{TypeID: message.TypeVideo, Body: []byte{0x27, 0x01}}
	for i := 0; i < 10; i++ {
		s.Publish(inter)
	}
	require.Greater(t, sub.Dropped(), uint64(0))
}

func TestKeyFrameDrainsBacklogOnOverflow(t *testing.T) {
	r := New()
	s := r.GetOrCreate("live")
	require.True(t, s.AcquirePublisher(1))
	sub := s.Subscribe(2)

	inter := &message.Message{TypeID: message.TypeVideo, Body: []byte{0x27, 0x01}}
	s.Publish(inter)
	s.Publish(inter)

	key := &message.Message{TypeID: message.TypeVideo, Body: []byte{0x17, 0x01}, Timestamp: 999}
	s.Publish(key)

	msg := <-sub.Messages()
	require.Equal(t, uint32(999), msg.Timestamp)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	r := New()
	s := r.GetOrCreate("live")
	sub := s.Subscribe(4)
	s.Unsubscribe(sub.ID())
	_, open := <-sub.Messages()
	require.False(t, open)
	require.Equal(t, 0, s.SubscriberCount())
}
