package egress

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AgustinSRG/relaystream/internal/message"
	"github.com/AgustinSRG/relaystream/internal/registry"
)

func TestServeHTTPFLVWritesHeaderThenGatesUntilKeyFrame(t *testing.T) {
	reg := registry.New()
	stream := reg.GetOrCreate("live")
	require.True(t, stream.AcquirePublisher(1))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeHTTPFLV(w, stream)
	}))
	defer srv.Close()

	respCh := make(chan []byte, 1)
	go func() {
		resp, err := http.Get(srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, "video/x-flv", resp.Header.Get("Content-Type"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		respCh <- body
	}()

	require.Eventually(t, func() bool { return stream.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	// Dropped: this inter frame arrives before any key frame has been seen.
	stream.Publish(&message.Message{TypeID: message.TypeVideo, Timestamp: 0, Body: []byte{0x27, 0x01, 0, 0, 0}})
	// Forwarded: the first key frame opens the gate.
	stream.Publish(&message.Message{TypeID: message.TypeVideo, Timestamp: 40, Body: []byte{0x17, 0x01, 0, 0, 0}})

	stream.ReleasePublisher()
	reg.Drop("live", stream)

	body := <-respCh
	require.Equal(t, []byte("FLV"), body[0:3])

	tag := body[13:]
	require.Len(t, tag, 11+5+4, "exactly one tag should have reached the wire")
	require.Equal(t, byte(9), tag[0], "video tag type")
	require.Equal(t, byte(0x17), tag[11], "the forwarded tag is the key frame, not the dropped inter frame")
}
