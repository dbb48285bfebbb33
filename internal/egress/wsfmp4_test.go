package egress

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/AgustinSRG/relaystream/internal/message"
	"github.com/AgustinSRG/relaystream/internal/registry"
)

func TestServeWSFMP4SendsInitSegmentThenMediaSegments(t *testing.T) {
	reg := registry.New()
	stream := reg.GetOrCreate("live")
	require.True(t, stream.AcquirePublisher(1))

	sps := []byte{0x67, 0x42, 0x00, 0x1e, 0xaa}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	stream.CacheVideoHeader(&message.Message{TypeID: message.TypeVideo, Body: buildAVCSequenceHeader(sps, pps)})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		ServeWSFMP4(conn, stream)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, init, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("ftyp"), init[4:8])

	require.Eventually(t, func() bool { return stream.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	nalu := []byte{0x65, 0x01, 0x02, 0x03}
	stream.Publish(&message.Message{TypeID: message.TypeVideo, Body: buildAVCNALUMessage(true, nalu)})

	_, segment, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("moof"), segment[4:8])
}

func TestServeWSFMP4ClosesImmediatelyWithoutCachedVideoHeader(t *testing.T) {
	reg := registry.New()
	stream := reg.GetOrCreate("live")
	require.True(t, stream.AcquirePublisher(1))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		ServeWSFMP4(conn, stream)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	require.Error(t, err, "the server closes the connection when no avc sequence header is cached yet")
}
