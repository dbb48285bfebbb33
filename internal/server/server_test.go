package server

import (
	"io"
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

func newTestServer(reg *registry.Registry) *Server {
	return New(Config{RTMPPort: 1935}, reg, nil)
}

func TestHTTPFLVHandlerReturns404ForUnknownStream(t *testing.T) {
	reg := registry.New()
	s := newTestServer(reg)

	srv := httptest.NewServer(s.httpFLVHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/absent")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPFLVHandlerReturns404WhenNoPublisherIsLive(t *testing.T) {
	reg := registry.New()
	reg.GetOrCreate("live") // exists, but nobody has published to it yet
	s := newTestServer(reg)

	srv := httptest.NewServer(s.httpFLVHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPFLVHandlerStreamsPublishedStream(t *testing.T) {
	reg := registry.New()
	stream := reg.GetOrCreate("live")
	require.True(t, stream.AcquirePublisher(1))
	s := newTestServer(reg)

	srv := httptest.NewServer(s.httpFLVHandler())
	defer srv.Close()

	respCh := make(chan []byte, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/live")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		respCh <- body
	}()

	require.Eventually(t, func() bool { return stream.SubscriberCount() == 1 }, time.Second, time.Millisecond)
	stream.Publish(&message.Message{TypeID: message.TypeVideo, Body: []byte{0x17, 0x01, 0, 0, 0}})
	stream.ReleasePublisher()
	reg.Drop("live", stream)

	body := <-respCh
	require.Equal(t, []byte("FLV"), body[0:3])
}

func TestWSH264HandlerRejectsUnknownStreamBeforeUpgrade(t *testing.T) {
	reg := registry.New()
	s := newTestServer(reg)

	srv := httptest.NewServer(s.wsH264Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/websocket/absent"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPPlayerHandlerServesPageWithConfiguredRTMPPort(t *testing.T) {
	reg := registry.New()
	s := New(Config{RTMPPort: 19350}, reg, nil)

	srv := httptest.NewServer(s.httpPlayerHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "19350")
}
