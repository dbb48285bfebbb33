package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AgustinSRG/relaystream/internal/rtmp"
)

func TestResetTruncatesOnEachNewPublish(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)

	r.Reset("live")
	r.WriteVideo(&rtmp.Message{TypeID: rtmp.TypeVideo, Timestamp: 0, Body: []byte{0x17, 0x01, 0, 0, 0}})
	r.WriteVideo(&rtmp.Message{TypeID: rtmp.TypeVideo, Timestamp: 40, Body: []byte{0x27, 0x01, 0, 0, 0}})
	r.Close()

	path := filepath.Join(dir, "live.flv")
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(first), 13, "file header plus at least one tag")

	r.Reset("live")
	r.Close()

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, second, 13, "a fresh publish truncates back to just the file header")
}

func TestWriteAfterCloseIsANoOp(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	r.Reset("live")
	r.Close()

	require.NotPanics(t, func() {
		r.WriteVideo(&rtmp.Message{TypeID: rtmp.TypeVideo, Body: []byte{0x17, 0x01, 0, 0, 0}})
	})
}
