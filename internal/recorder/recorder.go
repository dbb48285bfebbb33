// Package recorder implements the best-effort debug dump (spec
// component A4): one FLV file per stream under --record-dir, truncated
// at the start of every new publish. The teacher has no equivalent —
// this is a modest addition named directly by spec.md's "Persisted
// state" section — so its shape is grounded on internal/codec's own
// FLV tag builder and internal/egress's HTTP-FLV writer rather than on
// any single teacher file: open/truncate, write the file header, then
// append one tag per media message, exactly like ServeHTTPFLV but to a
// file instead of a response body.
package recorder

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/AgustinSRG/relaystream/internal/codec"
	"github.com/AgustinSRG/relaystream/internal/logging"
	"github.com/AgustinSRG/relaystream/internal/rtmp"
)

// FLVRecorder dumps one session's published audio/video to
// <dir>/<streamName>.flv. A write failure disables it for the rest of
// that publish instead of propagating — a debug aid must never be able
// to take down a live publish.
type FLVRecorder struct {
	dir string

	mu       sync.Mutex
	file     *os.File
	disabled bool
	base     uint32
	haveBase bool
}

// New returns a recorder writing under dir, creating dir if it does
// not already exist. Callers with an empty --record-dir should not
// construct one at all — internal/rtmp.Session treats a nil Recorder
// as "recording disabled".
func New(dir string) *FLVRecorder {
	_ = os.MkdirAll(dir, 0o755)
	return &FLVRecorder{dir: dir}
}

// Reset truncates (or creates) <dir>/<streamName>.flv and writes the
// FLV file header, called once per new publish.
func (r *FLVRecorder) Reset(streamName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	r.disabled = false
	r.haveBase = false

	path := filepath.Join(r.dir, streamName+".flv")
	f, err := os.Create(path)
	if err != nil {
		logging.Warning("recorder: could not create %s: %s", path, err.Error())
		r.disabled = true
		return
	}
	if _, err := f.Write(codec.FLVFileHeader(true, true)); err != nil {
		logging.Warning("recorder: write failed on %s: %s", path, err.Error())
		f.Close()
		r.disabled = true
		return
	}
	r.file = f
}

func (r *FLVRecorder) WriteVideo(msg *rtmp.Message) { r.write(codec.FLVTagTypeVideo, msg) }

func (r *FLVRecorder) WriteAudio(msg *rtmp.Message) { r.write(codec.FLVTagTypeAudio, msg) }

func (r *FLVRecorder) write(tagType byte, msg *rtmp.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled || r.file == nil {
		return
	}
	if !r.haveBase {
		r.base = msg.Timestamp
		r.haveBase = true
	}
	tag := codec.BuildFLVTag(tagType, msg.Timestamp-r.base, msg.Body)
	if _, err := r.file.Write(tag); err != nil {
		logging.Warning("recorder: write failed, disabling for remainder of publish: %s", err.Error())
		r.disabled = true
	}
}

// Close closes the underlying file, if any is open.
func (r *FLVRecorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *FLVRecorder) closeLocked() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}
