// Package egress implements the stream-out adapters (spec component
// C7): HTTP-FLV, WebSocket raw NALU/ADTS, WebSocket fragmented MP4, and
// the key-frame gating policy all four of them (including the RTMP
// play path in internal/rtmp) share.
//
// Grounded on the teacher's rtmp_publisher.go player-start sequence
// (send codec headers, then replay the GOP cache) and on the
// other_examples httpflv/wsflv Subscriber shape (Attach a channel,
// WriteHeader, then loop writes until the peer goes away), generalized
// from GOP-cache replay to a live gate since this registry never
// retains a GOP cache — see internal/registry's header-replay-only
// design.
package egress

import (
	"sync/atomic"

	"github.com/AgustinSRG/relaystream/internal/message"
)

// defaultSubscriberBacklog is the channel capacity every egress adapter
// asks registry.Stream.Subscribe for, absent an override. Matches
// internal/rtmp's default RTMP-play value so all four egress paths
// apply the same backpressure policy out of the box.
const defaultSubscriberBacklog = 256

var subscriberBacklogVar int32 = defaultSubscriberBacklog

// SetSubscriberBacklog overrides the channel capacity every egress
// adapter asks registry.Stream.Subscribe for, wiring the
// --gop-cache-limit CLI flag (the teacher's GOP_CACHE_SIZE_MB env var,
// re-expressed) to the per-subscriber backpressure buffer this server
// uses in place of a server-side GOP cache.
func SetSubscriberBacklog(n int) {
	if n > 0 {
		atomic.StoreInt32(&subscriberBacklogVar, int32(n))
	}
}

func subscriberBacklog() int {
	return int(atomic.LoadInt32(&subscriberBacklogVar))
}

// KeyFrameGate enforces the rule every egress path must apply: drop or
// skip video frames until the first key frame is observed, then never
// re-drop within the keyframe group that follows. Cached sequence
// headers and non-video messages always pass; only inter frames ahead
// of the first key frame are held back.
//
// Not safe for concurrent use — one gate per subscriber.
type KeyFrameGate struct {
	seenKeyFrame bool
}

// Allow reports whether msg should be forwarded to this subscriber.
func (g *KeyFrameGate) Allow(msg *message.Message) bool {
	if msg.TypeID != message.TypeVideo || len(msg.Body) < 2 {
		return true
	}
	if msg.Body[1] == 0 {
		// AVC sequence header: always needed to decode anything that follows.
		return true
	}
	if g.seenKeyFrame {
		return true
	}
	if msg.Body[0]>>4 == 1 {
		g.seenKeyFrame = true
		return true
	}
	return false
}
