package rtmp

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AgustinSRG/relaystream/internal/amf0"
	"github.com/AgustinSRG/relaystream/internal/egress"
	"github.com/AgustinSRG/relaystream/internal/logging"
	"github.com/AgustinSRG/relaystream/internal/registry"
	"github.com/AgustinSRG/relaystream/internal/rtmperr"
)

const (
	defaultSubscriberBacklog = 256
	outChunkSize             = 4096
)

var sessionCounter uint64
var subscriberBacklog int32 = defaultSubscriberBacklog

// NextSessionID hands out a process-wide unique id for Request log lines
// and registry publisher-ownership checks.
func NextSessionID() uint64 { return atomic.AddUint64(&sessionCounter, 1) }

// SetSubscriberBacklog overrides the channel capacity a play session
// asks registry.Stream.Subscribe for, wiring the --gop-cache-limit CLI
// flag (the teacher's GOP_CACHE_SIZE_MB env var, re-expressed) to the
// per-subscriber backpressure buffer this server uses in its place.
func SetSubscriberBacklog(n int) {
	if n > 0 {
		atomic.StoreInt32(&subscriberBacklog, int32(n))
	}
}

// Recorder is the optional best-effort debug-dump hook a Session drives
// as it publishes media (spec component A4). A nil Recorder disables
// recording entirely; a Recorder must never fail a publish.
type Recorder interface {
	Reset(streamName string)
	WriteVideo(msg *Message)
	WriteAudio(msg *Message)
	Close()
}

type sessionState int

const (
	stateHandshaking sessionState = iota
	stateConnected
	statePublishing
	statePlaying
	stateClosed
)

// Session is one RTMP connection: handshake, chunk-stream codec, and
// the connect/publish/play command dispatch built on top of it.
//
// Generalized from the ancestor RTMPSession, replacing its
// container/list GOP cache and direct per-connection fan-out to player
// sessions with publish-through-registry: HandleVideoPacket/
// HandleAudioPacket there become a cache-header-then-Stream.Publish
// call here, and the player side becomes a Stream.Subscribe loop
// instead of a server-held player list.
type Session struct {
	id       uint64
	conn     net.Conn
	registry *registry.Registry
	recorder Recorder

	writeMu sync.Mutex
	encoder *Encoder
	begin   time.Time

	st     sessionState
	app    string
	msid   uint32
	stream *registry.Stream
	sub    *registry.Subscriber
}

func NewSession(id uint64, conn net.Conn, reg *registry.Registry, recorder Recorder) *Session {
	return &Session{id: id, conn: conn, registry: reg, recorder: recorder, st: stateHandshaking}
}

func (s *Session) ID() uint64 { return s.id }

// RemoteAddr is a convenience accessor for request logging.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Run drives the session to completion: handshake, then the
// read-dispatch loop. It always returns a non-nil error explaining why
// the connection ended; rtmperr.PeerGone marks an ordinary close.
func (s *Session) Run() error {
	s.begin = time.Now()
	r := bufio.NewReader(s.conn)

	if err := ServerHandshake(r, s.conn, s.begin); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	dec := NewDecoder(r)
	s.encoder = NewEncoder(s.conn)
	s.st = stateConnected

	defer s.cleanup()

	for {
		msg, err := dec.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.dispatch(dec, msg); err != nil {
			return err
		}
	}
}

func (s *Session) cleanup() {
	if s.sub != nil && s.stream != nil {
		s.stream.Unsubscribe(s.sub.ID())
		s.sub = nil
	}
	if s.stream != nil && s.st == statePublishing {
		s.stream.ReleasePublisher()
		s.registry.Drop(s.stream.Name(), s.stream)
		if s.recorder != nil {
			s.recorder.Close()
		}
	}
	s.st = stateClosed
}

func (s *Session) dispatch(dec *Decoder, msg *Message) error {
	switch msg.TypeID {
	case TypeSetChunkSize:
		if len(msg.Body) >= 4 {
			dec.SetChunkSize(readUint32BE(msg.Body))
		}
		return nil
	case TypeAcknowledgement, TypeWindowAcknowledgeSize, TypeSetPeerBandwidth, TypeUserControl, TypeAbort:
		return nil
	case TypeAudio:
		return s.handleAudio(msg)
	case TypeVideo:
		return s.handleVideo(msg)
	case TypeData, TypeFlexStream:
		return s.handleData(msg)
	case TypeInvoke, TypeFlexMessage:
		return s.handleInvoke(msg)
	default:
		logging.Debug("#%d: ignoring message type %d", s.id, msg.TypeID)
		return nil
	}
}

func (s *Session) handleInvoke(msg *Message) error {
	body := msg.Body
	if msg.TypeID == TypeFlexMessage && len(body) > 0 {
		body = body[1:] // leading AMF3 marker byte ahead of the AMF0 command payload
	}

	r := amf0.NewReader(body)
	nameVal, err := r.ReadValue()
	if err != nil {
		return fmt.Errorf("%w: command name: %s", rtmperr.ProtocolViolation, err.Error())
	}
	name := nameVal.AsString()

	transVal, err := r.ReadValue()
	if err != nil {
		return fmt.Errorf("%w: transaction id: %s", rtmperr.ProtocolViolation, err.Error())
	}
	transID := transVal.AsNumber()

	var args []*amf0.Value
	for !r.Done() {
		v, err := r.ReadValue()
		if err != nil {
			break
		}
		args = append(args, v)
	}

	logging.Debug("#%d: invoke %s", s.id, name)

	switch name {
	case "connect":
		var cmdObj *amf0.Value
		if len(args) > 0 {
			cmdObj = args[0]
		}
		return s.handleConnect(transID, cmdObj)
	case "createStream":
		return s.handleCreateStream(transID)
	case "releaseStream", "FCPublish", "FCUnpublish", "getStreamLength":
		return nil
	case "publish":
		return s.handlePublish(args, msg.StreamID)
	case "play":
		return s.handlePlay(args, msg.StreamID)
	case "pause", "receiveAudio", "receiveVideo":
		return nil
	case "deleteStream", "closeStream":
		return s.handleDeleteStream()
	default:
		logging.Debug("#%d: unhandled command %q", s.id, name)
		return nil
	}
}

func (s *Session) handleConnect(transID float64, cmdObj *amf0.Value) error {
	if cmdObj != nil {
		if appVal, ok := cmdObj.Get("app"); ok {
			s.app = appVal.AsString()
		}
	}
	s.st = stateConnected

	if err := s.sendWindowAckSize(DefaultWindowAckSize); err != nil {
		return err
	}
	if err := s.sendSetPeerBandwidth(DefaultPeerBandwidth, 2); err != nil {
		return err
	}
	if err := s.sendSetChunkSize(outChunkSize); err != nil {
		return err
	}
	return s.sendConnectResult(transID)
}

func (s *Session) handleCreateStream(transID float64) error {
	s.msid = 1
	return s.sendCreateStreamResult(transID, s.msid)
}

func (s *Session) handlePublish(args []*amf0.Value, streamID uint32) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: publish missing stream name", rtmperr.ProtocolViolation)
	}
	name := args[1].AsString()
	if name == "" {
		return fmt.Errorf("%w: publish with empty stream name", rtmperr.ProtocolViolation)
	}
	if s.st == statePublishing {
		return fmt.Errorf("%w: publish received twice on one connection", rtmperr.ProtocolViolation)
	}

	stream := s.registry.GetOrCreate(name)
	if !stream.AcquirePublisher(s.id) {
		_ = s.sendStatus(streamID, "error", "NetStream.Publish.BadName", "Stream already published: "+name)
		return fmt.Errorf("%w: stream %q already published", rtmperr.Conflict, name)
	}

	s.st = statePublishing
	s.stream = stream
	if s.recorder != nil {
		s.recorder.Reset(name)
	}

	logging.Info("#%d: publishing %q", s.id, name)
	return s.sendStatus(streamID, "status", "NetStream.Publish.Start", name+" is now published.")
}

func (s *Session) handlePlay(args []*amf0.Value, streamID uint32) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: play missing stream name", rtmperr.ProtocolViolation)
	}
	name := args[1].AsString()

	stream, ok := s.registry.Lookup(name)
	if !ok || !stream.HasPublisher() {
		_ = s.sendStatus(streamID, "error", "NetStream.Play.StreamNotFound", "No such stream: "+name)
		return fmt.Errorf("%w: play of missing stream %q", rtmperr.NotFound, name)
	}

	s.st = statePlaying
	s.stream = stream

	if err := s.sendUserControl(UserControlStreamBegin, streamID); err != nil {
		return err
	}
	if err := s.sendStatus(streamID, "status", "NetStream.Play.Reset", "Playing and resetting "+name+"."); err != nil {
		return err
	}
	if err := s.sendStatus(streamID, "status", "NetStream.Play.Start", "Started playing "+name+"."); err != nil {
		return err
	}
	if err := s.sendSampleAccess(streamID); err != nil {
		return err
	}

	sub := stream.Subscribe(int(atomic.LoadInt32(&subscriberBacklog)))
	s.sub = sub

	logging.Info("#%d: playing %q", s.id, name)
	go s.runPlayLoop(sub, streamID)
	return nil
}

// runPlayLoop forwards a subscriber's fan-out onto the wire, rebasing
// timestamps so the first delivered message — whatever cached header or
// live frame it happens to be — lands at zero relative to this join.
// Like every other egress path, it gates inter frames until the first
// key frame arrives so a freshly joined player is never handed a frame
// it cannot decode.
func (s *Session) runPlayLoop(sub *registry.Subscriber, streamID uint32) {
	var base uint32
	haveBase := false
	gate := &egress.KeyFrameGate{}

	for msg := range sub.Messages() {
		if !gate.Allow(msg) {
			continue
		}
		if !haveBase {
			base = msg.Timestamp
			haveBase = true
		}
		out := &Message{
			Timestamp: msg.Timestamp - base,
			TypeID:    msg.TypeID,
			StreamID:  streamID,
			Body:      msg.Body,
		}
		if err := s.writeOut(csidFor(msg.TypeID), out); err != nil {
			logging.Debug("#%d: play write stopped: %s", s.id, err.Error())
			return
		}
	}

	// The channel only closes out from under a live subscriber when the
	// publisher leaves (registry.Stream.ReleasePublisher) or this same
	// session unsubscribes (on deleteStream or during its own shutdown);
	// either way, telling a
	// still-connected player the stream ended matches what a publisher
	// disconnect notifies today.
	_ = s.sendStatus(streamID, "status", "NetStream.Play.UnpublishNotify", "stream is now unpublished.")
	_ = s.sendUserControl(UserControlStreamEOF, streamID)
}

func csidFor(typeID byte) uint32 {
	switch typeID {
	case TypeVideo:
		return ChannelVideo
	case TypeAudio:
		return ChannelAudio
	default:
		return ChannelData
	}
}

func (s *Session) handleDeleteStream() error {
	if s.sub != nil && s.stream != nil {
		s.stream.Unsubscribe(s.sub.ID())
		s.sub = nil
	}
	if s.stream != nil && s.st == statePublishing {
		s.stream.ReleasePublisher()
		s.registry.Drop(s.stream.Name(), s.stream)
		if s.recorder != nil {
			s.recorder.Close()
		}
	}
	s.stream = nil
	s.st = stateConnected
	return nil
}

// handleData processes @setDataFrame onMetaData messages from a
// publisher, re-wrapping the payload as a plain onMetaData data message
// (dropping the @setDataFrame envelope) so it can be cached and
// replayed to subscribers exactly as a player expects to receive it.
func (s *Session) handleData(msg *Message) error {
	if s.st != statePublishing || s.stream == nil {
		return nil
	}
	body := msg.Body
	if msg.TypeID == TypeFlexStream && len(body) > 0 {
		body = body[1:]
	}

	r := amf0.NewReader(body)
	nameVal, err := r.ReadValue()
	if err != nil || nameVal.AsString() != "@setDataFrame" {
		return nil // not a metadata frame; ignored rather than rejected
	}
	if _, err := r.ReadValue(); err != nil { // literal "onMetaData" marker string
		return nil
	}
	dataVal, err := r.ReadValue()
	if err != nil {
		return nil
	}

	encoded, err := encodeValues(amf0.String("onMetaData"), dataVal)
	if err != nil {
		return nil
	}
	s.stream.CacheMeta(&Message{TypeID: TypeData, StreamID: msg.StreamID, Body: encoded}, dataVal)
	return nil
}

func (s *Session) handleVideo(msg *Message) error {
	if s.st != statePublishing || s.stream == nil {
		return nil
	}
	if len(msg.Body) < 2 {
		return fmt.Errorf("%w: video message shorter than header", rtmperr.ProtocolViolation)
	}
	if msg.Body[0]&0x0F != 7 {
		return fmt.Errorf("%w: video codec id %d", rtmperr.Unsupported, msg.Body[0]&0x0F)
	}
	if msg.Body[1] == 0 {
		s.stream.CacheVideoHeader(msg)
	}
	if s.recorder != nil {
		s.recorder.WriteVideo(msg)
	}
	s.stream.Publish(msg)
	return nil
}

func (s *Session) handleAudio(msg *Message) error {
	if s.st != statePublishing || s.stream == nil {
		return nil
	}
	if len(msg.Body) < 2 {
		return fmt.Errorf("%w: audio message shorter than header", rtmperr.ProtocolViolation)
	}
	if msg.Body[0]>>4 != 10 {
		return fmt.Errorf("%w: audio codec id %d", rtmperr.Unsupported, msg.Body[0]>>4)
	}
	if msg.Body[1] == 0 {
		s.stream.CacheAudioHeader(msg)
	}
	if s.recorder != nil {
		s.recorder.WriteAudio(msg)
	}
	s.stream.Publish(msg)
	return nil
}
