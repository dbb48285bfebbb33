package rtmp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/AgustinSRG/relaystream/internal/rtmperr"
)

// ServerHandshake performs the simple (non-digest) RTMP handshake:
// read C0/C1, write S0/S1/S2, read and verify C2. The complex
// FP-style digest handshake is out of scope; any client offering a
// non-3 C0 version is rejected outright rather than negotiated with.
//
// begin is the session's reference clock; S1's timestamp field is the
// elapsed time since it, matching how a real session reports its
// relative clock to the peer.
func ServerHandshake(r *bufio.Reader, w io.Writer, begin time.Time) error {
	c0 := make([]byte, 1)
	if _, err := io.ReadFull(r, c0); err != nil {
		return peerGoneOrErr(err)
	}
	if c0[0] != Version {
		return fmt.Errorf("%w: unsupported handshake version %d", rtmperr.ProtocolViolation, c0[0])
	}

	c1 := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, c1); err != nil {
		return peerGoneOrErr(err)
	}

	s1 := make([]byte, HandshakeSize)
	binary.BigEndian.PutUint32(s1[0:4], uint32(time.Since(begin).Milliseconds()))
	binary.BigEndian.PutUint32(s1[4:8], 0)
	if _, err := rand.Read(s1[8:]); err != nil {
		return err
	}

	out := make([]byte, 0, 1+HandshakeSize+HandshakeSize)
	out = append(out, Version)
	out = append(out, s1...)
	out = append(out, c1...) // S2 echoes C1 verbatim, the conventional simple-handshake behavior
	if _, err := w.Write(out); err != nil {
		return err
	}

	// Some clients (observed with OBS) push an RTMP protocol-control
	// message (typically an Acknowledgement) before sending C2. Peek
	// the expected C2 prefix; if it does not look like an echo of S1,
	// assume it is such a stray message, discard exactly one decoded
	// chunk message, then proceed to read C2 for real.
	if peek, err := r.Peek(12); err == nil && !bytes.Equal(peek, s1[:12]) {
		dec := NewDecoder(r)
		_, _ = dec.ReadMessage()
	}

	c2 := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, c2); err != nil {
		return peerGoneOrErr(err)
	}
	if !bytes.Equal(c2[8:], s1[8:]) {
		return fmt.Errorf("%w: C2 random does not match S1", rtmperr.ProtocolViolation)
	}

	return nil
}

func peerGoneOrErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %s", rtmperr.PeerGone, err.Error())
	}
	return err
}
