// File: server/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker-side processing of a readable connection.

package server

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/control"
	"github.com/momentics/hioload-gate/internal/session"
	"github.com/momentics/hioload-gate/internal/transport"
	"github.com/momentics/hioload-gate/protocol"
)

// readLimit caps the bytes buffered for one connection: one maximal frame.
const readLimit = protocol.MaxFramePayload + protocol.MaxFrameHeaderLen

// process drains fd, decodes every complete frame and dispatches the
// messages. Connections still open afterwards are re-armed for the next
// readiness event.
func (s *Server) process(fd int) {
	if s.reg.IsClosed(fd) {
		s.log.Debug("stale event for closed connection", zap.Int("fd", fd))
		return
	}
	c, ok := s.reg.Get(fd)
	if !ok {
		return
	}
	c.LockRead()
	defer c.UnlockRead()

	for {
		// A close from another goroutine shuts the socket down and leaves
		// the descriptor to UnlockRead; stop reading once that happens.
		if c.State() != api.StateOpen {
			return
		}
		buf, rerr := transport.Drain(fd, c.Pending(), readLimit)
		if c.State() != api.StateOpen {
			return
		}
		rest, open := s.consume(c, buf)
		if !open {
			return
		}
		c.SetPending(append(buf[:0], rest...))
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				serr := api.NewError(api.ErrCodeSocket, "read failed").WithContext("fd", fd).Wrap(rerr)
				s.log.Error("read failed", zap.Int("fd", fd), zap.Error(serr))
			}
			s.closeConn(fd)
			return
		}
		// A full buffer may leave more bytes in the socket.
		if len(buf) < readLimit {
			break
		}
	}

	if c.State() != api.StateOpen {
		return
	}
	if err := c.Poller().Rearm(fd); err != nil {
		s.log.Error("rearm failed", zap.Int("fd", fd), zap.Error(err))
		s.closeConn(fd)
	}
}

// consume decodes the complete frames at the front of buf and returns the
// undecoded tail. open is false once the connection has been closed.
func (s *Server) consume(c *session.Conn, buf []byte) (rest []byte, open bool) {
	fd := c.FD()
	for len(buf) > 0 {
		size, err := protocol.FrameSize(buf)
		if errors.Is(err, protocol.ErrFrameTooShort) {
			break
		}
		if err == nil && len(buf) < size {
			break
		}
		var frame *protocol.Frame
		if err == nil {
			frame, err = protocol.Decode(buf[:size])
		}
		if err == nil && s.cfg.RequireMask && !frame.Masked {
			err = errUnmasked
		}
		if err != nil {
			s.metrics.Inc(control.MetricDecodeErrors)
			derr := api.NewError(api.ErrCodeDecode, "frame rejected").
				WithContext("opcode", protocol.OpcodeName(buf[0]&protocol.OpcodeMsk)).
				Wrap(err)
			s.log.Info("frame rejected", zap.Int("fd", fd),
				zap.Stringer("code", api.CodeOf(derr)), zap.Error(derr))
			s.closeConn(fd)
			return nil, false
		}
		buf = buf[size:]
		s.metrics.Inc(control.MetricFramesDecoded)

		switch frame.Opcode {
		case protocol.OpcodePing:
			pong := protocol.AppendFrame(nil, protocol.OpcodePong, frame.Payload, nil)
			if err := c.Write(pong, s.cfg.WriteTimeout); err != nil {
				s.log.Warn("pong write failed", zap.Int("fd", fd), zap.Error(err))
				s.closeConn(fd)
				return nil, false
			}
		case protocol.OpcodePong:
		case protocol.OpcodeClose:
			c.SetState(api.StateClosing)
			echo := protocol.AppendFrame(nil, protocol.OpcodeClose, protocol.ClosePayload(protocol.CloseNormalClosure, ""), nil)
			_ = c.Write(echo, s.cfg.WriteTimeout)
			s.log.Debug("close frame received", zap.Int("fd", fd))
			s.closeConn(fd)
			return nil, false
		default:
			if len(frame.Payload) == 0 {
				continue
			}
			s.handler(fd, frame.Text())
		}
	}
	return buf, true
}

var errUnmasked = errors.New("unmasked client frame")
