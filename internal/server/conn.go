package server

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/quietlane/stashd/internal/auth"
	"github.com/quietlane/stashd/internal/logging"
	"github.com/quietlane/stashd/internal/wire"
	"go.uber.org/zap"
)

const (
	tlsHandshakeTimeout = 5 * time.Second
	headerTimeout       = 30 * time.Second
	bodyTimeout         = 300 * time.Second

	// ceilingSlack is how far past the upload limit the receive loop
	// tolerates header bytes and framing before aborting.
	ceilingSlack = 64 * 1024

	maxHeaderBytes = 64 * 1024
	readChunkSize  = 4096
	writeChunkSize = 64 * 1024
)

// handleConn runs one connection through its full lifecycle: handshake,
// receive, parse, authorize, dispatch, respond, close. Always exactly
// one request; the connection is closed unconditionally on every path.
func (s *Server) handleConn(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	requestID := uuid.NewString()
	start := time.Now()

	s.metrics.ConnectionAccepted()
	logging.LogConnection(remoteAddr, "connection_accepted")

	defer func() {
		if r := recover(); r != nil {
			logging.LogInternalFault(requestID, remoteAddr, fmt.Errorf("panic: %v", r))
			s.writeErrorResponse(conn, requestID, wire.KindInternal)
		}
		_ = conn.Close()
		logging.LogConnection(remoteAddr, "connection_closed")
	}()

	if tlsConn, ok := conn.(*tls.Conn); ok {
		_ = tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
		if err := tlsConn.Handshake(); err != nil {
			logging.Debug("TLS handshake failed",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return
		}
		_ = tlsConn.SetDeadline(time.Time{})
	}

	req, err := s.receive(conn)
	if err != nil {
		kind := wire.KindOf(err)
		logging.Debug("Receive failed",
			zap.String("remote_addr", remoteAddr),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		status := s.writeErrorResponse(conn, requestID, kind)
		s.metrics.RequestHandled("", status)
		return
	}

	if s.guard != nil {
		switch s.guard.Authorize(req.Header.Get("Authorization"), hostOnly(remoteAddr)) {
		case auth.Denied:
			s.metrics.AuthFailure()
			resp := s.errorResponseFor(wire.KindUnauthenticated)
			resp.SetHeader("WWW-Authenticate", auth.Challenge())
			s.writeResponse(conn, requestID, resp)
			s.finishRequest(requestID, remoteAddr, req, resp.Status, start)
			return
		case auth.LockedOut:
			s.metrics.Lockout()
			resp := s.errorResponseFor(wire.KindRateLimited)
			s.writeResponse(conn, requestID, resp)
			s.finishRequest(requestID, remoteAddr, req, resp.Status, start)
			return
		}
	}

	resp := s.dispatcher.Dispatch(req)
	if resp.Status == wire.StatusForbidden {
		logging.LogSecurityEvent(hostOnly(remoteAddr), "forbidden path",
			zap.String("path", req.Path),
			zap.String("request_id", requestID),
		)
	}

	s.writeResponse(conn, requestID, resp)
	s.finishRequest(requestID, remoteAddr, req, resp.Status, start)
}

func (s *Server) finishRequest(requestID, remoteAddr string, req *wire.Request, status int, start time.Time) {
	s.metrics.RequestHandled(req.Verb, status)
	logging.LogRequest(requestID, remoteAddr, req.Verb, req.Path, status, time.Since(start))
}

// receive reads the request off the wire under the two wall-clock
// budgets and the byte ceiling. The ceiling counts actual bytes read,
// never the declared length.
func (s *Server) receive(conn net.Conn) (*wire.Request, error) {
	ceiling := s.cfg.MaxUploadSize + ceilingSlack

	// Header phase.
	_ = conn.SetReadDeadline(time.Now().Add(headerTimeout))

	var buf []byte
	chunk := make([]byte, readChunkSize)
	terminator := []byte("\r\n\r\n")
	headEnd := -1
	for headEnd < 0 {
		if len(buf) > maxHeaderBytes {
			return nil, wire.New(wire.KindMalformed, "header block too large")
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if int64(len(buf)) > ceiling {
				return nil, wire.New(wire.KindTooLarge, "receive ceiling exceeded")
			}
			headEnd = bytes.Index(buf, terminator)
			continue
		}
		if err != nil {
			if isTimeout(err) {
				return nil, wire.Wrap(wire.KindMalformed, "header receive timeout", err)
			}
			if err == io.EOF && len(buf) == 0 {
				return nil, wire.New(wire.KindMalformed, "empty request")
			}
			return nil, wire.Wrap(wire.KindMalformed, "receive failed", err)
		}
	}

	req, err := wire.ParseHead(buf[:headEnd])
	if err != nil {
		return nil, err
	}

	declared := req.ContentLength
	if declared > s.cfg.MaxUploadSize {
		return nil, wire.New(wire.KindTooLarge, "declared length exceeds limit")
	}

	body := buf[headEnd+4:]
	if int64(len(body)) < declared {
		// Body phase gets its own, longer budget.
		_ = conn.SetReadDeadline(time.Now().Add(bodyTimeout))
		total := int64(len(buf))
		for int64(len(body)) < declared {
			n, err := conn.Read(chunk)
			if n > 0 {
				total += int64(n)
				if total > ceiling {
					return nil, wire.New(wire.KindTooLarge, "receive ceiling exceeded")
				}
				body = append(body, chunk[:n]...)
			}
			if err != nil {
				if isTimeout(err) {
					return nil, wire.Wrap(wire.KindMalformed, "body receive timeout", err)
				}
				return nil, wire.Wrap(wire.KindMalformed, "truncated body", err)
			}
		}
	}
	req.Body = body[:declared]
	return req, nil
}

// errorResponseFor builds the caller-visible response for an error
// kind, honoring the covert masquerade.
func (s *Server) errorResponseFor(kind wire.ErrKind) *wire.Response {
	h := &handlers{env: s.env}
	if kind == wire.KindNotFound || kind == wire.KindMethodUnknown {
		return h.notFound("")
	}
	status := kind.Status()
	return h.errorResponse(status, wire.StatusText(status))
}

// writeErrorResponse is the best-effort error path for connections that
// never produced a dispatchable request.
func (s *Server) writeErrorResponse(conn net.Conn, requestID string, kind wire.ErrKind) int {
	resp := s.errorResponseFor(kind)
	if kind == wire.KindInternal && !s.env.Covert {
		// The fault itself stays server-side; the peer gets only the
		// correlation ID.
		resp.SetJSONBody(map[string]any{
			"error":      "Internal Server Error",
			"status":     wire.StatusInternalServerError,
			"request_id": requestID,
		})
	}
	s.writeResponse(conn, requestID, resp)
	return resp.Status
}

// writeResponse serializes and writes a response, streaming file bodies
// in fixed-size chunks.
func (s *Server) writeResponse(conn net.Conn, requestID string, resp *wire.Response) {
	if s.env.Covert {
		resp.Masked = true
	} else {
		resp.SetHeader("X-Request-Id", requestID)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(headerTimeout))

	if resp.StreamPath == "" {
		if _, err := conn.Write(resp.Build(s.buildOpts)); err != nil {
			logging.Debug("Response write failed", zap.Error(err))
			return
		}
		s.metrics.ServedBytes(int64(len(resp.Body)))
		return
	}

	f, err := os.Open(resp.StreamPath)
	if err != nil {
		// The file vanished between stat and open. The head has not been
		// written yet, so a clean not-found can still go out.
		s.writeResponse(conn, requestID, s.errorResponseFor(wire.KindNotFound))
		return
	}
	defer f.Close()

	if _, err := conn.Write(resp.BuildHead(s.buildOpts)); err != nil {
		logging.Debug("Response head write failed", zap.Error(err))
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(bodyTimeout))
	written, err := io.CopyBuffer(conn, io.LimitReader(f, resp.StreamSize), make([]byte, writeChunkSize))
	if err != nil {
		logging.Debug("Response stream failed",
			zap.String("path", resp.StreamPath),
			zap.Error(err),
		)
	}
	s.metrics.ServedBytes(written)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// hostOnly strips the port so the failure ledger keys on the address,
// not the ephemeral port.
func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
