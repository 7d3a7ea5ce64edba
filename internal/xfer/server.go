package xfer

import (
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowline-labs/tsunamigo/internal/chunker"
	"github.com/flowline-labs/tsunamigo/internal/config"
	"github.com/flowline-labs/tsunamigo/internal/connstat"
	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/metrics"
	"github.com/flowline-labs/tsunamigo/internal/pacing"
	"github.com/flowline-labs/tsunamigo/internal/secure"
	"github.com/flowline-labs/tsunamigo/internal/sender"
	"github.com/flowline-labs/tsunamigo/internal/session"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// ProtocolRevision is the value exchanged at the start of the handshake. It
// has no semantic meaning beyond gating a client and server onto the same
// wire format.
const ProtocolRevision = 1

// Server holds the configuration one "serve" process needs to answer
// control connections. Each accepted connection runs ServeConn in its own
// goroutine, one session per connection.
type Server struct {
	Config    config.ServeConfig
	Secret    []byte
	Collector *metrics.Collector
	Log       *logrus.Logger
}

// ServeConn handles one accepted control-channel TCP connection end to end:
// the secure/cleartext upgrade, the session handshake, and then the
// request-dispatch loop until the client disconnects.
func (s *Server) ServeConn(raw net.Conn) {
	sessionID := newSessionID()
	logger := s.Log.WithFields(logrus.Fields{"session": sessionID, "remote": raw.RemoteAddr().String()})

	wrapped := connstat.Wrap(raw, func(c *connstat.Conn, state string) {
		logger.WithFields(logrus.Fields(c.ToMap())).WithField("state", state).Debug("control connection lifecycle")
	})
	defer wrapped.Close()

	ch, err := s.upgrade(wrapped)
	if err != nil {
		logger.WithError(err).Warn("secure channel upgrade failed")
		return
	}
	t := session.NewTransport(ch)

	if err := session.ServerHandshake(t, ProtocolRevision, s.Secret); err != nil {
		logger.WithError(err).Warn("handshake failed")
		return
	}
	logger.Info("session established")

	var lastFile struct {
		path      string
		blockSize uint32
	}

	for {
		msg, err := t.RecvClientToServer()
		if err != nil {
			logger.WithError(err).Debug("control stream closed")
			return
		}
		switch m := msg.(type) {
		case wire.DirList:
			if err := s.handleDirList(t); err != nil {
				logger.WithError(err).Warn("dir listing failed")
				return
			}
		case wire.FileRequest:
			full, err := s.resolvePath(m.Path)
			if err == nil {
				lastFile.path, lastFile.blockSize = full, m.BlockSize
			}
			if err := s.handleFileRequest(t, m, wrapped.RemoteAddr(), sessionID, logger); err != nil {
				logger.WithError(err).Warn("file transfer failed")
				if errs.KindOf(err) == errs.File {
					continue
				}
				return
			}
		case wire.MultiRequest:
			if err := s.handleMultiRequest(t, m); err != nil {
				logger.WithError(err).Warn("multi-file metadata exchange failed")
				return
			}
		case wire.ChunkChecksumRequest:
			if err := s.handleChunkChecksumRequest(t, lastFile.path, lastFile.blockSize); err != nil {
				logger.WithError(err).Warn("chunk checksum reply failed")
				return
			}
		case wire.RetransmitMany:
			// Never sent by any current client; decoded only so an older
			// capture replayed against this server doesn't trip the
			// unexpected-message disconnect below.
			logger.WithField("count", len(m.BlockIndices)).Debug("ignoring out-of-band RetransmitMany outside an active transfer")
		default:
			logger.Warnf("unexpected message %T in request-dispatch state", m)
			return
		}
	}
}

func (s *Server) upgrade(conn net.Conn) (*secure.Channel, error) {
	if !s.Config.Secure {
		return secure.Cleartext(conn), nil
	}
	return secure.HandshakeServer(conn, s.Secret)
}

// resolvePath confines a client-requested path to the configured share
// directory, rejecting any attempt to escape it via "..".
func (s *Server) resolvePath(requested string) (string, error) {
	clean := filepath.Clean("/" + requested)
	full := filepath.Join(s.Config.ShareDir, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.Config.ShareDir)+string(filepath.Separator)) && full != filepath.Clean(s.Config.ShareDir) {
		return "", errs.New(errs.File, "path escapes share directory")
	}
	return full, nil
}

func (s *Server) handleDirList(t *session.Transport) error {
	var entries []wire.FileMetadata
	err := filepath.WalkDir(s.Config.ShareDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Config.ShareDir, path)
		if err != nil {
			return err
		}
		entries = append(entries, wire.FileMetadata{Path: rel, Size: uint64(info.Size())})
		return nil
	})

	status := wire.DirListOK
	if err != nil {
		status = wire.DirListError
		entries = nil
	}
	if sendErr := t.Send(wire.DirListHeader{Status: status, NumFiles: uint32(len(entries))}); sendErr != nil {
		return sendErr
	}
	for _, e := range entries {
		if sendErr := t.Send(wire.DirListFile{Metadata: e}); sendErr != nil {
			return sendErr
		}
	}
	return t.Send(wire.DirListEnd{})
}

func (s *Server) handleMultiRequest(t *session.Transport, req wire.MultiRequest) error {
	msg, err := t.RecvClientToServer()
	if err != nil {
		return err
	}
	if _, ok := msg.(wire.MultiAcknowledgeCount); !ok {
		return errs.New(errs.Protocol, "expected MultiAcknowledgeCount")
	}

	var files []wire.FileMetadata
	for i := uint32(0); i < req.FileCount; i++ {
		msg, err := t.RecvClientToServer()
		if err != nil {
			return err
		}
		fr, ok := msg.(wire.FileRequest)
		if !ok {
			return errs.New(errs.Protocol, "expected FileRequest in multi-file metadata stream")
		}
		full, err := s.resolvePath(fr.Path)
		if err != nil {
			continue
		}
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		files = append(files, wire.FileMetadata{Path: fr.Path, Size: uint64(info.Size())})
	}

	if err := t.Send(wire.MultiFileCount{Count: uint32(len(files))}); err != nil {
		return err
	}
	for _, f := range files {
		if err := t.Send(wire.MultiFile{Metadata: f}); err != nil {
			return err
		}
	}
	return t.Send(wire.MultiEnd{})
}

// handleChunkChecksumRequest answers a resume-support request for the
// chunk-checksum map of the most recently requested file on this
// connection. The path is recorded from the most recent FileRequest whose
// path resolved inside the share directory, whether or not that request
// then succeeded. An empty path means no such FileRequest has arrived yet
// on this connection, and is reported as a protocol error rather than
// ignored.
func (s *Server) handleChunkChecksumRequest(t *session.Transport, path string, blockSize uint32) error {
	if path == "" {
		return errs.New(errs.Protocol, "ChunkChecksumRequest with no prior FileRequest")
	}
	file, err := chunker.Open(path, blockSize)
	if err != nil {
		return err
	}
	defer file.Close()

	checksums, chunkBlocks, lastChunkBlocks, err := file.DeriveChunkChecksums()
	if err != nil {
		return err
	}
	return t.Send(wire.ChunkChecksumReply{
		ChunkBlocks:     chunkBlocks,
		LastChunkBlocks: lastChunkBlocks,
		Checksums:       checksums,
	})
}

// handleFileRequest runs one complete file transfer: metadata negotiation,
// UDP endpoint resolution, and the paced sender loop, blocking until the
// client signals EndTransmission and the server has acknowledged with
// UdpDone.
func (s *Server) handleFileRequest(t *session.Transport, req wire.FileRequest, peer net.Addr, sessionID string, logger *logrus.Entry) error {
	full, err := s.resolvePath(req.Path)
	if err != nil {
		return t.Send(wire.FileRequestError{Kind: wire.FileRequestErrorNonexistent})
	}
	file, err := chunker.Open(full, req.BlockSize)
	if err != nil {
		if sendErr := t.Send(wire.FileRequestError{Kind: wire.FileRequestErrorNonexistent}); sendErr != nil {
			return sendErr
		}
		return nil
	}
	defer file.Close()

	peerHost, _, err := net.SplitHostPort(peer.String())
	if err != nil {
		peerHost = peer.String()
	}
	udpConn, udpPort, err := session.BindStaticPort("udp", 0)
	if err != nil {
		file.Close()
		return err
	}
	defer udpConn.Close()

	if err := t.Send(wire.FileRequestSuccess{
		FileSize:   file.Size(),
		BlockSize:  file.BlockSize(),
		BlockCount: file.BlockCount(),
		Epoch:      uint64(time.Now().Unix()),
		UdpPort:    udpPort,
	}); err != nil {
		return err
	}

	msg, err := t.RecvClientToServer()
	if err != nil {
		return err
	}
	udpInit, ok := msg.(wire.UdpInit)
	if !ok {
		return errs.New(errs.Protocol, "expected UdpInit")
	}

	dest, err := session.ResolveServerDestination(udpInit.Method, net.ParseIP(peerHost), udpConn, 10*time.Second)
	if err != nil {
		return err
	}

	pacer, err := pacing.New(req.BlockSize, req.TargetRate, req.ErrorRate, req.Slowdown, req.Speedup)
	if err != nil {
		return err
	}
	loop := sender.New(file, pacer)

	if s.Collector != nil {
		s.Collector.Add(sessionID, peer.String(), func() metrics.Snapshot {
			return metrics.Snapshot{
				IPDUsec:     pacer.IPD(),
				BlocksDone:  loop.Status().DoneCount(),
				BlocksTotal: loop.Status().Count(),
			}
		})
		defer s.Collector.Remove(sessionID)
	}

	if err := runSenderLoop(t, udpConn, dest, loop, pacer, req.BlockSize); err != nil {
		return err
	}
	logger.WithField("path", req.Path).Info("file transfer complete")
	return t.Send(wire.UdpDone{})
}

// runSenderLoop paces datagram production while concurrently draining
// TransmissionControl messages from the client. The two goroutines share
// the control channel in opposite directions safely, because
// internal/secure.Channel keeps separate read/write scratch buffers. The
// reader goroutine terminates itself the moment it forwards
// an EndTransmission: the client sends exactly one, never followed by
// another TransmissionControl for this file, so waiting for any other
// signal would either race the next RecvClientToServer call on the same
// connection or leak the goroutine.
func runSenderLoop(t *session.Transport, udpConn *net.UDPConn, dest *net.UDPAddr, loop *sender.Loop, pacer *pacing.Controller, blockSize uint32) error {
	controlCh := make(chan wire.TransmissionControl, controlBacklog)
	errCh := make(chan error, 1)
	go func() {
		for {
			tc, err := t.RecvTransmissionControl()
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			controlCh <- tc
			if tc.IsEndTransmission() {
				return
			}
		}
	}()

	buf := make([]byte, wire.DatagramHeaderSize+int(blockSize))
	datagramBuf := make([]byte, blockSize)

	for !loop.Done() {
		select {
		case tc := <-controlCh:
			if err := loop.ApplyControl(tc); err != nil {
				return err
			}
			continue
		case err := <-errCh:
			return err
		default:
		}

		d, err := loop.NextDatagram(datagramBuf)
		if err != nil {
			return err
		}
		n := d.Marshal(buf)
		// A short final block is zero-padded to the full block size.
		clear(buf[n:])
		n = len(buf)
		if _, err := udpConn.WriteToUDP(buf[:n], dest); err != nil {
			return errs.Wrap(errs.Network, "write UDP datagram", err)
		}
		time.Sleep(time.Duration(pacer.IPD()) * time.Microsecond)
	}
	return nil
}
