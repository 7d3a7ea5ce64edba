package xfer

import (
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowline-labs/tsunamigo/internal/chunker"
	"github.com/flowline-labs/tsunamigo/internal/config"
	"github.com/flowline-labs/tsunamigo/internal/connstat"
	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/receiver"
	"github.com/flowline-labs/tsunamigo/internal/secure"
	"github.com/flowline-labs/tsunamigo/internal/session"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// Client drives the dir/get subcommands against one server.
type Client struct {
	Log *logrus.Logger
}

// dial opens the control TCP connection and runs the session handshake,
// returning a ready-to-use Transport. A positive timeout bounds the secure
// upgrade and the session handshake; the deadline is cleared once both
// complete.
func (c *Client) dial(ep config.Endpoint, timeout time.Duration) (*session.Transport, *connstat.Conn, error) {
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	network := "tcp4"
	if ep.IPv6 {
		network = "tcp6"
	}
	raw, err := net.Dial(network, addr)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Network, "dial control channel", err)
	}
	wrapped := connstat.Wrap(raw, func(conn *connstat.Conn, state string) {
		c.Log.WithFields(logrus.Fields(conn.ToMap())).WithFields(logrus.Fields{"state": state, "remote": addr}).Debug("control connection lifecycle")
	})
	if timeout > 0 {
		if err := wrapped.SetDeadline(time.Now().Add(timeout)); err != nil {
			wrapped.Close()
			return nil, nil, errs.Wrap(errs.Network, "set control channel deadline", err)
		}
	}

	var ch *secure.Channel
	secret := session.LoadSecret(ep.SecretFile)
	if ep.Secure {
		ch, err = secure.HandshakeClient(wrapped, secret)
	} else {
		ch = secure.Cleartext(wrapped)
	}
	if err != nil {
		wrapped.Close()
		return nil, nil, err
	}

	t := session.NewTransport(ch)
	if err := session.ClientHandshake(t, ProtocolRevision, secret); err != nil {
		wrapped.Close()
		return nil, nil, err
	}
	if err := wrapped.SetDeadline(time.Time{}); err != nil {
		wrapped.Close()
		return nil, nil, errs.Wrap(errs.Network, "clear control channel deadline", err)
	}
	return t, wrapped, nil
}

// ListDir connects, authenticates, requests the remote directory listing,
// and returns it.
func (c *Client) ListDir(cfg config.DirConfig) ([]wire.FileMetadata, error) {
	t, conn, err := c.dial(cfg.Endpoint, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := t.Send(wire.DirList{}); err != nil {
		return nil, err
	}
	msg, err := t.RecvServerToClient()
	if err != nil {
		return nil, err
	}
	header, ok := msg.(wire.DirListHeader)
	if !ok {
		return nil, errs.New(errs.Protocol, "expected DirListHeader")
	}
	if header.Status != wire.DirListOK {
		return nil, errs.New(errs.File, "server could not enumerate its share directory")
	}

	files := make([]wire.FileMetadata, 0, header.NumFiles)
	for i := uint32(0); i < header.NumFiles; i++ {
		msg, err := t.RecvServerToClient()
		if err != nil {
			return nil, err
		}
		entry, ok := msg.(wire.DirListFile)
		if !ok {
			return nil, errs.New(errs.Protocol, "expected DirListFile")
		}
		files = append(files, entry.Metadata)
	}
	msg, err = t.RecvServerToClient()
	if err != nil {
		return nil, err
	}
	if _, ok := msg.(wire.DirListEnd); !ok {
		return nil, errs.New(errs.Protocol, "expected DirListEnd")
	}
	return files, nil
}

// GetFiles connects once and downloads every path in cfg.Paths in turn,
// reusing the same control channel: the final UdpDone for one file
// transitions straight to the next FileRequest rather than reconnecting.
func (c *Client) GetFiles(cfg config.GetConfig) error {
	t, conn, err := c.dial(cfg.Endpoint, cfg.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, path := range cfg.Paths {
		if err := c.getOne(t, cfg, path); err != nil {
			if errs.KindOf(err) == errs.File {
				c.Log.WithField("path", path).Warn("server reported file not found, continuing")
				continue
			}
			return err
		}
	}
	return nil
}

func (c *Client) getOne(t *session.Transport, cfg config.GetConfig, path string) error {
	if err := t.Send(wire.FileRequest{
		Path:       path,
		BlockSize:  cfg.BlockSize,
		TargetRate: cfg.TargetRate,
		ErrorRate:  cfg.ErrorRate,
		Slowdown:   cfg.Slowdown,
		Speedup:    cfg.Speedup,
	}); err != nil {
		return err
	}

	msg, err := t.RecvServerToClient()
	if err != nil {
		return err
	}
	if fe, ok := msg.(wire.FileRequestError); ok {
		return errs.New(errs.File, "server rejected file request, kind "+strconv.Itoa(int(fe.Kind)))
	}
	success, ok := msg.(wire.FileRequestSuccess)
	if !ok {
		return errs.New(errs.Protocol, "expected FileRequestSuccess")
	}

	udpConn, udpMethod, err := c.negotiateUDP(cfg)
	if err != nil {
		return err
	}
	defer udpConn.Close()

	if err := t.Send(wire.UdpInit{Method: udpMethod}); err != nil {
		return err
	}
	if udpMethod.Kind == wire.UdpMethodDiscovery {
		serverAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(int(success.UdpPort))))
		if err != nil {
			return errs.Wrap(errs.Network, "resolve server UDP address", err)
		}
		if err := session.SendPrimingPacket(udpConn, serverAddr); err != nil {
			return err
		}
	}

	chunkBlocks, err := chunker.DeriveChunkGeometry(success.FileSize, success.BlockSize)
	if err != nil {
		return err
	}
	outPath := filepath.Join(cfg.OutputDir, filepath.Base(path))
	loop, err := receiver.New(outPath, success.FileSize, success.BlockSize, success.BlockCount, int(chunkBlocks)*cfg.RingMultiple)
	if err != nil {
		return err
	}
	defer loop.Close()

	if err := runReceiverLoop(t, udpConn, loop, success.BlockSize); err != nil {
		return err
	}

	msg, err = t.RecvServerToClient()
	if err != nil {
		return err
	}
	if _, ok := msg.(wire.UdpDone); !ok {
		return errs.New(errs.Protocol, "expected UdpDone")
	}
	return nil
}

// negotiateUDP binds the client's UDP socket for this transfer, per the
// StaticPort/Discovery choice recorded in cfg.UdpMethod.
func (c *Client) negotiateUDP(cfg config.GetConfig) (*net.UDPConn, wire.UdpMethod, error) {
	if cfg.UdpMethod.Kind == wire.UdpMethodStaticPort {
		conn, bound, err := session.BindStaticPort("udp", cfg.UdpMethod.Port)
		if err != nil {
			return nil, wire.UdpMethod{}, err
		}
		return conn, wire.UdpMethod{Kind: wire.UdpMethodStaticPort, Port: bound}, nil
	}
	conn, _, err := session.BindStaticPort("udp", 0)
	if err != nil {
		return nil, wire.UdpMethod{}, err
	}
	return conn, wire.UdpMethod{Kind: wire.UdpMethodDiscovery}, nil
}

// runReceiverLoop reads UDP datagrams into loop, issuing periodic
// SubmitErrorRate reports and any Retransmit/EndTransmission
// control messages loop.HandleDatagram surfaces, until the transfer is
// done. Unlike the server's sender loop, this runs on a single goroutine:
// the UDP read deadline doubles as the report-interval tick.
func runReceiverLoop(t *session.Transport, udpConn *net.UDPConn, loop *receiver.Loop, blockSize uint32) error {
	buf := make([]byte, wire.DatagramHeaderSize+int(blockSize)+maxDatagramHeadroom)
	lastReport := time.Now()

	for !loop.Done() {
		if err := udpConn.SetReadDeadline(time.Now().Add(udpPollInterval)); err != nil {
			return errs.Wrap(errs.Network, "set UDP read deadline", err)
		}
		n, _, err := udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				return errs.Wrap(errs.Network, "read UDP datagram", err)
			}
		} else {
			d, err := wire.Unmarshal(buf[:n])
			if err != nil {
				return err
			}
			payload := append([]byte(nil), d.Payload...)
			d.Payload = payload
			controls, err := loop.HandleDatagram(d)
			if err != nil {
				return err
			}
			for _, tc := range controls {
				if err := t.SendTransmissionControl(tc); err != nil {
					return err
				}
			}
		}

		if time.Since(lastReport) >= ReportInterval {
			if tc, ok := loop.ReportInterval(); ok {
				if err := t.SendTransmissionControl(tc); err != nil {
					return err
				}
			}
			lastReport = time.Now()
		}
	}
	return nil
}
