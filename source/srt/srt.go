// Package srt provides SRT-backed MPEG-TS sources: Pull dials a remote SRT
// listener, Accept waits for one inbound publish connection.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/tempo/source"
)

// readBufferSize covers ten standard SRT payloads of 7 transport packets.
const readBufferSize = 1316 * 10

// latencyNs is the SRT latency setting in nanoseconds (120ms).
const latencyNs = 120_000_000

const dialTimeout = 10 * time.Second

// Option configures an SRT source.
type Option func(*options)

type options struct {
	log      *slog.Logger
	streamID string
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithStreamID sets the SRT stream ID sent when dialing.
func WithStreamID(id string) Option {
	return func(o *options) { o.streamID = id }
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With("component", "srt-source")
	return o
}

// Pull dials the remote SRT listener and returns a forward-only source over
// the received transport stream. The dial is bounded by an internal timeout
// and by ctx.
func Pull(ctx context.Context, addr string, opts ...Option) (*source.StreamSource, error) {
	o := buildOptions(opts)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	if o.streamID != "" {
		cfg.StreamID = o.streamID
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial %s: %w", addr, res.err)
		}
		o.log.Debug("connected", "addr", addr)
		return newConnSource(ctx, res.conn, o.log)
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("SRT dial %s: timed out after %s", addr, dialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Accept listens on addr, waits for one publish connection, and returns a
// forward-only source over it. The listener is closed once the connection is
// accepted.
func Accept(ctx context.Context, addr string, opts ...Option) (*source.StreamSource, error) {
	o := buildOptions(opts)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	o.log.Debug("listening", "addr", addr)

	stop := context.AfterFunc(ctx, func() { l.Close() })
	conn, err := l.Accept()
	stop()
	l.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("SRT accept on %s: %w", addr, err)
	}
	o.log.Debug("publish", "remote", conn.RemoteAddr())

	return newConnSource(ctx, conn, o.log)
}

// newConnSource bridges the message-oriented SRT connection into the
// byte-oriented demuxer through a pipe, so short demuxer reads never drop the
// tail of a received message.
func newConnSource(ctx context.Context, conn *srtgo.Conn, log *slog.Logger) (*source.StreamSource, error) {
	pr, pw := io.Pipe()

	go func() {
		defer conn.Close()
		defer pw.Close()

		buf := make([]byte, readBufferSize)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := conn.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug("read error", "error", err)
				}
				return
			}
			if _, err := pw.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	src, err := source.NewStream(ctx, pr, source.WithStreamLogger(log))
	if err != nil {
		pr.Close()
		return nil, err
	}
	return src, nil
}
