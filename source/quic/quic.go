// Package quic provides QUIC-backed MPEG-TS sources. The publisher sends the
// transport stream on a single unidirectional stream; Accept waits for one
// inbound connection, Dial connects to a remote publisher.
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/zsiec/tempo/source"
)

// ALPN is the application protocol negotiated for transport stream delivery.
const ALPN = "tempo-ts"

const maxIdleTimeout = 30 * time.Second

// Option configures a QUIC source.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With("component", "quic-source")
	return o
}

func quicConfig() *quicgo.Config {
	return &quicgo.Config{MaxIdleTimeout: maxIdleTimeout}
}

func withALPN(tlsConf *tls.Config) *tls.Config {
	c := tlsConf.Clone()
	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{ALPN}
	}
	return c
}

// Accept listens on addr, waits for one connection and its unidirectional
// stream, and returns a forward-only source over it. The listener is closed
// once the connection is accepted.
func Accept(ctx context.Context, addr string, tlsConf *tls.Config, opts ...Option) (*source.StreamSource, error) {
	o := buildOptions(opts)

	l, err := quicgo.ListenAddr(addr, withALPN(tlsConf), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC listen on %s: %w", addr, err)
	}
	o.log.Debug("listening", "addr", addr)

	conn, err := l.Accept(ctx)
	l.Close()
	if err != nil {
		return nil, fmt.Errorf("QUIC accept on %s: %w", addr, err)
	}
	o.log.Debug("publish", "remote", conn.RemoteAddr())

	return newConnSource(ctx, conn, o.log)
}

// Dial connects to a remote publisher and returns a forward-only source over
// the stream it sends.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, opts ...Option) (*source.StreamSource, error) {
	o := buildOptions(opts)

	conn, err := quicgo.DialAddr(ctx, addr, withALPN(tlsConf), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC dial %s: %w", addr, err)
	}
	o.log.Debug("connected", "addr", addr)

	return newConnSource(ctx, conn, o.log)
}

// connStream exposes the receive stream as a ReadCloser whose Close tears
// down the whole connection.
type connStream struct {
	io.Reader
	conn quicgo.Connection
}

func (c *connStream) Close() error {
	return c.conn.CloseWithError(0, "done")
}

func newConnSource(ctx context.Context, conn quicgo.Connection, log *slog.Logger) (*source.StreamSource, error) {
	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("QUIC accept stream: %w", err)
	}

	src, err := source.NewStream(ctx, &connStream{Reader: stream, conn: conn}, source.WithStreamLogger(log))
	if err != nil {
		conn.CloseWithError(0, "probe failed")
		return nil, err
	}
	return src, nil
}
