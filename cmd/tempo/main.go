// Command tempo reads an MPEG-TS stream from a file, SRT, or QUIC, and
// writes it to an MPEG-TS file or an HLS directory, optionally transcoding
// MJPEG video and PCM audio through the pure-Go codec stages.
//
// Input URLs:
//
//	/path/to/file.ts        seekable file
//	srt://host:port         pull from a remote SRT listener
//	srt-listen://:port      wait for one SRT publisher
//	quic://host:port        pull from a remote QUIC publisher
//	quic-listen://:port     wait for one QUIC publisher
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zsiec/tempo/certs"
	"github.com/zsiec/tempo/clock"
	"github.com/zsiec/tempo/codec/mjpeg"
	"github.com/zsiec/tempo/codec/pcm"
	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
	"github.com/zsiec/tempo/sink"
	"github.com/zsiec/tempo/source"
	quicsource "github.com/zsiec/tempo/source/quic"
	srtsource "github.com/zsiec/tempo/source/srt"
	"github.com/zsiec/tempo/transform"
)

var version = "dev"

func main() {
	in := flag.String("in", envOr("TEMPO_IN", ""), "input: file path, srt://, srt-listen://, quic://, quic-listen://")
	out := flag.String("out", envOr("TEMPO_OUT", "-"), "output: file path, or - for stdout")
	hls := flag.Bool("hls", false, "write an HLS rendition into the output directory")
	segment := flag.Duration("segment", 0, "HLS segment duration (default 6s)")
	seek := flag.Duration("seek", 0, "start position (seekable inputs only)")
	streamID := flag.String("stream-id", "", "SRT stream ID sent when dialing")
	transcode := flag.Bool("transcode", false, "decode and re-encode instead of remuxing (MJPEG/PCM inputs)")
	width := flag.Int("width", 0, "output video width (transcode)")
	height := flag.Int("height", 0, "output video height (transcode)")
	rate := flag.Int("rate", 0, "output audio sample rate (transcode)")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	cfg := runConfig{
		in:        *in,
		out:       *out,
		hls:       *hls,
		segment:   *segment,
		seek:      *seek,
		streamID:  *streamID,
		transcode: *transcode,
		width:     *width,
		height:    *height,
		rate:      *rate,
	}
	slog.Info("tempo starting", "version", version, "in", cfg.in, "out", cfg.out)
	if err := run(ctx, cfg); err != nil {
		slog.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

type runConfig struct {
	in        string
	out       string
	hls       bool
	segment   time.Duration
	seek      time.Duration
	streamID  string
	transcode bool
	width     int
	height    int
	rate      int
}

func run(ctx context.Context, cfg runConfig) error {
	src, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	opts, sinkCfg, audioRate, err := buildLanes(src, cfg)
	if err != nil {
		return err
	}

	var clk clock.Clock
	if audioRate > 0 {
		ac := clock.NewAudioClock(audioRate)
		clk = ac
		opts = append(opts, pipeline.WithClock(ac))
	}
	opts = append(opts, pipeline.WithSignalFunc(func(sig media.Signal) {
		slog.Debug("pipeline signal", "signal", sig)
	}))

	snk, cleanup, err := openSink(cfg, sinkCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sess := pipeline.NewSession(src, snk, opts...)
	if cfg.seek > 0 {
		if err := sess.Seek(cfg.seek); err != nil {
			return fmt.Errorf("seek to %v: %w", cfg.seek, err)
		}
	}

	start := time.Now()
	if err := sess.Run(ctx); err != nil {
		return err
	}
	attrs := []any{"elapsed", time.Since(start).Round(time.Millisecond)}
	if clk != nil {
		attrs = append(attrs, "position", clk.Position().Round(time.Millisecond))
	}
	slog.Info("done", attrs...)
	return nil
}

func openSource(ctx context.Context, cfg runConfig) (pipeline.Source, error) {
	switch {
	case strings.HasPrefix(cfg.in, "srt://"):
		var opts []srtsource.Option
		if cfg.streamID != "" {
			opts = append(opts, srtsource.WithStreamID(cfg.streamID))
		}
		return srtsource.Pull(ctx, strings.TrimPrefix(cfg.in, "srt://"), opts...)
	case strings.HasPrefix(cfg.in, "srt-listen://"):
		return srtsource.Accept(ctx, strings.TrimPrefix(cfg.in, "srt-listen://"))
	case strings.HasPrefix(cfg.in, "quic://"):
		// Publishers use self-signed certificates; pinning is not implemented.
		return quicsource.Dial(ctx, strings.TrimPrefix(cfg.in, "quic://"),
			&tls.Config{InsecureSkipVerify: true})
	case strings.HasPrefix(cfg.in, "quic-listen://"):
		cert, err := certs.Generate(0)
		if err != nil {
			return nil, fmt.Errorf("generate certificate: %w", err)
		}
		slog.Info("certificate generated",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339))
		return quicsource.Accept(ctx, strings.TrimPrefix(cfg.in, "quic-listen://"),
			&tls.Config{Certificates: []tls.Certificate{cert.TLSCert}})
	default:
		return source.Open(ctx, cfg.in)
	}
}

// buildLanes assembles the session options and the sink's stream
// descriptions. In remux mode the sink sees the source streams unchanged; in
// transcode mode it sees the encoders' output.
func buildLanes(src pipeline.Source, cfg runConfig) ([]pipeline.SessionOption, pipeline.SinkConfig, int, error) {
	sinkCfg := pipeline.SinkConfig{SegmentDuration: cfg.segment}
	if cfg.hls {
		sinkCfg.Format = pipeline.ContainerHLS
	}
	var opts []pipeline.SessionOption
	audioRate := 0

	vInfo, _, hasVideo := src.VideoStream()
	aInfo, _, hasAudio := src.AudioStream()

	if !cfg.transcode {
		if hasVideo {
			sinkCfg.Video = &vInfo
		}
		if hasAudio {
			sinkCfg.Audio = &aInfo
		}
		// Remux decodes nothing, so there are no samples to drive a clock.
		return opts, sinkCfg, 0, nil
	}

	if hasVideo {
		if vInfo.Codec != media.CodecMJPEG {
			return nil, sinkCfg, 0, fmt.Errorf("transcode supports MJPEG video, source is %s (use remux)", vInfo.Codec)
		}
		dec := mjpeg.NewDecoder(pipeline.DecoderConfig{})
		outW, outH := vInfo.Width, vInfo.Height
		if cfg.width > 0 {
			outW = cfg.width
		}
		if cfg.height > 0 {
			outH = cfg.height
		}
		var xf pipeline.VideoTransformer
		if outW != vInfo.Width || outH != vInfo.Height {
			t, err := transform.NewVideoTransform(pipeline.VideoTransformConfig{Width: outW, Height: outH})
			if err != nil {
				return nil, sinkCfg, 0, err
			}
			xf = t
		}
		enc, err := mjpeg.NewEncoder(pipeline.VideoEncoderConfig{
			Codec:     media.CodecMJPEG,
			Width:     outW,
			Height:    outH,
			FrameRate: vInfo.FrameRate,
		})
		if err != nil {
			return nil, sinkCfg, 0, err
		}
		opts = append(opts, pipeline.WithVideoLane(dec, xf, enc))
		info := enc.StreamInfo()
		sinkCfg.Video = &info
	}

	if hasAudio {
		format := pcmSampleFormat(aInfo.Codec)
		if format == media.SampleFormatUnknown {
			return nil, sinkCfg, 0, fmt.Errorf("transcode supports PCM audio, source is %s (use remux)", aInfo.Codec)
		}
		dec, err := pcm.NewDecoder(aInfo)
		if err != nil {
			return nil, sinkCfg, 0, err
		}
		outRate := aInfo.SampleRate
		if cfg.rate > 0 {
			outRate = cfg.rate
		}
		var xf pipeline.AudioTransformer
		if outRate != aInfo.SampleRate {
			t, err := transform.NewAudioTransform(pipeline.AudioTransformConfig{
				SampleRate: outRate,
				Layout:     aInfo.Layout,
				Format:     format,
			})
			if err != nil {
				return nil, sinkCfg, 0, err
			}
			xf = t
		}
		enc, err := pcm.NewEncoder(pipeline.AudioEncoderConfig{
			Codec:      aInfo.Codec,
			SampleRate: outRate,
			Layout:     aInfo.Layout,
			Format:     format,
		})
		if err != nil {
			return nil, sinkCfg, 0, err
		}
		opts = append(opts, pipeline.WithAudioLane(dec, xf, enc))
		info := enc.StreamInfo()
		sinkCfg.Audio = &info
		audioRate = aInfo.SampleRate
	}

	if sinkCfg.Video == nil && sinkCfg.Audio == nil {
		return nil, sinkCfg, 0, fmt.Errorf("source has no streams to transcode")
	}
	return opts, sinkCfg, audioRate, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func pcmSampleFormat(c media.CodecID) media.SampleFormat {
	switch c {
	case media.CodecPCMS16LE:
		return media.SampleFormatS16
	case media.CodecPCMF32LE:
		return media.SampleFormatF32
	default:
		return media.SampleFormatUnknown
	}
}

func openSink(cfg runConfig, sinkCfg pipeline.SinkConfig) (pipeline.Sink, func(), error) {
	if cfg.hls {
		s, err := sink.NewHLS(cfg.out, sinkCfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
	if cfg.out == "-" {
		s, err := sink.NewTS(os.Stdout, sinkCfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
	f, err := os.Create(cfg.out)
	if err != nil {
		return nil, nil, err
	}
	s, err := sink.NewTS(f, sinkCfg)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return s, func() { f.Close() }, nil
}
