//go:build cgo

// Package ffmpeg implements the pipeline stage contracts on top of FFmpeg
// through github.com/asticode/go-astiav: a demuxing Source for any
// libavformat container, video and audio decoders with hardware decode
// fallback, libswscale and libswresample transforms, encoders, and a muxing
// Sink covering MP4, Matroska, MPEG-TS, and HLS.
//
// Building this package needs cgo and the FFmpeg development headers; the
// pure-Go source, codec, transform, and sink packages carry the pipeline on
// systems without them.
package ffmpeg

import (
	"errors"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/pipeline"
)

// Tight packing, no row padding. Frame data crossing the package boundary
// always uses this alignment so byte lengths match PixelFormat.FrameSize.
const frameAlign = 1

var codecIDs = map[media.CodecID]astiav.CodecID{
	media.CodecH264:       astiav.CodecIDH264,
	media.CodecH265:       astiav.CodecIDHevc,
	media.CodecVP8:        astiav.CodecIDVp8,
	media.CodecVP9:        astiav.CodecIDVp9,
	media.CodecAV1:        astiav.CodecIDAv1,
	media.CodecMPEG2Video: astiav.CodecIDMpeg2Video,
	media.CodecMPEG4:      astiav.CodecIDMpeg4,
	media.CodecMJPEG:      astiav.CodecIDMjpeg,
	media.CodecAAC:        astiav.CodecIDAac,
	media.CodecOpus:       astiav.CodecIDOpus,
	media.CodecMP3:        astiav.CodecIDMp3,
	media.CodecVorbis:     astiav.CodecIDVorbis,
	media.CodecFLAC:       astiav.CodecIDFlac,
	media.CodecPCMS16LE:   astiav.CodecIDPcmS16Le,
	media.CodecPCMF32LE:   astiav.CodecIDPcmF32Le,
	media.CodecAC3:        astiav.CodecIDAc3,
}

func toCodecID(c media.CodecID) (astiav.CodecID, bool) {
	id, ok := codecIDs[c]
	return id, ok
}

func fromCodecID(id astiav.CodecID) media.CodecID {
	for c, a := range codecIDs {
		if a == id {
			return c
		}
	}
	return media.CodecUnknown
}

var pixelFormats = map[media.PixelFormat]astiav.PixelFormat{
	media.PixelFormatYUV420P:   astiav.PixelFormatYuv420P,
	media.PixelFormatNV12:      astiav.PixelFormatNv12,
	media.PixelFormatBGRA:      astiav.PixelFormatBgra,
	media.PixelFormatRGBA:      astiav.PixelFormatRgba,
	media.PixelFormatRGB24:     astiav.PixelFormatRgb24,
	media.PixelFormatBGR24:     astiav.PixelFormatBgr24,
	media.PixelFormatYUV422P:   astiav.PixelFormatYuv422P,
	media.PixelFormatYUV444P:   astiav.PixelFormatYuv444P,
	media.PixelFormatYUV420P10: astiav.PixelFormatYuv420P10Le,
}

func toPixelFormat(f media.PixelFormat) (astiav.PixelFormat, bool) {
	pf, ok := pixelFormats[f]
	return pf, ok
}

func fromPixelFormat(pf astiav.PixelFormat) media.PixelFormat {
	for f, a := range pixelFormats {
		if a == pf {
			return f
		}
	}
	return media.PixelFormatUnknown
}

// fromSampleFormat maps a libav sample format to the package's interleaved
// representation. The second return reports whether the libav layout is
// planar, in which case the raw frame bytes hold one plane per channel and
// need interleaving.
func fromSampleFormat(sf astiav.SampleFormat) (media.SampleFormat, bool) {
	switch sf {
	case astiav.SampleFormatU8:
		return media.SampleFormatU8, false
	case astiav.SampleFormatU8P:
		return media.SampleFormatU8, true
	case astiav.SampleFormatS16:
		return media.SampleFormatS16, false
	case astiav.SampleFormatS16P:
		return media.SampleFormatS16, true
	case astiav.SampleFormatS32:
		return media.SampleFormatS32, false
	case astiav.SampleFormatS32P:
		return media.SampleFormatS32, true
	case astiav.SampleFormatFlt:
		return media.SampleFormatF32, false
	case astiav.SampleFormatFltP:
		return media.SampleFormatF32, true
	case astiav.SampleFormatDbl:
		return media.SampleFormatF64, false
	case astiav.SampleFormatDblP:
		return media.SampleFormatF64, true
	default:
		return media.SampleFormatUnknown, false
	}
}

func toSampleFormat(f media.SampleFormat, planar bool) (astiav.SampleFormat, bool) {
	switch f {
	case media.SampleFormatU8:
		if planar {
			return astiav.SampleFormatU8P, true
		}
		return astiav.SampleFormatU8, true
	case media.SampleFormatS16:
		if planar {
			return astiav.SampleFormatS16P, true
		}
		return astiav.SampleFormatS16, true
	case media.SampleFormatS32:
		if planar {
			return astiav.SampleFormatS32P, true
		}
		return astiav.SampleFormatS32, true
	case media.SampleFormatF32:
		if planar {
			return astiav.SampleFormatFltP, true
		}
		return astiav.SampleFormatFlt, true
	case media.SampleFormatF64:
		if planar {
			return astiav.SampleFormatDblP, true
		}
		return astiav.SampleFormatDbl, true
	default:
		return astiav.SampleFormatNone, false
	}
}

func toChannelLayout(l media.ChannelLayout) (astiav.ChannelLayout, bool) {
	switch l {
	case media.ChannelLayoutMono:
		return astiav.ChannelLayoutMono, true
	case media.ChannelLayoutStereo:
		return astiav.ChannelLayoutStereo, true
	default:
		return astiav.ChannelLayout{}, false
	}
}

func toRational(r media.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

func fromRational(r astiav.Rational) media.Rational {
	return media.Rational{Num: r.Num(), Den: r.Den()}
}

func toTimestamp(p media.Pts) int64 {
	if p == media.NoPts {
		return astiav.NoPtsValue
	}
	return int64(p)
}

func fromTimestamp(ts int64) media.Pts {
	if ts == astiav.NoPtsValue {
		return media.NoPts
	}
	return media.Pts(ts)
}

// rescalePts converts a timestamp between time bases, preserving the
// no-timestamp marker.
func rescalePts(p media.Pts, from, to media.Rational) media.Pts {
	if p == media.NoPts || from == to {
		return p
	}
	return media.PtsFromDuration(p.ToDuration(from), to)
}

// ffErr folds a libav error into the pipeline taxonomy.
func ffErr(op string, err error) error {
	switch {
	case errors.Is(err, astiav.ErrEof):
		return media.EOF
	case errors.Is(err, astiav.ErrInvaliddata):
		return media.InvalidDataf("%s: %v", op, err)
	default:
		return media.Codecf("%s: %v", op, err)
	}
}

// interleave converts plane-sequential audio bytes (one plane per channel,
// samples*bps bytes each) to the interleaved layout the pipeline carries.
func interleave(planes []byte, channels, bps int) []byte {
	if channels <= 1 {
		return planes
	}
	planeLen := len(planes) / channels
	samples := planeLen / bps
	out := make([]byte, len(planes))
	for c := 0; c < channels; c++ {
		plane := planes[c*planeLen:]
		for s := 0; s < samples; s++ {
			copy(out[(s*channels+c)*bps:], plane[s*bps:(s+1)*bps])
		}
	}
	return out
}

// deinterleave is the inverse of interleave, producing the plane-sequential
// layout planar libav frames expect.
func deinterleave(data []byte, channels, bps int) []byte {
	if channels <= 1 {
		return data
	}
	samples := len(data) / (channels * bps)
	planeLen := samples * bps
	out := make([]byte, len(data))
	for c := 0; c < channels; c++ {
		plane := out[c*planeLen:]
		for s := 0; s < samples; s++ {
			copy(plane[s*bps:], data[(s*channels+c)*bps:(s*channels+c)*bps+bps])
		}
	}
	return out
}

// hwDeviceType resolves the libav device type for a pipeline hardware
// preference, by the name FFmpeg registers it under.
func hwDeviceType(d pipeline.HWDevice) (astiav.HardwareDeviceType, bool) {
	if d == pipeline.HWNone {
		return astiav.HardwareDeviceTypeNone, false
	}
	t := astiav.FindHardwareDeviceTypeByName(d.String())
	return t, t != astiav.HardwareDeviceTypeNone
}
