package pipeline

import (
	"time"

	"github.com/zsiec/tempo/media"
)

// HWDevice selects a hardware decode backend.
type HWDevice int

const (
	HWNone HWDevice = iota
	HWVideoToolbox
	HWVAAPI
	HWCUDA
	HWQSV
)

func (d HWDevice) String() string {
	switch d {
	case HWVideoToolbox:
		return "videotoolbox"
	case HWVAAPI:
		return "vaapi"
	case HWCUDA:
		return "cuda"
	case HWQSV:
		return "qsv"
	default:
		return "none"
	}
}

// DecoderConfig carries the hardware preference resolved at decoder
// construction. When PreferHW is set and the device cannot be opened, the
// decoder falls back to software silently; HWAccelerated reports the
// outcome.
type DecoderConfig struct {
	PreferHW bool
	Device   HWDevice
}

// ScaleAlgorithm selects the video scaling filter.
type ScaleAlgorithm int

const (
	ScaleBilinear ScaleAlgorithm = iota
	ScaleBicubic
	ScaleLanczos
	ScaleNearest
)

func (a ScaleAlgorithm) String() string {
	switch a {
	case ScaleBicubic:
		return "bicubic"
	case ScaleLanczos:
		return "lanczos"
	case ScaleNearest:
		return "nearest"
	default:
		return "bilinear"
	}
}

// VideoTransformConfig describes the output side of a video transform.
type VideoTransformConfig struct {
	Width     int
	Height    int
	Format    media.PixelFormat
	Algorithm ScaleAlgorithm
}

// AudioTransformConfig describes the output side of an audio transform.
type AudioTransformConfig struct {
	SampleRate int
	Layout     media.ChannelLayout
	Format     media.SampleFormat
}

// VideoEncoderConfig configures a video encoder. BitRate 0 and an empty
// Preset leave the backend defaults in place.
type VideoEncoderConfig struct {
	Codec       media.CodecID
	Width       int
	Height      int
	FrameRate   media.Rational
	PixelFormat media.PixelFormat
	BitRate     int64
	Preset      string
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec      media.CodecID
	SampleRate int
	Layout     media.ChannelLayout
	Format     media.SampleFormat
	BitRate    int64
}

// ContainerFormat selects the sink's output container.
type ContainerFormat int

const (
	ContainerMpegTS ContainerFormat = iota
	ContainerMp4
	ContainerMkv
	ContainerHLS
)

func (f ContainerFormat) String() string {
	switch f {
	case ContainerMp4:
		return "mp4"
	case ContainerMkv:
		return "matroska"
	case ContainerHLS:
		return "hls"
	default:
		return "mpegts"
	}
}

// SinkConfig configures a container sink. Video and Audio describe the
// streams the sink will receive; either may be nil. SegmentDuration applies
// to HLS only and defaults to 6 seconds.
type SinkConfig struct {
	Format          ContainerFormat
	Video           *media.VideoStreamInfo
	Audio           *media.AudioStreamInfo
	SegmentDuration time.Duration
}

// DefaultHLSSegmentDuration is used when SinkConfig.SegmentDuration is zero.
const DefaultHLSSegmentDuration = 6 * time.Second
