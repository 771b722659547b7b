package media

// PixelFormat identifies the memory layout of raw video pixel data. The set
// covers the formats commonly seen between decoders, scalers, and displays;
// it is not the full FFmpeg catalogue.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatYUV420P             // planar YUV 4:2:0, 12bpp
	PixelFormatNV12                // semi-planar YUV 4:2:0, common hardware output
	PixelFormatBGRA                // packed BGRA, 32bpp
	PixelFormatRGBA                // packed RGBA, 32bpp
	PixelFormatRGB24               // packed RGB, 24bpp
	PixelFormatBGR24               // packed BGR, 24bpp
	PixelFormatYUV422P             // planar YUV 4:2:2, 16bpp
	PixelFormatYUV444P             // planar YUV 4:4:4, 24bpp
	PixelFormatYUV420P10           // planar YUV 4:2:0, 10-bit
)

// BitsPerPixel returns the average bits per pixel for the format.
func (f PixelFormat) BitsPerPixel() int {
	switch f {
	case PixelFormatYUV420P, PixelFormatNV12:
		return 12
	case PixelFormatYUV420P10:
		return 24 // 10-bit samples stored in 16-bit words, 1.5 samples/pixel
	case PixelFormatYUV422P:
		return 16
	case PixelFormatRGB24, PixelFormatBGR24, PixelFormatYUV444P:
		return 24
	case PixelFormatBGRA, PixelFormatRGBA:
		return 32
	default:
		return 0
	}
}

// IsPlanar reports whether the format stores each component in its own
// plane (semi-planar NV12 counts as planar).
func (f PixelFormat) IsPlanar() bool {
	switch f {
	case PixelFormatYUV420P, PixelFormatYUV422P, PixelFormatYUV444P,
		PixelFormatYUV420P10, PixelFormatNV12:
		return true
	default:
		return false
	}
}

// FrameSize returns the byte length of one frame of the given dimensions,
// accounting for chroma subsampling on planar formats. Returns 0 for
// unknown formats.
func (f PixelFormat) FrameSize(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	luma := width * height
	chroma420 := ((width + 1) / 2) * ((height + 1) / 2)
	chroma422 := ((width + 1) / 2) * height

	switch f {
	case PixelFormatYUV420P, PixelFormatNV12:
		return luma + 2*chroma420
	case PixelFormatYUV420P10:
		return 2 * (luma + 2*chroma420)
	case PixelFormatYUV422P:
		return luma + 2*chroma422
	case PixelFormatYUV444P:
		return 3 * luma
	case PixelFormatRGB24, PixelFormatBGR24:
		return 3 * luma
	case PixelFormatBGRA, PixelFormatRGBA:
		return 4 * luma
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatYUV420P:
		return "yuv420p"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatRGB24:
		return "rgb24"
	case PixelFormatBGR24:
		return "bgr24"
	case PixelFormatYUV422P:
		return "yuv422p"
	case PixelFormatYUV444P:
		return "yuv444p"
	case PixelFormatYUV420P10:
		return "yuv420p10"
	default:
		return "unknown"
	}
}

// SampleFormat identifies the binary representation of one audio sample.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatU8                   // unsigned 8-bit
	SampleFormatS16                  // signed 16-bit
	SampleFormatS32                  // signed 32-bit
	SampleFormatF32                  // 32-bit float, range [-1, 1]
	SampleFormatF64                  // 64-bit float
)

// BytesPerSample returns the storage size of one sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatF32:
		return 4
	case SampleFormatF64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether the format is floating point.
func (f SampleFormat) IsFloat() bool {
	return f == SampleFormatF32 || f == SampleFormatF64
}

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS32:
		return "s32"
	case SampleFormatF32:
		return "f32"
	case SampleFormatF64:
		return "f64"
	default:
		return "unknown"
	}
}

// ChannelLayout identifies the speaker arrangement of an audio stream.
type ChannelLayout int

const (
	ChannelLayoutUnknown ChannelLayout = iota
	ChannelLayoutMono
	ChannelLayoutStereo
)

// Channels returns the number of channels in the layout.
func (l ChannelLayout) Channels() int {
	switch l {
	case ChannelLayoutMono:
		return 1
	case ChannelLayoutStereo:
		return 2
	default:
		return 0
	}
}

// LayoutForChannels returns the layout matching a channel count, or
// ChannelLayoutUnknown if no layout matches.
func LayoutForChannels(n int) ChannelLayout {
	switch n {
	case 1:
		return ChannelLayoutMono
	case 2:
		return ChannelLayoutStereo
	default:
		return ChannelLayoutUnknown
	}
}

func (l ChannelLayout) String() string {
	switch l {
	case ChannelLayoutMono:
		return "mono"
	case ChannelLayoutStereo:
		return "stereo"
	default:
		return "unknown"
	}
}
