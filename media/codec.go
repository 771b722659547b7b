package media

// CodecID identifies a compressed bitstream format. The set covers the
// codecs the pipeline routes; stage implementations may support a subset.
type CodecID int

const (
	CodecUnknown CodecID = iota

	// Video codecs.
	CodecH264
	CodecH265
	CodecVP8
	CodecVP9
	CodecAV1
	CodecMPEG2Video
	CodecMPEG4
	CodecMJPEG

	// Audio codecs.
	CodecAAC
	CodecOpus
	CodecMP3
	CodecVorbis
	CodecFLAC
	CodecPCMS16LE
	CodecPCMF32LE
	CodecAC3
)

// IsVideo reports whether the codec carries video.
func (c CodecID) IsVideo() bool {
	switch c {
	case CodecH264, CodecH265, CodecVP8, CodecVP9, CodecAV1,
		CodecMPEG2Video, CodecMPEG4, CodecMJPEG:
		return true
	default:
		return false
	}
}

// IsAudio reports whether the codec carries audio.
func (c CodecID) IsAudio() bool {
	switch c {
	case CodecAAC, CodecOpus, CodecMP3, CodecVorbis, CodecFLAC,
		CodecPCMS16LE, CodecPCMF32LE, CodecAC3:
		return true
	default:
		return false
	}
}

// IsLossless reports whether the codec preserves the input exactly.
func (c CodecID) IsLossless() bool {
	switch c {
	case CodecFLAC, CodecPCMS16LE, CodecPCMF32LE:
		return true
	default:
		return false
	}
}

func (c CodecID) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecVP8:
		return "vp8"
	case CodecVP9:
		return "vp9"
	case CodecAV1:
		return "av1"
	case CodecMPEG2Video:
		return "mpeg2video"
	case CodecMPEG4:
		return "mpeg4"
	case CodecMJPEG:
		return "mjpeg"
	case CodecAAC:
		return "aac"
	case CodecOpus:
		return "opus"
	case CodecMP3:
		return "mp3"
	case CodecVorbis:
		return "vorbis"
	case CodecFLAC:
		return "flac"
	case CodecPCMS16LE:
		return "pcm_s16le"
	case CodecPCMF32LE:
		return "pcm_f32le"
	case CodecAC3:
		return "ac3"
	default:
		return "unknown"
	}
}
