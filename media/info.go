package media

// VideoStreamInfo is the static description of a video stream, captured
// once when a source is opened or an encoder is constructed, and immutable
// afterwards.
type VideoStreamInfo struct {
	Width     int
	Height    int
	Format    PixelFormat
	TimeBase  Rational
	FrameRate Rational
	Duration  MediaDuration // total stream duration in TimeBase ticks; 0 if unknown
	Codec     CodecID
}

// AudioStreamInfo is the static description of an audio stream.
type AudioStreamInfo struct {
	SampleRate int
	Layout     ChannelLayout
	Format     SampleFormat
	TimeBase   Rational
	Duration   MediaDuration
	Codec      CodecID
}

// CodecConfig is the opaque initialization handle a Source produces for
// each stream and a Decoder consumes. Its contents are
// implementation-defined but stable for a given codec and container over
// the lifetime of one open source; neither side's public contract depends
// on the other's internal representation.
type CodecConfig struct {
	codec     CodecID
	extradata []byte
	video     *VideoStreamInfo
	audio     *AudioStreamInfo
}

// NewVideoCodecConfig builds a config for a video stream. extradata carries
// bitstream-specific setup (e.g. parameter sets) and may be nil.
func NewVideoCodecConfig(info VideoStreamInfo, extradata []byte) *CodecConfig {
	return &CodecConfig{codec: info.Codec, extradata: extradata, video: &info}
}

// NewAudioCodecConfig builds a config for an audio stream.
func NewAudioCodecConfig(info AudioStreamInfo, extradata []byte) *CodecConfig {
	return &CodecConfig{codec: info.Codec, extradata: extradata, audio: &info}
}

// Codec returns the codec the config initializes.
func (c *CodecConfig) Codec() CodecID { return c.codec }

// Extradata returns the raw bitstream setup bytes, or nil.
func (c *CodecConfig) Extradata() []byte { return c.extradata }

// VideoInfo returns the video stream description, or nil for audio configs.
func (c *CodecConfig) VideoInfo() *VideoStreamInfo { return c.video }

// AudioInfo returns the audio stream description, or nil for video configs.
func (c *CodecConfig) AudioInfo() *AudioStreamInfo { return c.audio }
