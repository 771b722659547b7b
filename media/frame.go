package media

import "time"

// VideoFrame is one decoded picture. Data holds the raw pixel bytes laid
// out according to Format; its length must equal
// Format.FrameSize(Width, Height).
type VideoFrame struct {
	Data     []byte
	Width    int
	Height   int
	Format   PixelFormat
	PTS      Pts // NoPts if absent
	TimeBase Rational
}

// PresentationTime returns the frame's PTS as a wall duration. The second
// return is false when the frame has no PTS.
func (f *VideoFrame) PresentationTime() (time.Duration, bool) {
	if f.PTS == NoPts {
		return 0, false
	}
	return f.PTS.ToDuration(f.TimeBase), true
}

// ExpectedDataLen returns the byte length Data must have for the frame's
// dimensions and format.
func (f *VideoFrame) ExpectedDataLen() int {
	return f.Format.FrameSize(f.Width, f.Height)
}

// AudioFrame is a run of decoded audio samples. Data holds interleaved
// sample bytes: for stereo F32, [L0 R0 L1 R1 ...]. Samples counts sample
// frames, i.e. samples per channel.
type AudioFrame struct {
	Data       []byte
	Samples    int
	SampleRate int
	Layout     ChannelLayout
	Format     SampleFormat
	PTS        Pts // NoPts if absent
	TimeBase   Rational
}

// PresentationTime returns the frame's PTS as a wall duration. The second
// return is false when the frame has no PTS.
func (f *AudioFrame) PresentationTime() (time.Duration, bool) {
	if f.PTS == NoPts {
		return 0, false
	}
	return f.PTS.ToDuration(f.TimeBase), true
}

// Duration returns the play time of the frame's samples.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(rescale(int64(f.Samples), int64(time.Second), int64(f.SampleRate)))
}

// TotalSamples returns Samples multiplied by the channel count.
func (f *AudioFrame) TotalSamples() int {
	return f.Samples * f.Layout.Channels()
}

// ExpectedDataLen returns the byte length Data must have for the frame's
// sample count, layout, and format.
func (f *AudioFrame) ExpectedDataLen() int {
	return f.TotalSamples() * f.Format.BytesPerSample()
}
