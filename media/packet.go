package media

import "time"

// StreamType tags a packet with the kind of stream it belongs to.
type StreamType int

const (
	StreamVideo StreamType = iota + 1
	StreamAudio
)

func (t StreamType) String() string {
	switch t {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Packet is one encoded unit of a single stream, with timing in the ticks
// of its own time base. Packets flow from Source to Decoder and from
// Encoder to Sink. Once a stage returns a packet, the caller owns it
// exclusively; stages never retain references to returned data.
type Packet struct {
	Data     []byte
	PTS      Pts // NoPts if absent
	DTS      Dts // NoPts if absent
	Duration MediaDuration
	TimeBase Rational
	Keyframe bool
	Type     StreamType
}

// PresentationTime returns the packet's PTS as a wall duration. The second
// return is false when the packet has no PTS.
func (p *Packet) PresentationTime() (time.Duration, bool) {
	if p.PTS == NoPts {
		return 0, false
	}
	return p.PTS.ToDuration(p.TimeBase), true
}

// DecodeTime returns the packet's DTS as a wall duration. The second
// return is false when the packet has no DTS.
func (p *Packet) DecodeTime() (time.Duration, bool) {
	if p.DTS == NoPts {
		return 0, false
	}
	return p.DTS.ToDuration(p.TimeBase), true
}

// PacketDuration returns the packet's content duration as a wall duration.
func (p *Packet) PacketDuration() time.Duration {
	return p.Duration.ToDuration(p.TimeBase)
}

// IsVideo reports whether the packet belongs to a video stream.
func (p *Packet) IsVideo() bool { return p.Type == StreamVideo }

// IsAudio reports whether the packet belongs to an audio stream.
func (p *Packet) IsAudio() bool { return p.Type == StreamAudio }
