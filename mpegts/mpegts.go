// Package mpegts implements MPEG-TS container support in both directions:
// a demuxer with PAT/PMT discovery and PES reassembly with PTS/DTS
// extraction, and a muxer producing PAT/PMT repetition, PES packetization,
// and PCR insertion. Timestamps are 90 kHz ticks throughout.
package mpegts

import "github.com/zsiec/tempo/media"

const (
	// PacketSize is the fixed transport packet length.
	PacketSize = 188

	syncByte = 0x47

	pidPAT = 0x0000
	pidPMT = 0x1000
)

// Elementary stream types carried in the PMT (ISO 13818-1 plus the common
// private assignments).
const (
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypePrivate    = 0x06
	StreamTypeADTSAAC    = 0x0F
	StreamTypeMPEG2Video = 0x02
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
	StreamTypeLPCM       = 0x80
	StreamTypeAC3        = 0x81
)

// PES stream IDs.
const (
	StreamIDVideo = 0xE0
	StreamIDAudio = 0xC0
)

// CodecForStreamType maps a PMT stream type to a codec identity.
func CodecForStreamType(st uint8) (media.CodecID, bool) {
	switch st {
	case StreamTypeH264:
		return media.CodecH264, true
	case StreamTypeH265:
		return media.CodecH265, true
	case StreamTypeMPEG2Video:
		return media.CodecMPEG2Video, true
	case StreamTypeADTSAAC:
		return media.CodecAAC, true
	case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio:
		return media.CodecMP3, true
	case StreamTypeAC3:
		return media.CodecAC3, true
	case StreamTypeLPCM:
		return media.CodecPCMS16LE, true
	case StreamTypePrivate:
		return media.CodecMJPEG, true
	default:
		return 0, false
	}
}

// StreamTypeForCodec maps a codec identity to the PMT stream type the muxer
// writes for it.
func StreamTypeForCodec(c media.CodecID) (uint8, bool) {
	switch c {
	case media.CodecH264:
		return StreamTypeH264, true
	case media.CodecH265:
		return StreamTypeH265, true
	case media.CodecMPEG2Video:
		return StreamTypeMPEG2Video, true
	case media.CodecAAC:
		return StreamTypeADTSAAC, true
	case media.CodecMP3:
		return StreamTypeMPEG1Audio, true
	case media.CodecAC3:
		return StreamTypeAC3, true
	case media.CodecPCMS16LE:
		return StreamTypeLPCM, true
	case media.CodecMJPEG:
		return StreamTypePrivate, true
	default:
		return 0, false
	}
}

// Packet is a parsed 188-byte transport packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// DemuxerData is the demuxer output for one logical unit. Exactly one of
// PAT, PMT, or PES is non-nil.
type DemuxerData struct {
	PID uint16
	PAT *PAT
	PMT *PMT
	PES *PES
}

// PAT is the parsed Program Association Table.
type PAT struct {
	Programs []PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapPID uint16
	ProgramNumber uint16
}

// PMT is the parsed Program Map Table.
type PMT struct {
	PCRPID            uint16
	ElementaryStreams []ElementaryStream
}

// ElementaryStream describes one stream entry in a PMT.
type ElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
}

// PES is a reassembled Packetized Elementary Stream packet. PTS and DTS are
// 90 kHz ticks, media.NoPts when absent. RandomAccess reflects the transport
// random-access indicator on the packet that started this PES.
type PES struct {
	StreamID     uint8
	PTS          media.Pts
	DTS          media.Dts
	RandomAccess bool
	Data         []byte
}
