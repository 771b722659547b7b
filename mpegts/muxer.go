package mpegts

import (
	"io"

	"github.com/zsiec/tempo/media"
)

const (
	firstElementaryPID = 0x0100
	programNumber      = 1

	// PES units between PAT/PMT repetitions when no keyframe forces one
	// earlier.
	psiRepeatInterval = 64
)

type muxStream struct {
	pid        uint16
	streamType uint8
	streamID   uint8
	cc         uint8
	video      bool
}

// Muxer writes a single-program transport stream. Streams are registered
// with AddStream before the first WritePES call; PAT and PMT are emitted
// before the first payload, before every video keyframe, and at a fixed
// repetition interval.
type Muxer struct {
	w        io.Writer
	streams  []*muxStream
	pcrPID   uint16
	patCC    uint8
	pmtCC    uint8
	sincePSI int
	started  bool
	pkt      [PacketSize]byte
}

// NewMuxer creates a muxer writing transport packets to w.
func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w}
}

// AddStream registers an elementary stream and returns its PID. Video
// streams take PCR ownership; with no video stream the first stream added
// carries the PCR.
func (m *Muxer) AddStream(codec media.CodecID) (uint16, error) {
	if m.started {
		return 0, media.InvalidDataf("ts muxer: stream added after first write")
	}
	st, ok := StreamTypeForCodec(codec)
	if !ok {
		return 0, media.Unsupportedf("codec %s in mpeg-ts", codec)
	}

	s := &muxStream{
		pid:        firstElementaryPID + uint16(len(m.streams)),
		streamType: st,
		video:      codec.IsVideo(),
	}
	if s.video {
		s.streamID = StreamIDVideo
	} else {
		s.streamID = StreamIDAudio
	}
	m.streams = append(m.streams, s)

	if m.pcrPID == 0 || (s.video && !m.pcrStreamIsVideo()) {
		m.pcrPID = s.pid
	}
	return s.pid, nil
}

func (m *Muxer) pcrStreamIsVideo() bool {
	for _, s := range m.streams {
		if s.pid == m.pcrPID {
			return s.video
		}
	}
	return false
}

// WritePES packetizes one elementary stream access unit. pts and dts are
// 90 kHz ticks, media.NoPts when absent.
func (m *Muxer) WritePES(pid uint16, data []byte, pts media.Pts, dts media.Dts, keyframe bool) error {
	var stream *muxStream
	for _, s := range m.streams {
		if s.pid == pid {
			stream = s
			break
		}
	}
	if stream == nil {
		return media.InvalidDataf("ts muxer: unknown pid 0x%04X", pid)
	}
	if len(data) == 0 {
		return nil
	}

	if !m.started || m.sincePSI >= psiRepeatInterval || (keyframe && stream.video) {
		if err := m.writePSI(); err != nil {
			return err
		}
	}
	m.started = true
	m.sincePSI++

	// Video PES packets are unbounded; the 16-bit length field cannot hold
	// large access units.
	dataLen := len(data)
	if stream.video {
		dataLen = -1
	}
	header := buildPESHeader(stream.streamID, dataLen, pts, dts)

	hasPCR := pid == m.pcrPID && keyframe
	pcrBase := int64(dts)
	if dts == media.NoPts {
		pcrBase = int64(pts)
	}
	if pcrBase < 0 {
		hasPCR = false
		pcrBase = 0
	}

	payload := make([]byte, 0, len(header)+len(data))
	payload = append(payload, header...)
	payload = append(payload, data...)
	return m.writeRun(pid, &stream.cc, payload, keyframe, hasPCR, pcrBase)
}

func (m *Muxer) writePSI() error {
	pat := padSection(buildPATPayload(programNumber, pidPMT))
	if err := m.writeRun(pidPAT, &m.patCC, pat, false, false, 0); err != nil {
		return err
	}

	streams := make([]ElementaryStream, len(m.streams))
	for i, s := range m.streams {
		streams[i] = ElementaryStream{ElementaryPID: s.pid, StreamType: s.streamType}
	}
	pmt := padSection(buildPMTPayload(m.pcrPID, streams))
	if err := m.writeRun(pidPMT, &m.pmtCC, pmt, false, false, 0); err != nil {
		return err
	}

	m.sincePSI = 0
	return nil
}

// padSection fills a PSI payload to a whole packet with stuffing bytes.
func padSection(section []byte) []byte {
	if len(section) >= PacketSize-4 {
		return section
	}
	out := make([]byte, PacketSize-4)
	n := copy(out, section)
	for i := n; i < len(out); i++ {
		out[i] = 0xFF
	}
	return out
}

// writeRun splits payload across as many transport packets as needed. The
// first packet gets the payload-unit-start indicator plus random-access and
// PCR adaptation flags when requested; the last packet is padded with
// adaptation-field stuffing.
func (m *Muxer) writeRun(pid uint16, cc *uint8, payload []byte, randomAccess, hasPCR bool, pcrBase int64) error {
	pos := 0
	for pos < len(payload) {
		pkt := m.pkt[:]
		for i := range pkt {
			pkt[i] = 0xFF
		}
		pkt[0] = syncByte
		pkt[1] = uint8(pid>>8) & 0x1F
		if pos == 0 {
			pkt[1] |= 0x40
		}
		pkt[2] = uint8(pid)
		pkt[3] = 0x10 | (*cc & 0x0F)
		*cc = (*cc + 1) & 0x0F

		var flags uint8
		afExtra := 0
		if pos == 0 {
			if randomAccess {
				flags |= 0x40
			}
			if hasPCR {
				flags |= 0x10
				afExtra = 6
			}
		}

		hasAF := flags != 0
		afLen := 0
		if hasAF {
			afLen = 1 + afExtra
		}

		capacity := PacketSize - 4
		if hasAF {
			capacity -= 1 + afLen
		}
		remaining := len(payload) - pos
		if remaining < capacity {
			pad := capacity - remaining
			if hasAF {
				afLen += pad
			} else {
				hasAF = true
				afLen = pad - 1
			}
			capacity = remaining
		}

		off := 4
		if hasAF {
			pkt[3] |= 0x20
			pkt[4] = uint8(afLen)
			off = 5
			if afLen > 0 {
				pkt[5] = flags
				if flags&0x10 != 0 {
					putPCR(pkt[6:12], pcrBase)
				}
				off = 5 + afLen
			}
		}

		copy(pkt[off:off+capacity], payload[pos:pos+capacity])
		pos += capacity

		if _, err := m.w.Write(pkt); err != nil {
			return media.IOErr(err)
		}
	}
	return nil
}

// putPCR encodes a 90 kHz PCR base into the 48-bit program clock reference
// field (base 33 bits, reserved 6 bits, extension 9 bits).
func putPCR(b []byte, base int64) {
	v := uint64(base&0x1FFFFFFFF)<<15 | 0x3F<<9
	b[0] = uint8(v >> 40)
	b[1] = uint8(v >> 32)
	b[2] = uint8(v >> 24)
	b[3] = uint8(v >> 16)
	b[4] = uint8(v >> 8)
	b[5] = uint8(v)
}
