package mpegts

import "github.com/zsiec/tempo/media"

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

func parsePES(payload []byte) (*PES, error) {
	if len(payload) < 6 {
		return nil, media.InvalidDataf("pes packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, media.InvalidDataf("pes start code missing")
	}

	streamID := payload[3]
	packetLength := int(payload[4])<<8 | int(payload[5])

	pes := &PES{
		StreamID: streamID,
		PTS:      media.NoPts,
		DTS:      media.NoPts,
	}

	// Stream IDs without an optional PES header: padding_stream (0xBE),
	// private_stream_2 (0xBF), ECM (0xF0), EMM (0xF1), DSMCC (0xF2),
	// H.222.1 type E (0xF8), program_stream_directory (0xFF).
	hasOptionalHeader := streamID != 0xBE && streamID != 0xBF &&
		streamID != 0xF0 && streamID != 0xF1 &&
		streamID != 0xF2 && streamID != 0xF8 && streamID != 0xFF

	if !hasOptionalHeader {
		if packetLength > 0 && 6+packetLength <= len(payload) {
			pes.Data = payload[6 : 6+packetLength]
		} else {
			pes.Data = payload[6:]
		}
		return pes, nil
	}

	if len(payload) < 9 {
		return nil, media.InvalidDataf("pes optional header too short")
	}

	// payload[6]: marker(2) + scrambling(2) + priority(1) + alignment(1) + copyright(1) + original(1)
	// payload[7]: PTS_DTS_indicator(2) + ESCR(1) + ES_rate(1) + DSM_trick(1) + additional_copy(1) + CRC(1) + extension(1)
	// payload[8]: PES_header_data_length
	ptsDTSIndicator := (payload[7] >> 6) & 0x03
	headerDataLength := int(payload[8])

	dataStart := 9 + headerDataLength
	if dataStart > len(payload) {
		dataStart = len(payload)
	}

	switch ptsDTSIndicator {
	case 2: // PTS only
		if len(payload) >= 14 {
			pes.PTS = parseTimestamp(payload[9:14])
		}
	case 3: // PTS + DTS
		if len(payload) >= 19 {
			pes.PTS = parseTimestamp(payload[9:14])
			pes.DTS = parseTimestamp(payload[14:19])
		}
	}

	if packetLength > 0 {
		totalPES := 6 + packetLength
		if totalPES <= len(payload) {
			pes.Data = payload[dataStart:totalPES]
		} else {
			pes.Data = payload[dataStart:]
		}
	} else {
		// packetLength 0 means unbounded (video streams).
		pes.Data = payload[dataStart:]
	}

	return pes, nil
}

// parseTimestamp extracts a 33-bit 90 kHz timestamp from 5 PES bytes.
func parseTimestamp(bs []byte) media.Pts {
	if len(bs) < 5 {
		return media.NoPts
	}
	return media.Pts(int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F))
}

// putTimestamp writes a 33-bit 90 kHz timestamp into 5 PES bytes. marker is
// the 4-bit prefix (0b0010 for lone PTS, 0b0011 for PTS of a PTS+DTS pair,
// 0b0001 for DTS).
func putTimestamp(b []byte, marker uint8, ts media.Pts) {
	v := int64(ts) & 0x1FFFFFFFF
	b[0] = marker<<4 | uint8(v>>30)<<1 | 1
	b[1] = uint8(v >> 22)
	b[2] = uint8(v>>15)<<1 | 1
	b[3] = uint8(v >> 7)
	b[4] = uint8(v)<<1 | 1
}

// buildPESHeader assembles a PES header for a payload of dataLen bytes.
// dataLen < 0 marks an unbounded packet (video elementary streams only).
func buildPESHeader(streamID uint8, dataLen int, pts media.Pts, dts media.Dts) []byte {
	var tsLen int
	hasPTS := pts != media.NoPts
	hasDTS := hasPTS && dts != media.NoPts && dts != pts
	if hasPTS {
		tsLen += 5
	}
	if hasDTS {
		tsLen += 5
	}

	h := make([]byte, 9+tsLen)
	h[0], h[1], h[2] = 0x00, 0x00, 0x01
	h[3] = streamID

	var pktLen int
	if dataLen >= 0 {
		pktLen = dataLen + tsLen + 3
		if pktLen > 0xFFFF {
			pktLen = 0 // too large for the 16-bit field, mark unbounded
		}
	}
	h[4] = uint8(pktLen >> 8)
	h[5] = uint8(pktLen)

	h[6] = 0x80 // marker bits '10'
	var flags uint8
	if hasPTS {
		flags |= 0x80
	}
	if hasDTS {
		flags |= 0x40
	}
	h[7] = flags
	h[8] = uint8(tsLen)

	switch {
	case hasPTS && hasDTS:
		putTimestamp(h[9:14], 0x3, pts)
		putTimestamp(h[14:19], 0x1, dts)
	case hasPTS:
		putTimestamp(h[9:14], 0x2, pts)
	}

	return h
}
