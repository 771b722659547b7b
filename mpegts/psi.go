package mpegts

import "github.com/zsiec/tempo/media"

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

func isPSIPayload(pid uint16, pm *programMap) bool {
	return pid == pidPAT || pm.isPMTPID(pid)
}

func parsePSI(payload []byte, pid uint16) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, media.InvalidDataf("psi payload too short")
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return nil, media.InvalidDataf("psi pointer field out of range")
	}

	var results []*DemuxerData

	for offset < len(payload) {
		tableID := payload[offset]
		if tableID == 0xFF {
			break // stuffing
		}
		if offset+3 > len(payload) {
			break
		}

		// section_syntax_indicator must be 1 for PAT/PMT; padding bytes
		// have it clear.
		if payload[offset+1]&0x80 == 0 {
			break
		}

		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		sectionEnd := offset + 3 + sectionLength
		if sectionEnd > len(payload) {
			break
		}

		sectionData := payload[offset:sectionEnd]

		switch tableID {
		case tableIDPAT:
			pat, err := parsePATSection(sectionData)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{PID: pid, PAT: pat})

		case tableIDPMT:
			pmt, err := parsePMTSection(sectionData)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{PID: pid, PMT: pmt})
		}

		offset = sectionEnd
	}

	return results, nil
}

func parsePATSection(data []byte) (*PAT, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, err
	}

	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  transport_stream_id
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8..N-4] program entries (4 bytes each)
	// [N-4..N] CRC32

	if len(data) < 12 {
		return nil, media.InvalidDataf("pat section too short")
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	entryStart := 8
	entryEnd := 3 + sectionLength - 4
	if entryEnd > len(data)-4 {
		entryEnd = len(data) - 4
	}

	pat := &PAT{}
	for i := entryStart; i+4 <= entryEnd; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		pmtPID := uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])

		if programNumber == 0 {
			continue // NIT PID
		}

		pat.Programs = append(pat.Programs, PATProgram{
			ProgramNumber: programNumber,
			ProgramMapPID: pmtPID,
		})
	}

	return pat, nil
}

func parsePMTSection(data []byte) (*PMT, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, err
	}

	// [0]    table_id
	// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
	// [3-4]  program_number
	// [5]    reserved(2) + version(5) + current_next(1)
	// [6]    section_number
	// [7]    last_section_number
	// [8-9]  reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...]  program descriptors, elementary stream entries, CRC32

	if len(data) < 16 {
		return nil, media.InvalidDataf("pmt section too short")
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	sectionEnd := 3 + sectionLength

	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLength

	pmt := &PMT{PCRPID: uint16(data[8]&0x1F)<<8 | uint16(data[9])}
	for offset+5 <= sectionEnd-4 {
		streamType := data[offset]
		elementaryPID := uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2])
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])

		pmt.ElementaryStreams = append(pmt.ElementaryStreams, ElementaryStream{
			ElementaryPID: elementaryPID,
			StreamType:    streamType,
		})

		offset += 5 + esInfoLength
	}

	return pmt, nil
}

// buildSection assembles a complete PSI payload: pointer field, section
// header, body, CRC32.
func buildSection(tableID uint8, tableExt uint16, body []byte) []byte {
	// pointer(1) + table_id(1) + length(2) + ext(2) + version/current(1) +
	// section_number(1) + last_section_number(1) + body + crc(4)
	out := make([]byte, 0, 9+len(body)+4)
	out = append(out, 0x00) // pointer field
	out = append(out, tableID)
	sectionLength := 5 + len(body) + 4
	out = append(out, 0xB0|uint8(sectionLength>>8), uint8(sectionLength))
	out = append(out, uint8(tableExt>>8), uint8(tableExt))
	out = append(out, 0xC1) // version 0, current_next 1
	out = append(out, 0x00) // section_number
	out = append(out, 0x00) // last_section_number
	out = append(out, body...)
	crc := computeCRC32(out[1:])
	out = append(out, uint8(crc>>24), uint8(crc>>16), uint8(crc>>8), uint8(crc))
	return out
}

func buildPATPayload(programNumber, pmtPID uint16) []byte {
	body := []byte{
		uint8(programNumber >> 8), uint8(programNumber),
		0xE0 | uint8(pmtPID>>8), uint8(pmtPID),
	}
	return buildSection(tableIDPAT, 1, body)
}

func buildPMTPayload(pcrPID uint16, streams []ElementaryStream) []byte {
	body := []byte{
		0xE0 | uint8(pcrPID>>8), uint8(pcrPID),
		0xF0, 0x00, // program_info_length 0
	}
	for _, es := range streams {
		body = append(body,
			es.StreamType,
			0xE0|uint8(es.ElementaryPID>>8), uint8(es.ElementaryPID),
			0xF0, 0x00, // es_info_length 0
		)
	}
	return buildSection(tableIDPMT, 1, body)
}
