package mpegts

import (
	"context"
	"errors"
	"io"
)

// Demuxer reads transport packets from a reader and produces DemuxerData
// containing parsed PAT, PMT, and PES units.
type Demuxer struct {
	ctx        context.Context
	reader     io.Reader
	readBuf    []byte
	pool       *packetPool
	programMap *programMap
	dataBuffer []*DemuxerData
	eof        bool
	eofData    []*DemuxerData
}

// NewDemuxer creates a demuxer reading 188-byte packets from r.
func NewDemuxer(ctx context.Context, r io.Reader) *Demuxer {
	pm := newProgramMap()
	return &Demuxer{
		ctx:        ctx,
		reader:     r,
		readBuf:    make([]byte, PacketSize),
		programMap: pm,
		pool:       newPacketPool(pm),
	}
}

// Reset discards all buffered state so the demuxer can continue from a new
// read position. Program knowledge (PAT/PMT PIDs) is kept.
func (d *Demuxer) Reset() {
	d.pool = newPacketPool(d.programMap)
	d.dataBuffer = nil
	d.eofData = nil
	d.eof = false
}

// NextData returns the next parsed unit from the stream. It returns io.EOF
// once all data has been consumed, including units assembled from the final
// partial accumulations.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}

		if d.eof {
			if len(d.eofData) > 0 {
				data := d.eofData[0]
				d.eofData = d.eofData[1:]
				return data, nil
			}
			return nil, io.EOF
		}

		if d.ctx.Err() != nil {
			return nil, d.ctx.Err()
		}

		_, err := io.ReadFull(d.reader, d.readBuf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drainPool()
				continue
			}
			return nil, err
		}

		pkt, err := parsePacket(d.readBuf)
		if err != nil {
			continue // skip corrupt packets
		}

		flushed := d.pool.add(pkt)
		if flushed == nil {
			continue
		}

		results, err := d.processPackets(flushed)
		if err != nil {
			continue // skip corrupt sections
		}
		if len(results) == 0 {
			continue
		}

		d.learnPrograms(results)
		d.dataBuffer = results[1:]
		return results[0], nil
	}
}

func (d *Demuxer) learnPrograms(results []*DemuxerData) {
	for _, r := range results {
		if r.PAT != nil {
			for _, p := range r.PAT.Programs {
				d.programMap.addPMTPID(p.ProgramMapPID)
			}
		}
	}
}

func (d *Demuxer) drainPool() {
	for _, packets := range d.pool.dump() {
		results, err := d.processPackets(packets)
		if err != nil {
			continue
		}
		// PAT results first in PID order, so PMT PIDs flushed later in the
		// same drain are still recognized as PSI.
		d.learnPrograms(results)
		d.eofData = append(d.eofData, results...)
	}
}

func (d *Demuxer) processPackets(packets []*Packet) ([]*DemuxerData, error) {
	if len(packets) == 0 {
		return nil, nil
	}

	first := packets[0]
	pid := first.Header.PID

	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	if isPSIPayload(pid, d.programMap) {
		return parsePSI(payload, pid)
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		pes.RandomAccess = first.Header.RandomAccessIndicator
		return []*DemuxerData{{PID: pid, PES: pes}}, nil
	}

	return nil, nil
}
