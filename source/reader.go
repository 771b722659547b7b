// Package source implements container sources over MPEG-TS: a seekable file
// source and a forward-only stream source for network ingest. Both probe the
// program layout on open and deliver a single interleaved packet stream with
// per-type non-decreasing DTS.
package source

import (
	"bytes"
	"errors"
	"image/jpeg"
	"io"
	"log/slog"

	"github.com/zsiec/tempo/demux"
	"github.com/zsiec/tempo/media"
	"github.com/zsiec/tempo/mpegts"
)

// maxProbeUnits bounds how many demuxed units the probe inspects while
// looking for the program tables and stream parameters.
const maxProbeUnits = 4096

// tsReader is the demux-and-convert core shared by the file and stream
// sources: program discovery, parameter probing, and PES-to-packet
// conversion with the DTS monotonicity guarantee.
type tsReader struct {
	log   *slog.Logger
	demux *mpegts.Demuxer

	videoPID   uint16
	audioPID   uint16
	hasVideo   bool
	hasAudio   bool
	videoCodec media.CodecID
	audioCodec media.CodecID

	videoInfo media.VideoStreamInfo
	audioInfo media.AudioStreamInfo
	videoCfg  *media.CodecConfig
	audioCfg  *media.CodecConfig

	audioFrameTicks media.MediaDuration

	basePTS      media.Pts
	lastVideoDTS media.Pts
	lastAudioDTS media.Pts

	pending []*media.Packet
}

func newTSReader(d *mpegts.Demuxer, log *slog.Logger) *tsReader {
	return &tsReader{
		log:          log,
		demux:        d,
		basePTS:      media.NoPts,
		lastVideoDTS: media.NoPts,
		lastAudioDTS: media.NoPts,
	}
}

// probe reads until the program tables and per-stream parameters are known.
// Packets consumed while probing are buffered and delivered by next.
func (t *tsReader) probe() error {
	sawPMT := false

	for units := 0; units < maxProbeUnits; units++ {
		data, err := t.demux.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return media.IOErr(err)
		}

		switch {
		case data.PMT != nil:
			if !sawPMT {
				t.adoptProgram(data.PMT)
				sawPMT = true
			}

		case data.PES != nil:
			if !sawPMT {
				continue
			}
			pkt := t.convert(data)
			if pkt == nil {
				continue
			}
			t.inspectForParams(data, pkt)
			t.pending = append(t.pending, pkt)
		}

		if sawPMT && t.paramsComplete() {
			break
		}
	}

	if !sawPMT {
		return media.InvalidDataf("no program map found in transport stream")
	}

	t.finishStreamInfo()
	return nil
}

// adoptProgram picks the first video and first audio elementary stream of
// the program.
func (t *tsReader) adoptProgram(pmt *mpegts.PMT) {
	for _, es := range pmt.ElementaryStreams {
		codec, ok := mpegts.CodecForStreamType(es.StreamType)
		if !ok {
			t.log.Debug("skipping unmapped stream type", "type", es.StreamType, "pid", es.ElementaryPID)
			continue
		}
		switch {
		case codec.IsVideo() && !t.hasVideo:
			t.hasVideo = true
			t.videoPID = es.ElementaryPID
			t.videoCodec = codec
		case codec.IsAudio() && !t.hasAudio:
			t.hasAudio = true
			t.audioPID = es.ElementaryPID
			t.audioCodec = codec
		}
	}
	t.log.Debug("program adopted",
		"video", t.hasVideo, "video_codec", t.videoCodec,
		"audio", t.hasAudio, "audio_codec", t.audioCodec)
}

// inspectForParams extracts stream parameters from early packets: SPS
// dimensions for H.264 video, JPEG headers for Motion-JPEG, ADTS header
// fields for AAC audio.
func (t *tsReader) inspectForParams(data *mpegts.DemuxerData, pkt *media.Packet) {
	if t.basePTS == media.NoPts && pkt.PTS != media.NoPts {
		t.basePTS = pkt.PTS
	}

	switch {
	case pkt.IsVideo() && t.videoCodec == media.CodecH264 && t.videoInfo.Width == 0:
		au := demux.InspectAccessUnit(data.PES.Data)
		if au.SPS == nil {
			return
		}
		sps, err := demux.ParseSPS(au.SPS)
		if err != nil {
			t.log.Debug("sps parse failed", "error", err)
			return
		}
		t.videoInfo.Width = sps.Width
		t.videoInfo.Height = sps.Height
		if sps.TimeScale > 0 && sps.NumUnitsInTick > 0 {
			t.videoInfo.FrameRate = media.NewRational(int(sps.TimeScale), 2*int(sps.NumUnitsInTick))
		}
		t.videoCfg = media.NewVideoCodecConfig(t.videoInfo, annexBExtradata(au))
		t.log.Debug("video parameters probed",
			"codec", sps.CodecString(), "width", sps.Width, "height", sps.Height)

	case pkt.IsVideo() && t.videoCodec == media.CodecMJPEG && t.videoInfo.Width == 0:
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data.PES.Data))
		if err != nil {
			t.log.Debug("jpeg header parse failed", "error", err)
			return
		}
		t.videoInfo.Width = cfg.Width
		t.videoInfo.Height = cfg.Height
		t.log.Debug("video parameters probed",
			"codec", t.videoCodec, "width", cfg.Width, "height", cfg.Height)

	case pkt.IsAudio() && t.audioCodec == media.CodecAAC && t.audioInfo.SampleRate == 0:
		frames, err := demux.ParseADTS(data.PES.Data)
		if err != nil || len(frames) == 0 {
			return
		}
		t.audioInfo.SampleRate = frames[0].SampleRate
		t.audioInfo.Layout = media.LayoutForChannels(frames[0].Channels)
		t.audioFrameTicks = media.MediaDuration(int64(demux.SamplesPerAACFrame) * 90000 / int64(frames[0].SampleRate))
		t.log.Debug("audio parameters probed",
			"sample_rate", frames[0].SampleRate, "channels", frames[0].Channels)
	}
}

func (t *tsReader) paramsComplete() bool {
	if t.hasVideo && t.videoInfo.Width == 0 &&
		(t.videoCodec == media.CodecH264 || t.videoCodec == media.CodecMJPEG) {
		return false
	}
	if t.hasAudio && t.audioCodec == media.CodecAAC && t.audioInfo.SampleRate == 0 {
		return false
	}
	return t.hasVideo || t.hasAudio
}

func (t *tsReader) finishStreamInfo() {
	if t.hasVideo {
		t.videoInfo.Codec = t.videoCodec
		t.videoInfo.TimeBase = media.TimeBase90kHz
		t.videoInfo.Format = media.PixelFormatYUV420P
		if t.videoCfg == nil {
			t.videoCfg = media.NewVideoCodecConfig(t.videoInfo, nil)
		}
	}
	if t.hasAudio {
		t.audioInfo.Codec = t.audioCodec
		t.audioInfo.TimeBase = media.TimeBase90kHz
		t.audioInfo.Format = media.SampleFormatS16
		if t.audioInfo.SampleRate == 0 {
			t.audioInfo.SampleRate = 48000
			t.audioInfo.Layout = media.ChannelLayoutStereo
		}
		t.audioCfg = media.NewAudioCodecConfig(t.audioInfo, nil)
	}
}

// annexBExtradata packs probed parameter sets back into an Annex B blob for
// decoder configuration.
func annexBExtradata(au demux.AccessUnitInfo) []byte {
	if au.SPS == nil {
		return nil
	}
	var out []byte
	out = append(out, 0x00, 0x00, 0x00, 0x01)
	out = append(out, au.SPS...)
	if au.PPS != nil {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, au.PPS...)
	}
	return out
}

// next returns the next converted packet, draining probe leftovers first.
func (t *tsReader) next() (*media.Packet, error) {
	for {
		if len(t.pending) > 0 {
			pkt := t.pending[0]
			t.pending = t.pending[1:]
			return t.enforceDTS(pkt), nil
		}

		data, err := t.demux.NextData()
		if errors.Is(err, io.EOF) {
			return nil, media.EOF
		}
		if err != nil {
			return nil, media.IOErr(err)
		}

		pkt := t.convert(data)
		if pkt == nil {
			continue
		}
		return t.enforceDTS(pkt), nil
	}
}

// convert maps a demuxed PES unit onto a tagged packet, or nil for units
// outside the adopted program.
func (t *tsReader) convert(data *mpegts.DemuxerData) *media.Packet {
	if data.PES == nil || len(data.PES.Data) == 0 {
		return nil
	}

	var streamType media.StreamType
	switch data.PID {
	case t.videoPID:
		if !t.hasVideo {
			return nil
		}
		streamType = media.StreamVideo
	case t.audioPID:
		if !t.hasAudio {
			return nil
		}
		streamType = media.StreamAudio
	default:
		return nil
	}

	pts := data.PES.PTS
	dts := data.PES.DTS
	if dts == media.NoPts {
		dts = pts
	}

	pkt := &media.Packet{
		Data:     data.PES.Data,
		PTS:      pts,
		DTS:      dts,
		TimeBase: media.TimeBase90kHz,
		Type:     streamType,
	}

	if streamType == media.StreamVideo {
		switch t.videoCodec {
		case media.CodecH264:
			pkt.Keyframe = data.PES.RandomAccess || demux.InspectAccessUnit(data.PES.Data).Keyframe
		case media.CodecMJPEG:
			pkt.Keyframe = true // intra-only
		default:
			pkt.Keyframe = data.PES.RandomAccess
		}
	} else {
		pkt.Keyframe = true
		pkt.Duration = t.audioFrameTicks
	}

	return pkt
}

// enforceDTS clamps per-type DTS to be non-decreasing. The epoch restarts
// via resetEpoch after a seek.
func (t *tsReader) enforceDTS(pkt *media.Packet) *media.Packet {
	if pkt.DTS == media.NoPts {
		return pkt
	}
	last := &t.lastVideoDTS
	if pkt.IsAudio() {
		last = &t.lastAudioDTS
	}
	if *last != media.NoPts && pkt.DTS < *last {
		pkt.DTS = *last
	}
	*last = pkt.DTS
	return pkt
}

// resetEpoch forgets the DTS history and any undelivered packets.
func (t *tsReader) resetEpoch() {
	t.lastVideoDTS = media.NoPts
	t.lastAudioDTS = media.NoPts
	t.pending = nil
}

func (t *tsReader) videoStream() (media.VideoStreamInfo, *media.CodecConfig, bool) {
	if !t.hasVideo {
		return media.VideoStreamInfo{}, nil, false
	}
	return t.videoInfo, t.videoCfg, true
}

func (t *tsReader) audioStream() (media.AudioStreamInfo, *media.CodecConfig, bool) {
	if !t.hasAudio {
		return media.AudioStreamInfo{}, nil, false
	}
	return t.audioInfo, t.audioCfg, true
}
