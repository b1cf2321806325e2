package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/phudinh153/camcast/internal/files"
)

// source is one validated play-from file.
type source struct {
	file       files.MediaFile
	capability pion.RTPCodecCapability
}

// FileProvider plays files. Every session gets its own readers starting at
// the beginning of each file.
type FileProvider struct {
	sources       []source
	loop          bool
	frameDuration time.Duration
	logger        *slog.Logger
}

// NewFileProvider validates paths and probes their codecs. H.264 files have
// no timing so they are paced at framerate.
func NewFileProvider(paths []string, loop bool, framerate int, logger *slog.Logger) (*FileProvider, error) {
	media, err := files.ValidateMedia(paths)
	if err != nil {
		return nil, classify(err)
	}
	if framerate <= 0 {
		framerate = 30
	}

	p := &FileProvider{
		loop:          loop,
		frameDuration: time.Second / time.Duration(framerate),
		logger:        logger,
	}
	for _, m := range media {
		capability, err := probe(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
		p.sources = append(p.sources, source{file: m, capability: capability})
		logger.Info("playing from file", "file", m.Path, "codec", capability.MimeType, "loop", loop)
	}
	return p, nil
}

// AcquireTracks implements Provider.
func (p *FileProvider) AcquireTracks(ctx context.Context) (*Tracks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := "camcast-" + uuid.NewString()
	var (
		audio, video pion.TrackLocal
		players      []player
	)
	for _, src := range p.sources {
		if _, err := os.Stat(src.file.Path); err != nil {
			return nil, classify(err)
		}
		kind := src.file.Container.Kind()
		track, err := pion.NewTrackLocalStaticSample(src.capability, kind, stream)
		if err != nil {
			return nil, fmt.Errorf("create %s track: %w", kind, err)
		}
		players = append(players, &filePlayer{
			src:           src,
			track:         track,
			loop:          p.loop,
			frameDuration: p.frameDuration,
		})
		if kind == "audio" {
			audio = track
		} else {
			video = track
		}
	}

	t := newTracks(p.logger.With("stream", stream), nil, players...)
	t.Audio, t.Video = audio, video
	return t, nil
}

// Close implements Provider. File playback holds no shared state.
func (p *FileProvider) Close() error {
	return nil
}

// probe maps a container to the codec it carries.
func probe(m files.MediaFile) (pion.RTPCodecCapability, error) {
	switch m.Container {
	case files.Ogg:
		return pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}, nil
	case files.H264:
		return pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		}, nil
	case files.IVF:
		f, err := os.Open(m.Path)
		if err != nil {
			return pion.RTPCodecCapability{}, classify(err)
		}
		defer f.Close()
		_, header, err := ivfreader.NewWith(f)
		if err != nil {
			return pion.RTPCodecCapability{}, fmt.Errorf("%w: %w", ErrUnsupportedContainer, err)
		}
		mime, ok := ivfCodecs[header.FourCC]
		if !ok {
			return pion.RTPCodecCapability{}, fmt.Errorf("%w: ivf fourcc %q", ErrUnsupportedContainer, header.FourCC)
		}
		return pion.RTPCodecCapability{MimeType: mime, ClockRate: 90000}, nil
	}
	return pion.RTPCodecCapability{}, fmt.Errorf("%w: %s", ErrUnsupportedContainer, m.Container)
}

var ivfCodecs = map[string]string{
	"VP80": pion.MimeTypeVP8,
	"VP90": pion.MimeTypeVP9,
	"AV01": pion.MimeTypeAV1,
}

// classify maps file errors onto the media taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrFileNotFound, err)
	case errors.Is(err, files.ErrUnsupported):
		return fmt.Errorf("%w: %w", ErrUnsupportedContainer, err)
	}
	return err
}
