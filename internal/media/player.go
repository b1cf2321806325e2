package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/phudinh153/camcast/internal/files"
)

// oggPageDuration is the pacing for opus pages; the real duration of each
// sample comes from the granule position.
const oggPageDuration = 20 * time.Millisecond

// sampleWriter is the part of a sample track a player writes to.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

var _ sampleWriter = (*pion.TrackLocalStaticSample)(nil)

// filePlayer reads one file and writes paced samples to its track.
type filePlayer struct {
	src           source
	track         sampleWriter
	loop          bool
	frameDuration time.Duration
}

func (p *filePlayer) run(ctx context.Context) error {
	for {
		err := p.playOnce(ctx)
		if errors.Is(err, io.EOF) && p.loop {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

func (p *filePlayer) playOnce(ctx context.Context) error {
	f, err := os.Open(p.src.file.Path)
	if err != nil {
		return classify(err)
	}
	defer f.Close()

	switch p.src.file.Container {
	case files.IVF:
		return p.playIVF(ctx, f)
	case files.Ogg:
		return p.playOgg(ctx, f)
	case files.H264:
		return p.playH264(ctx, f)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedContainer, p.src.file.Container)
}

func (p *filePlayer) playIVF(ctx context.Context, r io.Reader) error {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedContainer, err)
	}

	interval := p.frameDuration
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		interval = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	return pace(ctx, interval, func() error {
		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return err
		}
		return p.track.WriteSample(media.Sample{Data: frame, Duration: interval})
	})
}

func (p *filePlayer) playOgg(ctx context.Context, r io.Reader) error {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedContainer, err)
	}

	var lastGranule uint64
	return pace(ctx, oggPageDuration, func() error {
		page, header, err := reader.ParseNextPage()
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))
		return p.track.WriteSample(media.Sample{Data: page, Duration: duration})
	})
}

func (p *filePlayer) playH264(ctx context.Context, r io.Reader) error {
	reader, err := h264reader.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedContainer, err)
	}

	return pace(ctx, p.frameDuration, func() error {
		nal, err := reader.NextNAL()
		if err != nil {
			return err
		}
		return p.track.WriteSample(media.Sample{Data: nal.Data, Duration: p.frameDuration})
	})
}

// pace calls step once per interval until it fails or ctx is done.
func pace(ctx context.Context, interval time.Duration, step func() error) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := step(); err != nil {
				return err
			}
		}
	}
}
