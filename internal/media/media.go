// Package media supplies the local tracks every session sends: independent
// file players per session, or one shared capture device fanned out to all.
package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/phudinh153/camcast/internal/config"
)

var (
	// ErrDeviceUnavailable reports that the capture device or ffmpeg is missing.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrFileNotFound reports that a play-from file is missing.
	ErrFileNotFound = errors.New("media file not found")

	// ErrUnsupportedContainer reports a play-from file that cannot be decoded.
	ErrUnsupportedContainer = errors.New("unsupported media container")
)

// Provider hands out tracks for one session at a time.
type Provider interface {
	// AcquireTracks returns fresh tracks for a new session. Media does not
	// flow until Tracks.Start.
	AcquireTracks(ctx context.Context) (*Tracks, error)

	// Close releases shared resources such as the capture device.
	Close() error
}

// player pumps media into a track until ctx is done.
type player interface {
	run(ctx context.Context) error
}

// Tracks are one session's local tracks. Either may be nil. A Tracks built
// directly from its exported fields has nothing to play or release.
type Tracks struct {
	Audio pion.TrackLocal
	Video pion.TrackLocal

	players []player
	release func()
	logger  *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newTracks(logger *slog.Logger, release func(), players ...player) *Tracks {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracks{
		players: players,
		release: release,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// List returns the non-nil tracks, audio first.
func (t *Tracks) List() []pion.TrackLocal {
	var list []pion.TrackLocal
	if t.Audio != nil {
		list = append(list, t.Audio)
	}
	if t.Video != nil {
		list = append(list, t.Video)
	}
	return list
}

// Start begins sending media. Later calls do nothing.
func (t *Tracks) Start() {
	t.startOnce.Do(func() {
		for _, p := range t.players {
			t.wg.Add(1)
			go func(p player) {
				defer t.wg.Done()
				if err := p.run(t.ctx); err != nil && !errors.Is(err, context.Canceled) {
					t.logger.Warn("media playback stopped", "err", err)
				}
			}(p)
		}
	})
}

// Close stops playback and releases the session's hold on shared sources.
// It is safe to call more than once and without Start.
func (t *Tracks) Close() {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
		if t.release != nil {
			t.release()
		}
	})
}

// New returns the provider cfg selects: file playback when play_from is set,
// the capture device otherwise.
func New(cfg config.Media, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "media")
	if len(cfg.PlayFrom) > 0 {
		return NewFileProvider(cfg.PlayFrom, cfg.Loop, cfg.Framerate, logger)
	}
	return NewDevice(cfg, logger), nil
}
