package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"

	"github.com/phudinh153/camcast/internal/config"
)

// Device captures a camera through ffmpeg and shares it between sessions.
// The capture starts on the first acquisition and runs until Close.
type Device struct {
	cfg    config.Media
	logger *slog.Logger

	// startCapture is replaced in tests.
	startCapture func(ctx context.Context, target string) (wait func() error, err error)

	mu     sync.Mutex
	relay  *Relay
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewDevice creates a capture device for cfg. Nothing is opened yet.
func NewDevice(cfg config.Media, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Device{cfg: cfg, logger: logger}
	d.startCapture = d.ffmpeg
	return d
}

// AcquireTracks implements Provider. Devices yield video only.
func (d *Device) AcquireTracks(ctx context.Context) (*Tracks, error) {
	relay, err := d.open(ctx)
	if err != nil {
		return nil, err
	}

	stream := "camcast-" + uuid.NewString()
	track, err := pion.NewTrackLocalStaticRTP(d.capability(), "video", stream)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	sub := &subscription{relay: relay, track: track}
	t := newTracks(d.logger.With("stream", stream), sub.stop, sub)
	t.Video = track
	return t, nil
}

// open starts the capture once and returns the shared relay.
func (d *Device) open(ctx context.Context) (*Relay, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("%w: device closed", ErrDeviceUnavailable)
	}
	if d.relay != nil {
		return d.relay, nil
	}

	format, device := d.source()
	if format == "v4l2" {
		if _, err := os.Stat(device); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
	}

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("%w: listen for rtp: %w", ErrDeviceUnavailable, err)
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	wait, err := d.startCapture(captureCtx, "rtp://"+conn.LocalAddr().String())
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	relay := NewRelay(d.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := relay.Pump(captureCtx, conn); err != nil {
			d.logger.Warn("capture relay stopped", "err", err)
		}
	}()
	go func() {
		if err := wait(); err != nil && captureCtx.Err() == nil {
			d.logger.Warn("capture process exited", "err", err)
		}
	}()

	d.logger.Info("capture device opened", "format", format, "device", device,
		"framerate", d.cfg.Framerate, "video_size", d.cfg.VideoSize)

	d.relay, d.cancel, d.done = relay, cancel, done
	return relay, nil
}

// Close stops the capture process and the relay.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	cancel, done := d.cancel, d.done
	d.relay, d.cancel, d.done = nil, nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// source returns the ffmpeg input format and device for this platform,
// honoring configured overrides.
func (d *Device) source() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		format, device = "avfoundation", "default:none"
	case "windows":
		format, device = "dshow", "video=Integrated Camera"
	default:
		format, device = "v4l2", "/dev/video0"
	}
	if d.cfg.DeviceFormat != "" {
		format = d.cfg.DeviceFormat
	}
	if d.cfg.Device != "" {
		device = d.cfg.Device
	}
	return format, device
}

func (d *Device) h264() bool {
	return strings.EqualFold(d.cfg.VideoCodec, pion.MimeTypeH264)
}

func (d *Device) capability() pion.RTPCodecCapability {
	if d.h264() {
		return pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		}
	}
	return pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
}

// ffmpegArgs builds the capture command line for target.
func (d *Device) ffmpegArgs(target string) []string {
	format, device := d.source()
	framerate := d.cfg.Framerate
	if framerate <= 0 {
		framerate = config.DefaultFramerate
	}
	size := d.cfg.VideoSize
	if size == "" {
		size = config.DefaultVideoSize
	}

	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", format, "-framerate", strconv.Itoa(framerate), "-video_size", size, "-i", device,
		"-an",
	}
	if d.h264() {
		args = append(args,
			"-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency",
			"-pix_fmt", "yuv420p", "-bsf:v", "h264_mp4toannexb")
	} else {
		args = append(args,
			"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8",
			"-b:v", "500k", "-pix_fmt", "yuv420p")
	}
	return append(args, "-f", "rtp", "-payload_type", "96", target)
}

func (d *Device) ffmpeg(ctx context.Context, target string) (func() error, error) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, bin, d.ffmpegArgs(target)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &logWriter{logger: d.logger}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

// subscription attaches one track to the shared relay while the session
// is connected.
type subscription struct {
	relay *Relay
	track rtpWriter

	mu          sync.Mutex
	unsubscribe func()
}

func (s *subscription) run(ctx context.Context) error {
	s.mu.Lock()
	s.unsubscribe = s.relay.Subscribe(s.track)
	s.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (s *subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// logWriter forwards ffmpeg's stderr to the logger line by line.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Warn("ffmpeg", "line", line)
		}
	}
	return len(p), nil
}
