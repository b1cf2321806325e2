package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values. They mirror the webcam demo this broker
// replaces: five numbered rooms served under the "webcam" identity.
const (
	DefaultServer             = "ws://127.0.0.1:8080/ws"
	DefaultUsername           = "webcam"
	DefaultCodec              = "json"
	DefaultFramerate          = 10
	DefaultVideoSize          = "160x120"
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

var (
	DefaultRooms = []string{"1", "2", "3", "4", "5"}
	DefaultSTUN  = []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"}
)

// Config holds the broker configuration.
type Config struct {
	Signaling Signaling `yaml:"signaling"`
	ICE       ICE       `yaml:"ice"`
	Media     Media     `yaml:"media"`
	Broker    Broker    `yaml:"broker"`
	Observe   Observe   `yaml:"observe"`
	Log       Log       `yaml:"log"`
}

// Signaling configures the relay connection.
type Signaling struct {
	// URL of the relay websocket endpoint. http(s) schemes are rewritten to ws(s).
	URL string `yaml:"url"`

	// Username is the caller identity attached to every emitted answer.
	Username string `yaml:"username"`

	// Rooms joined at connection establishment.
	Rooms []string `yaml:"rooms"`

	// Codec is the wire codec: "json" or "msgpack".
	Codec string `yaml:"codec"`

	// NotifyRejections emits an offer-rejected event for dropped offers.
	NotifyRejections bool `yaml:"notify_rejections"`
}

// ICE servers for peer connections.
type ICE struct {
	STUN       []string `yaml:"stun"`
	TURN       string   `yaml:"turn"`
	TURNUser   string   `yaml:"turn_user"`
	TURNPass   string   `yaml:"turn_pass"`
	ForceRelay bool     `yaml:"force_relay"`
}

// Media selects the track source.
type Media struct {
	// PlayFrom lists file-backed sources; at most one audio and one video.
	// When empty the live capture device is used.
	PlayFrom []string `yaml:"play_from"`
	Loop     bool     `yaml:"loop"`

	Device       string `yaml:"device"`
	DeviceFormat string `yaml:"device_format"`
	Framerate    int    `yaml:"framerate"`
	VideoSize    string `yaml:"video_size"`

	// AudioCodec and VideoCodec force a codec by mime type, e.g. "audio/opus".
	AudioCodec string `yaml:"audio_codec"`
	VideoCodec string `yaml:"video_codec"`
}

// Broker tunes negotiation.
type Broker struct {
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	QueueDepth         int           `yaml:"queue_depth"`
}

// Observe configures the metrics endpoint.
type Observe struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// Log configures the default logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Signaling: Signaling{
			URL:      DefaultServer,
			Username: DefaultUsername,
			Rooms:    append([]string(nil), DefaultRooms...),
			Codec:    DefaultCodec,
		},
		ICE: ICE{
			STUN: append([]string(nil), DefaultSTUN...),
		},
		Media: Media{
			Framerate: DefaultFramerate,
			VideoSize: DefaultVideoSize,
		},
		Broker: Broker{
			NegotiationTimeout: DefaultNegotiationTimeout,
		},
		Log: Log{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Options carries CLI flag overrides. Zero values mean "not set"; the
// Set* booleans distinguish an explicit false or zero from an absent flag.
type Options struct {
	ConfigFile string

	Server           string
	Username         string
	Rooms            []string
	Codec            string
	NotifyRejections bool

	STUN       []string
	TURN       string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	PlayFrom     []string
	Loop         bool
	Device       string
	DeviceFormat string
	Framerate    int
	VideoSize    string
	AudioCodec   string
	VideoCodec   string

	NegotiationTimeout    time.Duration
	SetNegotiationTimeout bool
	QueueDepth            int

	MetricsAddr string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML file (Options.ConfigFile or CAMCAST_CONFIG)
// 4. Built-in defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path := opts.ConfigFile
	if path == "" {
		path = os.Getenv("CAMCAST_CONFIG")
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	applyOptions(cfg, opts)
	cfg.Signaling.URL = NormalizeURL(cfg.Signaling.URL)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	if err := Decode(f, cfg); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

// Decode overlays the YAML document in r onto cfg. Unknown keys are errors.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Signaling.URL, os.Getenv("CAMCAST_SERVER"))
	setString(&cfg.Signaling.Username, os.Getenv("CAMCAST_USERNAME"))
	if rooms := os.Getenv("CAMCAST_ROOMS"); rooms != "" {
		cfg.Signaling.Rooms = splitList(rooms)
	}
	if stun := os.Getenv("STUN_SERVER"); stun != "" {
		cfg.ICE.STUN = splitList(stun)
	}
	setString(&cfg.ICE.TURN, os.Getenv("TURN_SERVER"))
	setString(&cfg.ICE.TURNUser, os.Getenv("TURN_USERNAME"))
	setString(&cfg.ICE.TURNPass, os.Getenv("TURN_PASSWORD"))
	setString(&cfg.Log.Level, os.Getenv("LOG_LEVEL"))
}

func applyOptions(cfg *Config, opts Options) {
	setString(&cfg.Signaling.URL, opts.Server)
	setString(&cfg.Signaling.Username, opts.Username)
	if len(opts.Rooms) > 0 {
		cfg.Signaling.Rooms = opts.Rooms
	}
	setString(&cfg.Signaling.Codec, opts.Codec)
	cfg.Signaling.NotifyRejections = cfg.Signaling.NotifyRejections || opts.NotifyRejections

	if len(opts.STUN) > 0 {
		cfg.ICE.STUN = opts.STUN
	}
	setString(&cfg.ICE.TURN, opts.TURN)
	setString(&cfg.ICE.TURNUser, opts.TURNUser)
	setString(&cfg.ICE.TURNPass, opts.TURNPass)
	cfg.ICE.ForceRelay = cfg.ICE.ForceRelay || opts.ForceRelay

	if len(opts.PlayFrom) > 0 {
		cfg.Media.PlayFrom = opts.PlayFrom
	}
	cfg.Media.Loop = cfg.Media.Loop || opts.Loop
	setString(&cfg.Media.Device, opts.Device)
	setString(&cfg.Media.DeviceFormat, opts.DeviceFormat)
	if opts.Framerate > 0 {
		cfg.Media.Framerate = opts.Framerate
	}
	setString(&cfg.Media.VideoSize, opts.VideoSize)
	setString(&cfg.Media.AudioCodec, opts.AudioCodec)
	setString(&cfg.Media.VideoCodec, opts.VideoCodec)

	if opts.SetNegotiationTimeout {
		cfg.Broker.NegotiationTimeout = opts.NegotiationTimeout
	}
	if opts.QueueDepth != 0 {
		cfg.Broker.QueueDepth = opts.QueueDepth
	}

	setString(&cfg.Observe.MetricsAddr, opts.MetricsAddr)

	setString(&cfg.Log.Level, opts.LogLevel)
	setString(&cfg.Log.Format, opts.LogFormat)
	setString(&cfg.Log.File, opts.LogFile)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NormalizeURL rewrites http(s) relay addresses to their websocket form.
func NormalizeURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}

// TURNServers returns TURN server URLs if configured.
func (c *Config) TURNServers() []string {
	if c.ICE.TURN == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.ICE.TURN),
		fmt.Sprintf("%s:3478?transport=tcp", c.ICE.TURN),
	}
}

// FileBacked reports whether tracks come from files rather than a device.
func (c *Config) FileBacked() bool {
	return len(c.Media.PlayFrom) > 0
}
