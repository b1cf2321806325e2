package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/phudinh153/camcast/internal/logging"
)

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if u, err := url.Parse(cfg.Signaling.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("signaling.url %q must be a ws:// or wss:// URL", cfg.Signaling.URL))
	}
	if cfg.Signaling.Username == "" {
		errs = append(errs, errors.New("signaling.username is required"))
	}
	if len(cfg.Signaling.Rooms) == 0 {
		errs = append(errs, errors.New("signaling.rooms must list at least one room"))
	}
	seen := make(map[string]bool, len(cfg.Signaling.Rooms))
	for _, room := range cfg.Signaling.Rooms {
		if room == "" {
			errs = append(errs, errors.New("signaling.rooms contains an empty room"))
			continue
		}
		if seen[room] {
			errs = append(errs, fmt.Errorf("signaling.rooms lists %q twice", room))
		}
		seen[room] = true
	}
	switch cfg.Signaling.Codec {
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("signaling.codec %q is invalid; valid values: json, msgpack", cfg.Signaling.Codec))
	}

	if cfg.ICE.ForceRelay && cfg.ICE.TURN == "" {
		errs = append(errs, errors.New("ice.force_relay requires a TURN server"))
	}

	if err := validateCodec("media.audio_codec", cfg.Media.AudioCodec, "audio"); err != nil {
		errs = append(errs, err)
	}
	if err := validateCodec("media.video_codec", cfg.Media.VideoCodec, "video"); err != nil {
		errs = append(errs, err)
	}
	if len(cfg.Media.PlayFrom) > 2 {
		errs = append(errs, fmt.Errorf("media.play_from lists %d files; at most one audio and one video", len(cfg.Media.PlayFrom)))
	}
	if cfg.Media.Framerate <= 0 {
		errs = append(errs, fmt.Errorf("media.framerate %d must be positive", cfg.Media.Framerate))
	}
	if !validVideoSize(cfg.Media.VideoSize) {
		errs = append(errs, fmt.Errorf("media.video_size %q must look like 640x480", cfg.Media.VideoSize))
	}

	if cfg.Broker.NegotiationTimeout < 0 {
		errs = append(errs, fmt.Errorf("broker.negotiation_timeout %s must not be negative", cfg.Broker.NegotiationTimeout))
	}
	if cfg.Broker.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("broker.queue_depth %d must not be negative", cfg.Broker.QueueDepth))
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

// validateCodec accepts an empty value or a "kind/name" mime type whose kind
// matches the field it was configured for.
func validateCodec(field, mime, kind string) error {
	if mime == "" {
		return nil
	}
	prefix, name, ok := strings.Cut(mime, "/")
	if !ok || name == "" {
		return fmt.Errorf("%s %q must be a mime type like %s/...", field, mime, kind)
	}
	if !strings.EqualFold(prefix, kind) {
		return fmt.Errorf("%s %q has kind %q, want %q", field, mime, prefix, kind)
	}
	return nil
}

func validVideoSize(s string) bool {
	w, h, ok := strings.Cut(s, "x")
	return ok && isDigits(w) && isDigits(h)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
