package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phudinh153/camcast/internal/broker"
	"github.com/phudinh153/camcast/internal/config"
	"github.com/phudinh153/camcast/internal/dns"
	"github.com/phudinh153/camcast/internal/logging"
	"github.com/phudinh153/camcast/internal/media"
	"github.com/phudinh153/camcast/internal/observe"
	"github.com/phudinh153/camcast/internal/signaling"
	"github.com/phudinh153/camcast/internal/version"
	"github.com/phudinh153/camcast/internal/webrtc"
)

// defaultDashboardLog receives logs while the dashboard owns the terminal.
const defaultDashboardLog = "camcast.log"

// BrokerContext holds everything one broker run is wired from.
type BrokerContext struct {
	Config *config.Config
	Logger *slog.Logger
	Client *signaling.Client
	Engine *webrtc.Engine
	Media  media.Provider
	Broker *broker.Broker

	logFile         *os.File
	shutdownMetrics func(context.Context) error
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the default logger. With toFile set, output goes to
// the configured log file or defaultDashboardLog.
func setupLogging(cfg config.Log, toFile bool) (*slog.Logger, *os.File, error) {
	var (
		out  io.Writer = os.Stderr
		file *os.File
	)
	path := cfg.File
	if path == "" && toFile {
		path = defaultDashboardLog
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, file = f, f
	}

	logger, err := logging.Configure(logging.Options{Level: cfg.Level, Format: cfg.Format, Output: out})
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}
	return logger, file, nil
}

// NewBrokerContext wires the broker and its collaborators from cfg. Nothing
// connects until Broker.Run.
func NewBrokerContext(ctx context.Context, cfg *config.Config, dashboard bool) (_ *BrokerContext, err error) {
	logger, logFile, err := setupLogging(cfg.Log, dashboard)
	if err != nil {
		return nil, err
	}
	bc := &BrokerContext{Config: cfg, Logger: logger, logFile: logFile}
	defer func() {
		if err != nil {
			bc.Close()
		}
	}()

	bc.shutdownMetrics, err = observe.InitProvider(ctx, version.Version)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	bc.Engine, err = webrtc.NewEngine(cfg.ICE, webrtc.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create webrtc engine: %w", err)
	}

	bc.Media, err = media.New(cfg.Media, logger)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}

	codec, err := signaling.CodecByName(cfg.Signaling.Codec)
	if err != nil {
		return nil, err
	}
	bc.Client = signaling.NewClient(cfg.Signaling.URL,
		signaling.WithCodec(codec),
		signaling.WithLogger(logger),
		signaling.WithResolver(dns.NewResolver()),
	)

	bc.Broker, err = broker.New(broker.OptionsFromConfig(cfg), broker.Deps{
		Signaling: bc.Client,
		Peers:     bc.Engine,
		Media:     bc.Media,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create broker: %w", err)
	}
	return bc, nil
}

// Close flushes metrics and closes the log file. The broker releases
// signaling and media itself when Run returns.
func (c *BrokerContext) Close() {
	if c.Broker == nil && c.Media != nil {
		_ = c.Media.Close()
	}
	if c.shutdownMetrics != nil {
		if err := c.shutdownMetrics(context.Background()); err != nil {
			c.Logger.Warn("metrics shutdown", "err", err)
		}
	}
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
}
