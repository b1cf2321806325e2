package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phudinh153/camcast/internal/config"
	"github.com/phudinh153/camcast/internal/files"
	"github.com/phudinh153/camcast/internal/observe"
	"github.com/phudinh153/camcast/internal/ui"
)

var (
	serveOpts     config.Options
	flagDashboard bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer offers in the configured rooms",
	Long: `Connect to the signaling relay, join every configured room and answer
incoming WebRTC offers with local media until interrupted.

Examples:
  camcast serve
  camcast serve --server wss://relay.example.com/ws --room lobby --room backstage
  camcast serve --play-from clip.ivf --play-from voice.ogg --loop
  camcast serve --video-codec video/H264 --dashboard`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serveOpts.SetNegotiationTimeout = cmd.Flags().Changed("negotiation-timeout")
		serveOpts.LogLevel = flagLogLevel
		serveOpts.LogFormat = flagLogFormat
		serveOpts.LogFile = flagLogFile
		return serve(cmd.Context(), serveOpts, flagDashboard)
	},
}

func serve(ctx context.Context, opts config.Options, dashboard bool) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	bc, err := NewBrokerContext(ctx, cfg, dashboard)
	if err != nil {
		return err
	}
	defer bc.Close()

	if !dashboard {
		displayMedia(cfg)
		if cfg.ICE.ForceRelay {
			ui.PrintWarning("Relay-only mode: all media goes through " + cfg.ICE.TURN)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Observe.MetricsAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen for metrics: %w", err)
		}
		g.Go(func() error {
			return observe.Serve(gctx, ln, bc.Logger)
		})
	}

	var sp *ui.SimpleSpinner
	if !dashboard {
		sp = ui.NewConnectionSpinner(fmt.Sprintf("Connecting to %s...", cfg.Signaling.URL))
		bc.Client.OnConnect(func() {
			sp.Success(fmt.Sprintf("%s Connected; answering offers in %d rooms as %q",
				ui.IconSignal, len(cfg.Signaling.Rooms), cfg.Signaling.Username))
		})
		sp.Start()
	}

	g.Go(func() error {
		defer cancel()
		return bc.Broker.Run(gctx)
	})
	if dashboard {
		g.Go(func() error {
			defer cancel()
			title := fmt.Sprintf("camcast %s", cfg.Signaling.URL)
			return ui.NewDashboard(title, len(cfg.Signaling.Rooms), bc.Broker.Sessions).Run(gctx)
		})
	}

	err = g.Wait()
	if sp != nil {
		sp.Stop()
	}

	fmt.Println()
	ui.PrintInfof("%s Closed %d sessions", ui.IconRoom, len(bc.Broker.Closed()))
	ui.NewSessionTable(bc.Broker.Closed()).Render(os.Stdout)
	if err != nil {
		bc.Logger.Error("broker stopped", "err", err)
	}
	return err
}

func displayMedia(cfg *config.Config) {
	if !cfg.FileBacked() {
		ui.PrintInfof("%s Capturing from %s", ui.IconCamera, deviceLabel(cfg.Media))
		return
	}
	media, err := files.ValidateMedia(cfg.Media.PlayFrom)
	if err != nil {
		return
	}
	fmt.Println(ui.MediaTableView(media))
}

func deviceLabel(m config.Media) string {
	if m.Device == "" {
		return "the default camera"
	}
	return m.Device
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVarP(&serveOpts.ConfigFile, "config", "c", "", "YAML configuration file")

	f.StringVarP(&serveOpts.Server, "server", "s", "", "Signaling relay websocket URL")
	f.StringVarP(&serveOpts.Username, "username", "u", "", "Identity attached to answers")
	f.StringSliceVarP(&serveOpts.Rooms, "room", "r", nil, "Room to join (repeatable)")
	f.StringVar(&serveOpts.Codec, "codec", "", "Signaling wire codec: json or msgpack")
	f.BoolVar(&serveOpts.NotifyRejections, "notify-rejections", false, "Emit offer-rejected for dropped offers")

	f.StringSliceVar(&serveOpts.PlayFrom, "play-from", nil, "Media file to play instead of a device (repeatable)")
	f.BoolVar(&serveOpts.Loop, "loop", false, "Restart play-from files at end of file")
	f.StringVar(&serveOpts.Device, "device", "", "Capture device")
	f.StringVar(&serveOpts.DeviceFormat, "device-format", "", "ffmpeg input format for the device")
	f.IntVar(&serveOpts.Framerate, "framerate", 0, "Capture and H.264 playback framerate")
	f.StringVar(&serveOpts.VideoSize, "video-size", "", "Capture size, e.g. 640x480")
	f.StringVar(&serveOpts.AudioCodec, "audio-codec", "", "Force an audio codec, e.g. audio/opus")
	f.StringVar(&serveOpts.VideoCodec, "video-codec", "", "Force a video codec, e.g. video/VP8")

	f.StringSliceVar(&serveOpts.STUN, "stun", nil, "STUN server (repeatable)")
	f.StringVarP(&serveOpts.TURN, "turn", "t", "", "TURN server")
	f.StringVar(&serveOpts.TURNUser, "turn-user", "", "TURN username")
	f.StringVar(&serveOpts.TURNPass, "turn-pass", "", "TURN password")
	f.BoolVar(&serveOpts.ForceRelay, "relay-only", false, "Force relay mode")

	f.DurationVar(&serveOpts.NegotiationTimeout, "negotiation-timeout", 30*time.Second, "Time allowed from dequeue to connected; 0 disables")
	f.IntVar(&serveOpts.QueueDepth, "queue-depth", 0, "Maximum waiting offers; 0 is unbounded")
	f.StringVar(&serveOpts.MetricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")

	f.BoolVar(&flagDashboard, "dashboard", false, "Show a live session table")
}
