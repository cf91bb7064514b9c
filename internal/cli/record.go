package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/chiba-lab/3DTracker/internal/capture"
	"github.com/chiba-lab/3DTracker/internal/config"
	"github.com/chiba-lab/3DTracker/internal/emitter"
	"github.com/chiba-lab/3DTracker/internal/session"
	"github.com/chiba-lab/3DTracker/internal/sink"
	"github.com/chiba-lab/3DTracker/internal/trigger"
)

func NewRecordCmd() *cobra.Command {
	var (
		configPath string
		seconds    float64
		fps        float64
		codec      string
		streams    int
		cams       = []int{0, 1, 2, 3}
		outs       = []string{"output1.avi", "output2.avi", "output3.avi", "output4.avi"}
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Arm the cameras and record a session",
		Long: "Arms every camera, then records all of them at the shared output rate.\n" +
			"With --seconds the session runs for a fixed duration; without it the\n" +
			"session waits for a rising edge on the start line and records until a\n" +
			"rising edge on the stop line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("fps") {
				cfg.Session.FPS = fps
			}
			if cmd.Flags().Changed("codec") {
				cfg.Session.Codec = codec
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			if streams < 1 || streams > session.MaxStreams {
				return fmt.Errorf("--streams must be 1 to %d, got %d", session.MaxStreams, streams)
			}

			streamCfgs := make([]session.StreamConfig, streams)
			for i := range streamCfgs {
				streamCfgs[i] = session.StreamConfig{
					Name:       fmt.Sprintf("camera%d", i+1),
					Camera:     cams[i],
					OutputPath: outs[i],
				}
			}

			return runRecord(cmd, cfg, streamCfgs, seconds)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().Float64Var(&seconds, "seconds", -1, "Recording duration in seconds (omit for trigger-gated mode)")
	cmd.Flags().Float64Var(&fps, "fps", 5, "Output frame rate shared by all streams")
	cmd.Flags().StringVar(&codec, "codec", "IYUV", "FOURCC video codec (IYUV: raw, huge files; XVID/MJPG: compressed)")
	cmd.Flags().IntVar(&streams, "streams", 4, "Number of camera streams")
	cmd.Flags().IntVar(&cams[0], "cam1", 0, "Device index for stream 1")
	cmd.Flags().IntVar(&cams[1], "cam2", 1, "Device index for stream 2")
	cmd.Flags().IntVar(&cams[2], "cam3", 2, "Device index for stream 3")
	cmd.Flags().IntVar(&cams[3], "cam4", 3, "Device index for stream 4")
	cmd.Flags().StringVar(&outs[0], "out1", "output1.avi", "Output file for stream 1")
	cmd.Flags().StringVar(&outs[1], "out2", "output2.avi", "Output file for stream 2")
	cmd.Flags().StringVar(&outs[2], "out3", "output3.avi", "Output file for stream 3")
	cmd.Flags().StringVar(&outs[3], "out4", "output4.avi", "Output file for stream 4")

	return cmd
}

func runRecord(cmd *cobra.Command, cfg *config.Config, streams []session.StreamConfig, seconds float64) error {
	ctx := cmd.Context()

	duration := time.Duration(-1)
	if seconds > 0 {
		duration = time.Duration(seconds * float64(time.Second))
	}
	triggerGated := duration <= 0

	printBanner(cmd, cfg, streams, duration)

	// MQTT carries the trigger lines and the session lifecycle events.
	// Trigger-gated mode cannot run without it; fixed-duration mode can,
	// it just goes unannounced.
	var (
		events session.EventSink
		lines  trigger.Provider
	)
	em := emitter.NewMQTTEmitter(cfg.MQTT)
	if err := em.Connect(); err != nil {
		if triggerGated {
			return fmt.Errorf("trigger-gated mode requires the MQTT broker: %w", err)
		}
		slog.Warn("recording without session events, broker unreachable", "error", err)
	} else {
		defer em.Disconnect()
		events = em
		lines = trigger.NewMQTTProvider(em.Client, cfg.MQTT.Topics.Lines)
	}

	opener := func(s session.StreamConfig) (capture.Device, sink.Sink, error) {
		dev, err := capture.Open(capture.Backend(cfg.Capture.Backend), capture.DeviceConfig{
			Index:     s.Camera,
			Width:     cfg.Capture.Width,
			Height:    cfg.Capture.Height,
			NativeFPS: cfg.Capture.NativeFPS,
		})
		if err != nil {
			return nil, nil, err
		}
		snk, err := sink.NewVideoFileSink(sink.Config{
			Path:   s.OutputPath,
			Codec:  cfg.Session.Codec,
			FPS:    cfg.Session.FPS,
			Width:  cfg.Capture.Width,
			Height: cfg.Capture.Height,
		})
		if err != nil {
			dev.Close()
			return nil, nil, err
		}
		return dev, snk, nil
	}

	ctrl, err := session.New(session.Config{
		Streams:              streams,
		Duration:             duration,
		StartLine:            cfg.Trigger.StartLine,
		StopLine:             cfg.Trigger.StopLine,
		PollInterval:         cfg.Trigger.PollInterval(),
		OutputFPS:            cfg.Session.FPS,
		GracePeriod:          cfg.Session.GracePeriod(),
		MaxConsecutiveFaults: cfg.Capture.MaxConsecutiveFaults,
	}, opener, lines, events)
	if err != nil {
		return err
	}

	if err := ctrl.Arm(ctx); err != nil {
		return err
	}
	cmd.Println("all cameras armed")
	if triggerGated {
		cmd.Printf("waiting for start edge on %s/%s (Ctrl+C to abort)\n",
			cfg.Trigger.Device, cfg.Trigger.StartLine)
	}

	report, runErr := ctrl.Run(ctx)
	if report != nil {
		printReport(cmd, report)
	}
	return runErr
}

func printBanner(cmd *cobra.Command, cfg *config.Config, streams []session.StreamConfig, duration time.Duration) {
	cmd.Println("---- quadcam ----")
	cmd.Printf("streams:      %d\n", len(streams))
	for _, s := range streams {
		cmd.Printf("  %s: device %d -> %s\n", s.Name, s.Camera, s.OutputPath)
	}
	cmd.Printf("capture:      %dx%d @ %.0f fps native (%s)\n",
		cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.NativeFPS, cfg.Capture.Backend)
	cmd.Printf("output rate:  %.1f fps, codec %s\n", cfg.Session.FPS, cfg.Session.Codec)
	if duration > 0 {
		cmd.Printf("mode:         fixed duration, %s\n", duration)
	} else {
		cmd.Printf("mode:         trigger-gated, start %s stop %s on %s\n",
			cfg.Trigger.StartLine, cfg.Trigger.StopLine, cfg.Trigger.Device)
	}
	cmd.Println("-----------------")
}

func printReport(cmd *cobra.Command, report *session.Report) {
	cmd.Printf("session %s: %s -> %s\n",
		report.SessionID,
		report.StartedAt.Format(time.RFC3339),
		report.StoppedAt.Format(time.RFC3339),
	)
	for _, s := range report.Streams {
		cmd.Printf("  %s: %d frames, target %.1f fps, achieved %.2f fps over %s\n",
			s.Name, s.FramesEmitted, s.TargetFPS, s.AchievedFPS, s.Elapsed.Round(time.Millisecond))
		if s.UnderDelivered {
			cmd.Printf("  %s: WARNING achieved rate below target, recording is shorter than nominal\n", s.Name)
		}
		if s.CaptureFaults > 0 {
			cmd.Printf("  %s: %d capture faults during the session\n", s.Name, s.CaptureFaults)
		}
	}
}
