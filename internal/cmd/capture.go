package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/offlinefirst/simdrive/pkg/catalog"
	"github.com/offlinefirst/simdrive/pkg/device"
	"github.com/offlinefirst/simdrive/pkg/video"
)

func newRecordCommand(rc *RootCommand) *cobra.Command {
	var (
		out         string
		duration    time.Duration
		fps         int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the simulator screen to an MP4 file",
		Long:  "Records until --duration elapses or the process is interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rc.ensureAppContext()
			if err != nil {
				return err
			}
			if fps < 0 {
				return errors.New("--fps must not be negative")
			}
			opts := rc.sessionOptions(app)

			addr := metricsAddr
			if addr == "" && app.Config.Metrics.Enabled {
				addr = app.Config.Metrics.Address
			}
			if addr != "" {
				registry := prometheus.NewRegistry()
				opts.Recording.Metrics = video.NewMetrics(registry)
				shutdown, err := serveMetrics(addr, registry, app)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			ctx := cmd.Context()
			session, closeFn, err := rc.openSession(ctx, app, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := session.StartRecording(ctx, device.RecordOptions{Path: out, Duration: duration, FramesPerSecond: fps})
			if err != nil {
				return err
			}
			fmt.Fprintf(rc.stdout, "recording to %s\n", rec.Path())

			var result video.Result
			select {
			case <-rec.Done():
				result, err = rec.Wait(context.Background())
			case <-ctx.Done():
				result, err = rec.Stop(context.Background())
			}
			printRecording(rc, result)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&out, "out", "", "Output file (default: timestamped file in the recording directory)")
	flags.DurationVar(&duration, "duration", 0, "Stop after this long (default: until interrupted)")
	flags.IntVar(&fps, "fps", 0, "Frames per second (default: recording.fps)")
	flags.StringVar(&metricsAddr, "metrics", "", "Serve recorder metrics on this address while recording")
	return cmd
}

func printRecording(rc *RootCommand, result video.Result) {
	if result.Path == "" {
		return
	}
	tw := tabwriter.NewWriter(rc.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "path\t%s\n", result.Path)
	fmt.Fprintf(tw, "state\t%s\n", result.State)
	fmt.Fprintf(tw, "frames\t%d accepted, %d dropped\n", result.FramesAccepted, result.FramesDropped)
	fmt.Fprintf(tw, "duration\t%s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "fps\t%.2f\n", result.FPS)
	_ = tw.Flush()
}

func serveMetrics(addr string, registry *prometheus.Registry, app *AppContext) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Warn("metrics server", "error", err)
		}
	}()
	app.Logger.Info("serving metrics", "address", listener.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func newScreenshotCommand(rc *RootCommand) *cobra.Command {
	var (
		out      string
		count    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Save the simulator screen as PNG with a JSON metadata sidecar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			if count > 1 && out != "" {
				return errors.New("--out cannot be combined with --count")
			}
			return rc.withSession(cmd, func(ctx context.Context, _ *AppContext, session *device.Session) error {
				if count == 1 {
					res, err := session.Screenshot(ctx, out)
					if err != nil {
						return err
					}
					fmt.Fprintln(rc.stdout, res.ImagePath)
					return nil
				}
				results, err := session.ScreenshotSeries(ctx, count, interval)
				for _, res := range results {
					fmt.Fprintln(rc.stdout, res.ImagePath)
				}
				return err
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&out, "out", "", "Output PNG (default: timestamped file in the screenshot directory)")
	flags.IntVar(&count, "count", 1, "Number of screenshots to take")
	flags.DurationVar(&interval, "interval", time.Second, "Time between screenshots when --count > 1")
	return cmd
}

func newRecordingsCommand(rc *RootCommand) *cobra.Command {
	var (
		kind   string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List catalogued recordings and screenshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rc.ensureAppContext()
			if err != nil {
				return err
			}
			if !app.Config.Catalog.Enabled {
				return errors.New("catalog disabled: set catalog.enabled in the config file")
			}
			switch kind {
			case "", catalog.KindRecording, catalog.KindScreenshot:
			default:
				return fmt.Errorf("--kind must be %q or %q", catalog.KindRecording, catalog.KindScreenshot)
			}
			cat, err := catalog.Open(app.Config.Catalog.Path, catalog.Options{})
			if err != nil {
				return err
			}
			defer cat.Close()

			entries, err := cat.List(cmd.Context(), catalog.ListOptions{
				DeviceUDID: app.Config.Device.DefaultUDID,
				Kind:       kind,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(entries, "", "  ")
				if err != nil {
					return fmt.Errorf("encode catalog: %w", err)
				}
				_, err = fmt.Fprintln(rc.stdout, string(data))
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(rc.stdout, "No captures catalogued.")
				return nil
			}
			tw := tabwriter.NewWriter(rc.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tDEVICE\tSTATE\tFRAMES\tDURATION\tCREATED\tPATH")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					e.ID, e.Kind, e.DeviceName, e.State, e.FramesAccepted,
					e.Duration.Round(time.Millisecond), e.CreatedAt.Local().Format(time.DateTime), e.Path)
			}
			return tw.Flush()
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&kind, "kind", "", "Filter by kind (recording, screenshot)")
	flags.IntVar(&limit, "limit", 20, "Maximum entries to show (0 for all)")
	flags.BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}
