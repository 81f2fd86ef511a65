package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/simdrive/internal/buildinfo"
	"github.com/offlinefirst/simdrive/pkg/catalog"
	"github.com/offlinefirst/simdrive/pkg/config"
	"github.com/offlinefirst/simdrive/pkg/device"
	"github.com/offlinefirst/simdrive/pkg/logging"
	"github.com/offlinefirst/simdrive/pkg/simulator"
	"github.com/offlinefirst/simdrive/pkg/simulator/simctl"
	"github.com/offlinefirst/simdrive/pkg/simulator/synthetic"
	"github.com/offlinefirst/simdrive/pkg/video"
)

// AppContext exposes lazily initialised configuration and logging facilities.
type AppContext struct {
	Config config.Config
	Logger *slog.Logger
}

// RootCommand owns the cobra tree and the state shared by subcommands.
type RootCommand struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer
	appCtx *AppContext

	configPath string
	logLevel   string
	logFormat  string
	backend    string
	udid       string

	openers       map[string]simulator.Opener
	writerFactory video.WriterFactory
	lookupEnv     config.LookupEnvFunc
}

// NewRootCommand constructs the CLI with its subcommands and global flags.
func NewRootCommand() *RootCommand {
	rc := &RootCommand{
		stdout: os.Stdout,
		stderr: os.Stderr,
		openers: map[string]simulator.Opener{
			config.BackendSynthetic: synthetic.Open,
			config.BackendSimctl:    simctl.Open,
		},
		lookupEnv: os.LookupEnv,
	}

	rc.root = &cobra.Command{
		Use:           "simdrive",
		Short:         "Drive iOS simulators: inspect, tap, type, record and capture",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rc.root.PersistentFlags()
	flags.StringVar(&rc.configPath, "config", "", "Path to config file (default: ./simdrive.yaml if present)")
	flags.StringVar(&rc.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flags.StringVar(&rc.logFormat, "log-format", "", "Override log output format (json, console)")
	flags.StringVar(&rc.backend, "backend", "", "Simulator backend (synthetic, simctl)")
	flags.StringVar(&rc.udid, "udid", "", "Target simulator UDID (default: first booted device)")

	rc.root.AddCommand(
		newDevicesCommand(rc),
		newTreeCommand(rc),
		newTapCommand(rc),
		newTypeCommand(rc),
		newLoginCommand(rc),
		newSlowmoCommand(rc),
		newRecordCommand(rc),
		newScreenshotCommand(rc),
		newRecordingsCommand(rc),
		newDoctorCommand(rc),
		newVersionCommand(rc),
	)
	return rc
}

// SetOutput redirects command output and logs.
func (rc *RootCommand) SetOutput(stdout, stderr io.Writer) {
	rc.stdout = stdout
	rc.stderr = stderr
}

// Execute runs the command line, cancelling on SIGINT or SIGTERM.
func (rc *RootCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rc.ExecuteContext(ctx, args)
}

// ExecuteContext runs the command line under ctx.
func (rc *RootCommand) ExecuteContext(ctx context.Context, args []string) error {
	rc.root.SetArgs(args)
	rc.root.SetOut(rc.stdout)
	rc.root.SetErr(rc.stderr)
	if err := rc.root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(rc.stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func (rc *RootCommand) ensureAppContext() (*AppContext, error) {
	if rc.appCtx != nil {
		return rc.appCtx, nil
	}

	cfg, err := config.Load(rc.configPath)
	if err != nil {
		return nil, err
	}

	if rc.logLevel != "" {
		lvl, err := config.NormalizeLogLevel(rc.logLevel)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Level = lvl
	}
	if rc.logFormat != "" {
		format, err := config.NormalizeFormat(rc.logFormat)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Format = format
	}
	if rc.backend != "" {
		cfg.Device.Backend = strings.ToLower(strings.TrimSpace(rc.backend))
	}
	if rc.udid != "" {
		cfg.Device.DefaultUDID = strings.TrimSpace(rc.udid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.FromConfig(cfg.Logging, rc.stderr)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded", "source", cfg.Source, "backend", cfg.Device.Backend)

	rc.appCtx = &AppContext{Config: cfg, Logger: logger}
	return rc.appCtx, nil
}

func (rc *RootCommand) openControl(ctx context.Context, app *AppContext) (*simulator.Control, error) {
	opener, ok := rc.openers[app.Config.Device.Backend]
	if !ok {
		return nil, fmt.Errorf("no opener for backend %q", app.Config.Device.Backend)
	}
	return simulator.Open(ctx, simulator.Configuration{
		Backend:       app.Config.Device.Backend,
		DeviceSetPath: app.Config.Device.DeviceSetPath,
		OpenTimeout:   app.Config.Device.OpenTimeout,
		Logger:        app.Logger,
	}, opener)
}

func (rc *RootCommand) sessionOptions(app *AppContext) device.Options {
	cfg := app.Config
	return device.Options{
		AccessibilityTimeout: cfg.Device.CallTimeout,
		HIDTimeout:           cfg.Device.CallTimeout,
		FramebufferTimeout:   cfg.Device.CallTimeout,
		ControlTimeout:       cfg.Device.CallTimeout,
		KeyEdgeTimeout:       cfg.Input.KeyEdgeTimeout,
		KeyDwell:             cfg.Input.KeyDwell,
		LoginDelay:           cfg.Input.LoginDelay,
		ScreenshotDir:        cfg.Screenshots.Dir,
		Recording: device.RecordingDefaults{
			Dir:             cfg.Recording.Dir,
			FramesPerSecond: cfg.Recording.FPS,
			Width:           cfg.Recording.Width,
			Height:          cfg.Recording.Height,
			WriterFactory:   rc.writerFactory,
			Encoder: video.FFmpegOptions{
				Binary:    cfg.Recording.FFmpegBinary,
				Codec:     cfg.Recording.Codec,
				QueueSize: cfg.Recording.QueueSize,
			},
			FinishTimeout: cfg.Recording.FinishTimeout,
		},
		Backend: cfg.Device.Backend,
		Logger:  app.Logger,
	}
}

// openSession resolves the target device and opens a session on it. The
// returned close function releases the catalog.
func (rc *RootCommand) openSession(ctx context.Context, app *AppContext, opts device.Options) (*device.Session, func(), error) {
	control, err := rc.openControl(ctx, app)
	if err != nil {
		return nil, nil, err
	}
	udid := app.Config.Device.DefaultUDID
	if udid == "" {
		booted, err := control.FirstBooted(ctx)
		if err != nil {
			return nil, nil, err
		}
		udid = booted.UDID
	}

	closeFn := func() {}
	if app.Config.Catalog.Enabled && opts.Catalog == nil {
		cat, err := catalog.Open(app.Config.Catalog.Path, catalog.Options{})
		if err != nil {
			app.Logger.Warn("catalog unavailable", "path", app.Config.Catalog.Path, "error", err)
		} else {
			opts.Catalog = cat
			closeFn = func() {
				if err := cat.Close(); err != nil {
					app.Logger.Warn("close catalog", "error", err)
				}
			}
		}
	}

	session, err := device.Open(ctx, control, udid, opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return session, closeFn, nil
}

// withSession is the common shape of device commands.
func (rc *RootCommand) withSession(cmd *cobra.Command, fn func(ctx context.Context, app *AppContext, session *device.Session) error) error {
	app, err := rc.ensureAppContext()
	if err != nil {
		return err
	}
	session, closeFn, err := rc.openSession(cmd.Context(), app, rc.sessionOptions(app))
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(cmd.Context(), app, session)
}

func versionString() string {
	v := buildinfo.Version()
	if rev := buildinfo.Revision(); rev != "" {
		v += " " + rev
	}
	return fmt.Sprintf("%s (go%s/%s)", v, runtimeVersion(), runtimeGOOS())
}

// runtimeVersion is extracted for testability.
var runtimeVersion = func() string { return strings.TrimPrefix(runtime.Version(), "go") }

// runtimeGOOS is extracted for testability.
var runtimeGOOS = func() string { return runtime.GOOS }
