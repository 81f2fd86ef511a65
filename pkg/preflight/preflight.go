// Package preflight reports whether the host can drive simulators: macOS
// permission state, Xcode command line tools and the video encoder.
package preflight

import (
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/offlinefirst/simdrive/pkg/video"
)

// Status enumerates coarse probe results.
type Status string

const (
	// StatusUnknown indicates no explicit signal about the state.
	StatusUnknown Status = "unknown"
	// StatusGranted signals that permission was granted or the tool is present.
	StatusGranted Status = "granted"
	// StatusDenied indicates the user has explicitly denied access.
	StatusDenied Status = "denied"
	// StatusPromptRequired means the platform will prompt at runtime.
	StatusPromptRequired Status = "prompt"
	// StatusUnavailable reports that the capability is missing on this host.
	StatusUnavailable Status = "unavailable"
)

// Probe names.
const (
	ProbeAccessibility   = "accessibility"
	ProbeScreenRecording = "screen_recording"
	ProbeXcrun           = "xcrun"
	ProbeEncoder         = "ffmpeg"
)

// Result is the outcome of one probe.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Guidance string `json:"guidance,omitempty"`
	Required bool   `json:"required"`
}

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// Options configure Run.
type Options struct {
	LookupEnv    LookupEnvFunc
	LookPath     func(string) (string, error)
	GOOS         string
	FFmpegBinary string
	// Backend is the configured simulator backend; synthetic needs no host tools.
	Backend string
}

// Report collects probe results.
type Report struct {
	Results []Result `json:"results"`
}

// OK reports whether every required probe passed.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if res.Required && res.Status != StatusGranted {
			return false
		}
	}
	return true
}

// Run executes all probes.
func Run(opts Options) Report {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	native := strings.TrimSpace(opts.Backend) != "synthetic"

	accessibility := probePermission(opts, ProbeAccessibility, "SIMDRIVE_ACCESSIBILITY", "accessibility trust required")
	screen := probePermission(opts, ProbeScreenRecording, "SIMDRIVE_SCREEN_RECORDING", "awaiting macOS screen recording authorisation")
	accessibility.Required = native
	screen.Required = native

	xcrun := probeTool(opts, ProbeXcrun, "xcrun", "Install Xcode and run 'xcode-select --install'")
	xcrun.Required = native

	env := video.DetectEnvironment(video.DetectorOptions{Binary: opts.FFmpegBinary, LookPath: opts.LookPath})
	encoder := Result{Name: ProbeEncoder, Status: StatusGranted, Message: env.Message, Required: true}
	if !env.Available {
		encoder.Status = StatusUnavailable
		encoder.Guidance = strings.Join(env.Guidance, "; ")
	}

	return Report{Results: []Result{accessibility, screen, xcrun, encoder}}
}

func probePermission(opts Options, name, envKey, darwinMessage string) Result {
	if value, ok := opts.LookupEnv(envKey); ok {
		res := interpretPermissionFlag(name, value)
		res.Name = name
		return res
	}
	if opts.GOOS == "darwin" {
		return Result{Name: name, Status: StatusPromptRequired, Message: darwinMessage}
	}
	return Result{Name: name, Status: StatusUnavailable, Message: name + " unsupported on this platform"}
}

func probeTool(opts Options, name, binary, guidance string) Result {
	if _, err := opts.LookPath(binary); err != nil {
		return Result{Name: name, Status: StatusUnavailable, Message: binary + " binary missing", Guidance: guidance}
	}
	return Result{Name: name, Status: StatusGranted, Message: binary + " binary detected"}
}

func interpretPermissionFlag(name, value string) Result {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true":
		return Result{Status: StatusGranted, Message: name + " permission pre-authorised via env override"}
	case "denied", "no", "false", "blocked":
		return Result{Status: StatusDenied, Message: name + " permission denied via env override", Guidance: "use 'tccutil reset' or update SIMDRIVE_* env to re-test"}
	case "prompt", "ask":
		return Result{Status: StatusPromptRequired, Message: name + " permission will prompt at runtime"}
	case "unavailable", "unsupported":
		return Result{Status: StatusUnavailable, Message: name + " permission unavailable on this platform"}
	default:
		return Result{Status: StatusUnknown, Message: name + " permission state unknown"}
	}
}
