package video

import (
	"os/exec"
	"strings"
)

// ProviderFFmpeg identifies the ffmpeg encoder backend.
const ProviderFFmpeg = "ffmpeg"

// Environment describes encoder availability on the host.
type Environment struct {
	Provider  string
	Binary    string
	Available bool
	Message   string
	Guidance  []string
}

// DetectorOptions controls encoder probing.
type DetectorOptions struct {
	Binary   string
	LookPath func(string) (string, error)
}

// DetectEnvironment reports whether the ffmpeg binary is reachable.
func DetectEnvironment(opts DetectorOptions) Environment {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = DefaultBinary
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	env := Environment{Provider: ProviderFFmpeg, Binary: binary}
	if resolved, err := lookPath(binary); err == nil {
		env.Available = true
		env.Binary = resolved
		env.Message = "ffmpeg binary detected"
		return env
	}
	env.Message = "ffmpeg binary missing"
	env.Guidance = append(env.Guidance, "Install ffmpeg (brew install ffmpeg) and expose it on PATH")
	return env
}
