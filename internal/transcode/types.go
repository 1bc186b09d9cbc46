// Package transcode runs ffmpeg as a subprocess to concatenate clips into a
// single MP4, optionally mixing in a background music track.
package transcode

import "time"

// Request describes one concatenation.
type Request struct {
	ManifestPath string // concat demuxer list
	MusicPath    string // optional; empty means keep clip audio only
	MusicVolume  int    // 0-100
	OutputPath   string
}

// RunResult is the structured outcome of executing an ffmpeg subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// Capabilities reports whether the configured ffmpeg binary is usable.
type Capabilities struct {
	Available bool      `json:"available"`
	Version   string    `json:"version,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	ProbedAt  time.Time `json:"probed_at"`
}
