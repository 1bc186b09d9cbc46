package transcode

import (
	"fmt"
	"math"
)

// BuildArgs returns the ffmpeg argument list for req. Clip audio is kept when
// present; with music, the two tracks are mixed and the output ends with the
// video.
func BuildArgs(req Request) []string {
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", req.ManifestPath}

	if req.MusicPath != "" {
		args = append(args,
			"-i", req.MusicPath,
			"-filter_complex", FilterGraph(MusicGain(req.MusicVolume)),
			"-map", "0:v", "-map", "[aout]",
		)
	} else {
		args = append(args, "-map", "0:v", "-map", "0:a?")
	}

	return append(args,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		req.OutputPath,
	)
}

// FilterGraph attenuates the music input and mixes it with the clip audio.
// duration=first bounds the mix to the video's length.
func FilterGraph(gain string) string {
	return fmt.Sprintf("[1:a]volume=%s[music];[0:a][music]amix=inputs=2:duration=first:dropout_transition=0[aout]", gain)
}

// MusicGain maps a 0-100 volume to a linear gain in [0,1] with two decimals.
func MusicGain(volume int) string {
	g := math.Max(0, math.Min(1, float64(volume)/100))
	return fmt.Sprintf("%.2f", g)
}
