// Package export renders a compiled project as a CMX3600 edit decision list
// so the cut can be rebuilt in an editor from the individual clips.
package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/heimdex/reelforge/internal/project"
)

const DefaultFrameRate = 30.0

// Event is one clip on the record timeline.
type Event struct {
	Name            string
	MediaURL        string
	DurationSeconds int
}

// Events lists the clips that made it into the final video, in order.
func Events(clips []*project.Clip) []Event {
	var out []Event
	for _, c := range clips {
		if !c.Compilable() {
			continue
		}
		out = append(out, Event{
			Name:            fmt.Sprintf("Clip %d", c.SequenceOrder),
			MediaURL:        c.ClipURL,
			DurationSeconds: c.DurationSeconds,
		})
	}
	return out
}

// EDL builds the list. Every source clip is used from its first frame; the
// record side is the running total.
func EDL(title string, events []Event, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	if isDropFrame(frameRate) {
		b.WriteString("FCM: DROP FRAME\n\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n\n")
	}

	record := 0
	for i, ev := range events {
		frames := ev.DurationSeconds * fps
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n",
			i+1, "AX", "V",
			timecode(0, fps), timecode(frames, fps),
			timecode(record, fps), timecode(record+frames, fps),
		)
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", ev.Name)
		fmt.Fprintf(&b, "* SOURCE FILE:  %s\n", ev.MediaURL)
		record += frames
	}
	return b.String()
}

func isDropFrame(rate float64) bool {
	return math.Abs(rate-29.97) < 0.01 || math.Abs(rate-59.94) < 0.01
}

// timecode formats a frame count as HH:MM:SS:FF.
func timecode(frames, fps int) string {
	ff := frames % fps
	secs := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", secs/3600, secs/60%60, secs%60, ff)
}
