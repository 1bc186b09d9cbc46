package export

import (
	"strings"
	"testing"

	"github.com/heimdex/reelforge/internal/project"
)

func TestEDL_RecordTimelineAccumulates(t *testing.T) {
	events := []Event{
		{Name: "Clip 1", MediaURL: "https://cdn.test/1.mp4", DurationSeconds: 5},
		{Name: "Clip 2", MediaURL: "https://cdn.test/2.mp4", DurationSeconds: 8},
	}

	edl := EDL("Launch Teaser", events, 30)

	for _, want := range []string{
		"TITLE: Launch Teaser",
		"FCM: NON-DROP FRAME",
		"001  AX       V     C        00:00:00:00 00:00:05:00 00:00:00:00 00:00:05:00",
		"002  AX       V     C        00:00:00:00 00:00:08:00 00:00:05:00 00:00:13:00",
		"* FROM CLIP NAME:  Clip 2",
		"* SOURCE FILE:  https://cdn.test/1.mp4",
	} {
		if !strings.Contains(edl, want) {
			t.Errorf("EDL missing %q:\n%s", want, edl)
		}
	}
}

func TestEDL_DropFrame(t *testing.T) {
	edl := EDL("x", nil, 29.97)
	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Errorf("missing drop frame marker: %q", edl)
	}
}

func TestEDL_DefaultFrameRate(t *testing.T) {
	edl := EDL("x", []Event{{Name: "a", DurationSeconds: 1}}, 0)
	if !strings.Contains(edl, "00:00:01:00 00:00:00:00 00:00:01:00") {
		t.Errorf("zero frame rate should use the default:\n%s", edl)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		frames, fps int
		want        string
	}{
		{0, 30, "00:00:00:00"},
		{29, 30, "00:00:00:29"},
		{30 * 61, 30, "00:01:01:00"},
		{25*3600 + 12, 25, "01:00:00:12"},
	}
	for _, tt := range tests {
		if got := timecode(tt.frames, tt.fps); got != tt.want {
			t.Errorf("timecode(%d, %d) = %s, want %s", tt.frames, tt.fps, got, tt.want)
		}
	}
}

func TestEvents_SkipsClipsNotInVideo(t *testing.T) {
	clips := []*project.Clip{
		{SequenceOrder: 1, Status: project.ClipStatusCompleted, ClipURL: "https://cdn.test/1.mp4", DurationSeconds: 5},
		{SequenceOrder: 2, Status: project.ClipStatusFailed, DurationSeconds: 5},
		{SequenceOrder: 3, Status: project.ClipStatusCompleted, DurationSeconds: 5},
		{SequenceOrder: 4, Status: project.ClipStatusCompleted, ClipURL: "https://cdn.test/4.mp4", DurationSeconds: 6},
	}

	events := Events(clips)
	if len(events) != 2 || events[0].Name != "Clip 1" || events[1].Name != "Clip 4" || events[1].DurationSeconds != 6 {
		t.Errorf("Events() = %+v", events)
	}
}
