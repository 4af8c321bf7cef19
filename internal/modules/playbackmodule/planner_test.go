package playbackmodule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ferrite-media/ferrite/internal/database"
)

func item(container, video, audio string) *database.MediaItem {
	return &database.MediaItem{Container: container, VideoCodec: video, AudioCodec: audio}
}

func TestBuildPlanDirectPlay(t *testing.T) {
	plan := BuildPlan(PlanRequest{
		Item:    item("mp4", "h264", "aac"),
		Profile: ProfileFor("web-chrome"),
	})
	assert.Equal(t, DecisionDirectPlay, plan.Decision)
	assert.Empty(t, plan.Reasons)
}

func TestBuildPlanRemuxForContainer(t *testing.T) {
	// Codecs fine, container not: mkv h264/aac in Chrome.
	plan := BuildPlan(PlanRequest{
		Item:    item("matroska", "h264", "aac"),
		Profile: ProfileFor("web-chrome"),
	})
	assert.Equal(t, DecisionRemux, plan.Decision)
}

func TestBuildPlanAudioTranscode(t *testing.T) {
	// DTS audio inside mp4 with h264 video.
	plan := BuildPlan(PlanRequest{
		Item:    item("mp4", "h264", "dts"),
		Profile: ProfileFor("web-chrome"),
	})
	assert.Equal(t, DecisionAudioTranscode, plan.Decision)
}

func TestBuildPlanFullTranscode(t *testing.T) {
	// HEVC is not in the Chrome whitelist.
	plan := BuildPlan(PlanRequest{
		Item:    item("matroska", "hevc", "dts"),
		Profile: ProfileFor("web-chrome"),
	})
	assert.Equal(t, DecisionFullTranscode, plan.Decision)
}

func TestBuildPlanHEVCOnSafari(t *testing.T) {
	// The same file direct-plays on an HEVC-capable client.
	plan := BuildPlan(PlanRequest{
		Item:    item("mp4", "hevc", "aac"),
		Profile: ProfileFor("safari-ios"),
	})
	assert.Equal(t, DecisionDirectPlay, plan.Decision)
}

func TestBuildPlanBurnInEscalates(t *testing.T) {
	plan := BuildPlan(PlanRequest{
		Item:          item("mp4", "h264", "aac"),
		Profile:       ProfileFor("web-chrome"),
		BurnSubtitles: true,
	})
	assert.Equal(t, DecisionFullTranscode, plan.Decision)
}

func TestBuildPlanUnknownCodecIsCompatible(t *testing.T) {
	// A failed probe leaves codecs empty; do not punish the file with a
	// transcode it probably does not need.
	plan := BuildPlan(PlanRequest{
		Item:    item("", "", ""),
		Profile: ProfileFor("web-chrome"),
	})
	assert.Equal(t, DecisionDirectPlay, plan.Decision)
}

func TestProfileForUnknownFallsBack(t *testing.T) {
	assert.Equal(t, "web-chrome", ProfileFor("smart-fridge").Name)
	assert.Equal(t, "roku", ProfileFor("Roku").Name)
}
