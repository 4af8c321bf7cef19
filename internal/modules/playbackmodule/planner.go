// Package playbackmodule implements adaptive streaming: deciding how each
// client gets each file (direct play, remux or transcode), running the
// encoder with output piped straight into the HTTP response, and managing
// HLS sessions with fragmented MP4 segments.
package playbackmodule

import (
	"strings"

	"github.com/ferrite-media/ferrite/internal/database"
)

// Decision is the playback method chosen for a (file, device) pair.
type Decision string

const (
	DecisionDirectPlay     Decision = "direct_play"
	DecisionRemux          Decision = "remux"
	DecisionAudioTranscode Decision = "audio_transcode"
	DecisionFullTranscode  Decision = "full_transcode"
)

// DeviceProfile describes what a client family can play natively. Empty
// whitelists mean nothing is compatible, forcing a transcode.
type DeviceProfile struct {
	Name       string
	Containers []string
	Video      []string
	Audio      []string
}

// Profiles for the client families the server distinguishes. Unknown clients
// fall back to web-chrome, the broadest software-decoded profile.
var deviceProfiles = map[string]DeviceProfile{
	"web-chrome": {
		Name:       "web-chrome",
		Containers: []string{"mp4", "webm"},
		Video:      []string{"h264", "vp8", "vp9", "av1"},
		Audio:      []string{"aac", "mp3", "opus", "vorbis", "flac"},
	},
	"safari-ios": {
		Name:       "safari-ios",
		Containers: []string{"mp4", "mov"},
		Video:      []string{"h264", "hevc"},
		Audio:      []string{"aac", "mp3", "alac", "ac3", "eac3"},
	},
	"android": {
		Name:       "android",
		Containers: []string{"mp4", "webm", "matroska"},
		Video:      []string{"h264", "hevc", "vp8", "vp9", "av1"},
		Audio:      []string{"aac", "mp3", "opus", "vorbis", "flac"},
	},
	"tvos": {
		Name:       "tvos",
		Containers: []string{"mp4", "mov"},
		Video:      []string{"h264", "hevc"},
		Audio:      []string{"aac", "ac3", "eac3", "alac"},
	},
	"roku": {
		Name:       "roku",
		Containers: []string{"mp4", "matroska"},
		Video:      []string{"h264", "hevc", "vp9"},
		Audio:      []string{"aac", "ac3", "eac3", "mp3", "flac"},
	},
}

// ProfileFor resolves a device profile name, defaulting to web-chrome.
func ProfileFor(name string) DeviceProfile {
	if p, ok := deviceProfiles[strings.ToLower(name)]; ok {
		return p
	}
	return deviceProfiles["web-chrome"]
}

// PlanRequest carries everything the planner needs for one decision.
type PlanRequest struct {
	Item          *database.MediaItem
	Profile       DeviceProfile
	BurnSubtitles bool
}

// Plan is the planner's verdict plus the reasons that produced it.
type Plan struct {
	Decision Decision `json:"decision"`
	Reasons  []string `json:"reasons,omitempty"`
}

// BuildPlan classifies playback for a file against a device profile. The
// ladder runs cheapest-first: direct play beats remux beats audio transcode
// beats a full transcode. Unknown codecs or container count as compatible;
// guessing incompatible would transcode files that mostly play fine.
func BuildPlan(req PlanRequest) Plan {
	if req.BurnSubtitles {
		return Plan{Decision: DecisionFullTranscode, Reasons: []string{"subtitle burn-in requires re-encode"}}
	}

	item := req.Item
	containerOK := compatible(item.Container, req.Profile.Containers)
	videoOK := compatible(item.VideoCodec, req.Profile.Video)
	audioOK := compatible(item.AudioCodec, req.Profile.Audio)

	switch {
	case containerOK && videoOK && audioOK:
		return Plan{Decision: DecisionDirectPlay}
	case videoOK && audioOK:
		return Plan{
			Decision: DecisionRemux,
			Reasons:  []string{"container " + item.Container + " not supported"},
		}
	case videoOK:
		return Plan{
			Decision: DecisionAudioTranscode,
			Reasons:  []string{"audio codec " + item.AudioCodec + " not supported"},
		}
	default:
		return Plan{
			Decision: DecisionFullTranscode,
			Reasons:  []string{"video codec " + item.VideoCodec + " not supported"},
		}
	}
}

// compatible treats an empty value as compatible: a failed probe should not
// force the expensive path.
func compatible(value string, whitelist []string) bool {
	if value == "" {
		return true
	}
	value = strings.ToLower(value)
	for _, w := range whitelist {
		if value == w {
			return true
		}
	}
	return false
}
