package mediafile

import (
	"bytes"
	"context"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ferrite-media/ferrite/internal/logger"
)

// Seeks snapped to a keyframe at most this far past the requested time still
// count as "at or before" for playback purposes.
const keyframeSlack = 0.5

// minKeyframeGap deduplicates the lazy full-file index.
const minKeyframeGap = 2.0

// KeyframeOracle finds keyframes near requested seek positions so encoder
// seeks land cleanly. Windowed lookups go straight to the inspector; the
// optional full index is built once per file and cached.
type KeyframeOracle struct {
	ffprobePath string

	mu    sync.Mutex
	index map[string][]float64 // path -> ascending keyframe pts
}

// NewKeyframeOracle creates an oracle using the given ffprobe binary.
func NewKeyframeOracle(ffprobePath string) *KeyframeOracle {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &KeyframeOracle{
		ffprobePath: ffprobePath,
		index:       make(map[string][]float64),
	}
}

// NearestBefore returns the largest keyframe pts <= target+0.5s, scanning a
// short window around the target. Returns ok=false when no keyframe is found.
func (o *KeyframeOracle) NearestBefore(ctx context.Context, path string, target float64) (float64, bool) {
	if cached, ok := o.lookupCached(path, target); ok {
		return cached, true
	}

	windowStart := target - 15
	if windowStart < 0 {
		windowStart = 0
	}
	interval := strconv.FormatFloat(windowStart, 'f', 3, 64) + "%+5"

	cmd := exec.CommandContext(ctx, o.ffprobePath,
		"-v", "quiet",
		"-read_intervals", interval,
		"-select_streams", "v:0",
		"-show_packets",
		"-show_entries", "packet=pts_time,flags",
		"-of", "csv=print_section=0",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		logger.Warn("keyframe probe failed", "path", path, "error", err)
		return 0, false
	}
	return ParseKeyframePackets(stdout.String(), target)
}

// ParseKeyframePackets scans CSV packet lines ("pts_time,flags") for the
// last keyframe at or before target (plus slack).
func ParseKeyframePackets(output string, target float64) (float64, bool) {
	best := -1.0
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		flags := strings.TrimSpace(fields[1])
		if !strings.HasPrefix(flags, "K") {
			continue
		}
		pts, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			continue
		}
		if pts <= target+keyframeSlack && pts > best {
			best = pts
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// BuildIndex scans the whole file for keyframes with -skip_frame nokey and
// caches the deduplicated result. Expensive; callers invoke it off the
// request path.
func (o *KeyframeOracle) BuildIndex(ctx context.Context, path string) ([]float64, error) {
	o.mu.Lock()
	if idx, ok := o.index[path]; ok {
		o.mu.Unlock()
		return idx, nil
	}
	o.mu.Unlock()

	cmd := exec.CommandContext(ctx, o.ffprobePath,
		"-v", "quiet",
		"-select_streams", "v:0",
		"-skip_frame", "nokey",
		"-show_entries", "frame=pts_time",
		"-of", "csv=print_section=0",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	idx := DedupeKeyframes(parseFloats(stdout.String()))
	o.mu.Lock()
	o.index[path] = idx
	o.mu.Unlock()
	return idx, nil
}

// InvalidateIndex drops the cached index for a path (file replaced on disk).
func (o *KeyframeOracle) InvalidateIndex(path string) {
	o.mu.Lock()
	delete(o.index, path)
	o.mu.Unlock()
}

func (o *KeyframeOracle) lookupCached(path string, target float64) (float64, bool) {
	o.mu.Lock()
	idx, ok := o.index[path]
	o.mu.Unlock()
	if !ok || len(idx) == 0 {
		return 0, false
	}
	// Largest entry <= target+slack.
	i := sort.SearchFloat64s(idx, target+keyframeSlack)
	if i == 0 {
		if idx[0] <= target+keyframeSlack {
			return idx[0], true
		}
		return 0, false
	}
	return idx[i-1], true
}

// DedupeKeyframes sorts and thins a keyframe list so entries are at least
// two seconds apart.
func DedupeKeyframes(pts []float64) []float64 {
	if len(pts) == 0 {
		return nil
	}
	sort.Float64s(pts)
	out := pts[:1]
	for _, p := range pts[1:] {
		if p-out[len(out)-1] >= minKeyframeGap {
			out = append(out, p)
		}
	}
	return out
}

func parseFloats(output string) []float64 {
	var out []float64
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// frame lines may carry trailing commas from csv output
		line = strings.TrimSuffix(line, ",")
		if f, err := strconv.ParseFloat(line, 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}
