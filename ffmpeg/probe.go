package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Stream is the subset of an ffprobe stream entry the trim command needs.
type Stream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	BitRate   string `json:"bit_rate"`
	Duration  string `json:"duration"`
}

type Format struct {
	Duration string `json:"duration"`
}

type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Duration is the container duration, falling back to the first stream that
// reports one. It is zero when ffprobe could not tell.
func (p *ProbeResult) Duration() time.Duration {
	candidates := []string{p.Format.Duration}
	for _, s := range p.Streams {
		candidates = append(candidates, s.Duration)
	}
	for _, c := range candidates {
		secs, err := strconv.ParseFloat(c, 64)
		if err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}

// First returns the first stream of codecType ("video" or "audio") that has
// a codec name.
func (p *ProbeResult) First(codecType string) (Stream, bool) {
	for _, s := range p.Streams {
		if s.CodecType == codecType && s.CodecName != "" {
			return s, true
		}
	}
	return Stream{}, false
}

// Probe lists the streams and container format of path with ffprobe.
func (r *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, r.ffprobe,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var res ProbeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &res, nil
}
