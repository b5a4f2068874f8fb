package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"vtools/queue"
)

// Gateway command names.
const (
	CmdFlv2Mp4         = "flv2mp4"
	CmdExtractAudio    = "extract_audio"
	CmdEncodeBiliHiRes = "encode_bili_hires"
	CmdEncodeAndTrim   = "encode_and_trim"
)

var ErrUnknownCommand = errors.New("unknown command")

// invocation is one ffmpeg run before the fixed and global flags are added.
// duration is the expected output length, zero when unknown.
type invocation struct {
	inputOpts  []string
	source     string
	outputOpts []string
	target     string
	duration   time.Duration
}

// argv builds the ffmpeg arguments. With progress set, ffmpeg writes its
// machine-readable progress report to stdout.
func (inv invocation) argv(global []string, progress bool) []string {
	args := []string{"-nostdin", "-y"}
	if progress {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}
	args = append(args, global...)
	args = append(args, inv.inputOpts...)
	args = append(args, "-i", inv.source)
	args = append(args, inv.outputOpts...)
	return append(args, inv.target)
}

type planFunc func(r *Runner, ctx context.Context, args queue.Args) (invocation, error)

var plans = map[string]planFunc{
	CmdFlv2Mp4:         planFlv2Mp4,
	CmdExtractAudio:    planExtractAudio,
	CmdEncodeBiliHiRes: planBiliHiRes,
	CmdEncodeAndTrim:   planTrim,
}

// Commands lists the command names the runner understands.
func Commands() []string {
	return []string{CmdEncodeAndTrim, CmdFlv2Mp4, CmdExtractAudio, CmdEncodeBiliHiRes}
}

func (r *Runner) plan(ctx context.Context, command string, args queue.Args) (invocation, error) {
	p, ok := plans[command]
	if !ok {
		return invocation{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	inv, err := p(r, ctx, args)
	if err != nil {
		return invocation{}, err
	}
	if filepath.Clean(inv.target) == filepath.Clean(inv.source) {
		return invocation{}, fmt.Errorf("%s would overwrite its own input %s", command, inv.source)
	}
	return inv, nil
}

func planFlv2Mp4(_ *Runner, _ context.Context, args queue.Args) (invocation, error) {
	return invocation{
		source:     args.SourceFpath,
		outputOpts: []string{"-vcodec", "copy", "-acodec", "copy"},
		target:     withExt(args.SourceFpath, ".mp4"),
	}, nil
}

func planExtractAudio(_ *Runner, _ context.Context, args queue.Args) (invocation, error) {
	return invocation{
		source:     args.SourceFpath,
		outputOpts: []string{"-map", "0:a", "-codec", "copy"},
		target:     withExt(args.SourceFpath, ".m4a"),
	}, nil
}

// planBiliHiRes re-muxes with 48kHz/s32 FLAC audio, the format Bilibili
// accepts for its lossless tier.
func planBiliHiRes(_ *Runner, _ context.Context, args queue.Args) (invocation, error) {
	return invocation{
		source: args.SourceFpath,
		outputOpts: []string{
			"-vcodec", "copy",
			"-acodec", "flac",
			"-strict", "2",
			"-sample_fmt", "s32",
			"-ar", "48000",
		},
		target: withSuffix(args.SourceFpath, "-bili_hires"),
	}, nil
}

// planTrim cuts [start, end] and re-encodes with the source's own codecs and
// bit rates so the cut is frame accurate without changing quality much.
func planTrim(r *Runner, ctx context.Context, args queue.Args) (invocation, error) {
	start, okStart := queue.ParseTimestamp(args.Start)
	end, okEnd := queue.ParseTimestamp(args.End)
	if !okStart || !okEnd {
		return invocation{}, fmt.Errorf("invalid trim range %q-%q", args.Start, args.End)
	}
	info, err := r.probe(ctx, args.SourceFpath)
	if err != nil {
		return invocation{}, err
	}

	var out []string
	if v, ok := info.First("video"); ok {
		out = append(out, "-vcodec", v.CodecName)
		if v.BitRate != "" {
			out = append(out, "-b:v", v.BitRate)
		}
	}
	if a, ok := info.First("audio"); ok {
		out = append(out, "-acodec", a.CodecName)
		if a.BitRate != "" {
			out = append(out, "-b:a", a.BitRate)
		}
	}
	return invocation{
		inputOpts:  []string{"-ss", args.Start, "-to", args.End},
		source:     args.SourceFpath,
		outputOpts: out,
		target:     withSuffix(args.SourceFpath, "-trimmed"),
		duration:   max(end-start, 0),
	}, nil
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}
