package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vtools/config"
	"vtools/queue"

	"go.uber.org/zap"
)

// Runner is the Conversion Gateway backed by a local ffmpeg.
type Runner struct {
	cfg        *config.Config
	log        *zap.Logger
	ffmpeg     string
	ffprobe    string
	globalArgs []string

	probe func(ctx context.Context, path string) (*ProbeResult, error)
}

func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	ffmpegPath, err := locateBinary(cfg.FFBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary: %w", err)
	}
	// ffprobe is only needed for trimming, so a missing one is reported at
	// call time instead of refusing to start.
	ffprobePath, err := locateBinary(cfg.FFProbeBin)
	if err != nil {
		logger.Warn("ffprobe not found, trimming will fail", zap.Error(err))
		ffprobePath = cfg.FFProbeBin
	}
	global, err := ParseGlobalArgs(cfg.FFGlobalArgs)
	if err != nil {
		return nil, fmt.Errorf("FF_GLOBAL_ARGS: %w", err)
	}

	r := &Runner{
		cfg:        cfg,
		log:        logger.Named("ffmpeg"),
		ffmpeg:     ffmpegPath,
		ffprobe:    ffprobePath,
		globalArgs: global,
	}
	r.probe = r.Probe
	r.log.Info("using ffmpeg", zap.String("ffmpeg", ffmpegPath), zap.String("ffprobe", ffprobePath))
	return r, nil
}

// Invoke runs command for args.SourceFpath. The output is written next to the
// source. ffmpeg's log is returned in Result.Log and any partial output file
// is removed on failure. Progress goes to args.OnProgress when the expected
// output length is known.
func (r *Runner) Invoke(ctx context.Context, command string, args queue.Args) (queue.Result, error) {
	// 1. Check the source before doing anything expensive
	if err := r.checkSource(args.SourceFpath); err != nil {
		return queue.Result{}, err
	}

	// 2. Build the invocation
	inv, err := r.plan(ctx, command, args)
	if err != nil {
		return queue.Result{}, err
	}

	// 3. Check system resources
	if r.cfg.ThrottleEnable {
		if err := r.checkResources(filepath.Dir(inv.target)); err != nil {
			return queue.Result{}, fmt.Errorf("insufficient system resources: %w", err)
		}
	}

	// 4. Execute
	if r.cfg.FFTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.FFTimeout)
		defer cancel()
	}
	if args.OnProgress != nil && inv.duration <= 0 {
		inv.duration = r.sourceDuration(ctx, inv.source)
	}
	progress := args.OnProgress != nil && inv.duration > 0

	argv := inv.argv(r.globalArgs, progress)
	cmd := exec.CommandContext(ctx, r.ffmpeg, argv...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf
	if progress {
		cmd.Stdout = newProgressWriter(inv.duration, args.OnProgress)
	}

	r.log.Debug("executing", zap.String("command", command), zap.String("argv", r.ffmpeg+" "+strings.Join(argv, " ")))

	start := time.Now()
	err = cmd.Run()
	outputLog := outputBuf.String()
	if err != nil {
		os.Remove(inv.target)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return queue.Result{Log: outputLog}, fmt.Errorf("ffmpeg %s failed: %w", command, err)
	}

	r.log.Debug("ffmpeg done", zap.String("target", inv.target), zap.Duration("took", time.Since(start)))
	return queue.Result{OutputPath: inv.target, Log: outputLog}, nil
}

// sourceDuration asks ffprobe how long path is. Without an answer the call
// simply runs without progress.
func (r *Runner) sourceDuration(ctx context.Context, path string) time.Duration {
	info, err := r.probe(ctx, path)
	if err != nil {
		r.log.Debug("no duration, progress disabled", zap.String("source", path), zap.Error(err))
		return 0
	}
	return info.Duration()
}

func (r *Runner) checkSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source %s is not a regular file", path)
	}
	if r.cfg.MaxInputSize > 0 && info.Size() > r.cfg.MaxInputSize {
		return fmt.Errorf("input file size %d exceeds limit of %d bytes", info.Size(), r.cfg.MaxInputSize)
	}
	return nil
}
