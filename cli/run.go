package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"vtools/queue"
	"vtools/tools"

	"github.com/spf13/cobra"
)

var errConversionsFailed = errors.New("some conversions failed")

type runOptions struct {
	start string
	end   string
}

func newRunCommand(loadApp func() (*app, error)) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <tool> <file>...",
		Short: "Convert files with one tool and wait for the results",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			reg, err := a.registry()
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			reg.Start(ctx)

			return runTool(ctx, reg, args[0], args[1:], opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.start, "start", "", "Trim start, mm:ss.mmm (trim tool only)")
	cmd.Flags().StringVar(&opts.end, "end", "", "Trim end, mm:ss.mmm (trim tool only)")
	return cmd
}

// runTool drops files into one tool, commits them with the given range when
// the tool is serial, and blocks until every admitted file is terminal.
func runTool(ctx context.Context, reg *tools.Registry, toolID string, files []string, opts runOptions, out io.Writer) error {
	tool, e, err := reg.Tool(toolID)
	if err != nil {
		return err
	}

	drop := make(queue.Drop, 0, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		drop = append(drop, abs)
	}

	// Subscribe before dropping so no completion is missed.
	changes, unsubscribe := e.Subscribe()
	defer unsubscribe()

	var adm queue.Admission
	if tool.Mode == queue.ModeSerial {
		if adm, err = e.StageFiles(drop); err != nil {
			return err
		}
		staged, err := e.Staged()
		if err != nil {
			return err
		}
		for i := range staged {
			staged[i].Start, staged[i].End = opts.start, opts.end
		}
		if err := e.CommitStaged(staged); err != nil {
			_ = e.ClearStaged()
			return err
		}
	} else if adm, err = e.AddFiles(drop); err != nil {
		return err
	}

	if w := adm.Warning(tool.Accepts); w != "" {
		fmt.Fprintf(out, "warning: %s, skipped %d file(s)\n", w, len(adm.Rejected))
	}
	if len(adm.Accepted) == 0 {
		return errors.New("no files accepted")
	}

	for {
		done, failed := summarize(e, adm.Accepted)
		if done {
			fmt.Fprintln(out, filesTable(e.Files()))
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", errConversionsFailed, failed, len(adm.Accepted))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
		}
	}
}

func summarize(e *queue.Engine, paths []string) (done bool, failed int) {
	for _, p := range paths {
		f, ok := e.File(p)
		if !ok {
			continue
		}
		if !f.State.Terminal() {
			return false, 0
		}
		if f.State == queue.StateFailed {
			failed++
		}
	}
	return true, failed
}
