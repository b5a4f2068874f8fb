package queue

import (
	"time"

	"go.uber.org/zap"
)

// complete applies the outcome of a gateway call to whatever entry currently
// holds its path. Entries are found through the path index, never through a
// position captured at dispatch time. The outcome is dropped when the path is
// no longer tracked, or when it was removed and dropped again so the entry
// now belongs to a different dispatch.
func (e *Engine) complete(j job, res Result, err error) {
	log := e.log.With(zap.String("path", j.path), zap.String("dispatch", j.token))

	e.mu.Lock()
	f, ok := e.index[j.path]
	switch {
	case !ok:
		e.mu.Unlock()
		log.Debug("discarding completion for removed file", zap.Error(err))
	case f.dispatch != j.token || f.State != StateProcessing:
		e.mu.Unlock()
		log.Debug("discarding stale completion", zap.Error(err))
	default:
		f.FinishedAt = time.Now()
		f.Output = res.OutputPath
		f.Log = res.Log
		f.dispatch = ""
		state := StateFinished
		if err != nil && e.opts.Policy == PolicyFailVisible {
			state = StateFailed
			f.Error = err.Error()
		}
		if err == nil {
			f.Progress = 100
		}
		f.State = state
		took := zap.Duration("took", f.FinishedAt.Sub(f.StartedAt))
		e.notifyLocked()
		e.mu.Unlock()

		if err != nil {
			log.Warn("conversion failed", zap.Stringer("state", state), took, zap.Error(err))
		} else {
			log.Info("conversion finished", zap.String("output", res.OutputPath), took)
		}
	}

	e.rearm()
}

// progress records a gateway's progress report for the dispatch identified by
// path and token. Reports never move an entry backwards and are ignored once
// the dispatch is no longer the one bound to path.
func (e *Engine) progress(path, token string, percent int) {
	percent = min(max(percent, 0), 100)

	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.index[path]
	if !ok || f.dispatch != token || f.State != StateProcessing || percent <= f.Progress {
		return
	}
	f.Progress = percent
	e.notifyLocked()
}
