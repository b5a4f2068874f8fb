package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

type Mode int

const (
	// ModeParallel dispatches every admitted file at once.
	ModeParallel Mode = iota
	// ModeSerial stages files for parameters, then dispatches them one at a
	// time in commit order.
	ModeSerial
)

func (m Mode) String() string {
	switch m {
	case ModeParallel:
		return "parallel"
	case ModeSerial:
		return "serial"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Policy decides how a failed gateway call is recorded.
type Policy string

const (
	PolicyFailVisible Policy = "fail-visible"
	PolicyFailSoft    Policy = "fail-soft"
)

type Options struct {
	Name    string
	Command string
	Mode    Mode
	// Accepts lists lowercase extensions without the dot. Nil accepts any
	// file; serial engines then still require a non-empty extension.
	Accepts []string
	Policy  Policy
	Logger  *zap.Logger
}

// Engine owns the tracked files of one tool panel and dispatches them to a
// Gateway. All methods are safe for concurrent use.
type Engine struct {
	opts Options
	gw   Gateway
	log  *zap.Logger
	pool *ants.Pool

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	entries []*TrackedFile
	index   map[string]*TrackedFile
	staged  []StagedFile
	subs    map[int]chan struct{}
	nextSub int
	started bool
	closed  bool
}

// job is everything a dispatched call needs once the lock is released.
type job struct {
	path  string
	token string
	args  Args
}

func NewEngine(gw Gateway, opts Options) (*Engine, error) {
	if gw == nil {
		return nil, fmt.Errorf("queue %s: nil gateway", opts.Name)
	}
	if opts.Command == "" {
		return nil, fmt.Errorf("queue %s: empty command", opts.Name)
	}
	switch opts.Policy {
	case "":
		opts.Policy = PolicyFailVisible
	case PolicyFailVisible, PolicyFailSoft:
	default:
		return nil, fmt.Errorf("queue %s: unknown failure policy %q", opts.Name, opts.Policy)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	// Parallel mode has no concurrency cap and serial mode is capped by
	// state, so the pool itself is unbounded.
	pool, err := ants.NewPool(-1, ants.WithExpiryDuration(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("queue %s: create worker pool: %w", opts.Name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:   opts,
		gw:     gw,
		log:    opts.Logger.Named("queue").With(zap.String("tool", opts.Name)),
		pool:   pool,
		ctx:    ctx,
		cancel: cancel,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		index:  make(map[string]*TrackedFile),
		subs:   make(map[int]chan struct{}),
	}, nil
}

func (e *Engine) Name() string      { return e.opts.Name }
func (e *Engine) Mode() Mode        { return e.opts.Mode }
func (e *Engine) Accepts() []string { return append([]string(nil), e.opts.Accepts...) }

// Start runs the serial scheduler until ctx ends or Close is called. The
// engine is closed when ctx ends.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	if e.opts.Mode == ModeSerial {
		go e.scheduleLoop()
		e.rearm()
	}
	go func() {
		select {
		case <-ctx.Done():
			e.Close()
		case <-e.ctx.Done():
		}
	}()
	e.log.Debug("queue started", zap.Stringer("mode", e.opts.Mode))
}

// Close stops the scheduler and releases the worker pool. Gateway calls
// still running see a cancelled context; their completions are applied if
// they arrive.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	waitScheduler := e.started && e.opts.Mode == ModeSerial
	e.mu.Unlock()

	e.cancel()
	if waitScheduler {
		<-e.done
	}
	e.pool.Release()
	e.log.Debug("queue closed")
}

// AddFiles admits a drop into a parallel engine and dispatches every
// accepted file immediately.
func (e *Engine) AddFiles(d Drop) (Admission, error) {
	if e.opts.Mode != ModeParallel {
		return Admission{}, fmt.Errorf("add files to %s: %w", e.opts.Name, ErrWrongMode)
	}
	if err := d.Validate(); err != nil {
		return Admission{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Admission{}, ErrClosed
	}
	adm := Admit(d, e.trackedSetLocked(), e.opts.Accepts)
	jobs := make([]job, 0, len(adm.Accepted))
	for _, p := range adm.Accepted {
		f := newTrackedFile(p, StateProcessing)
		e.insertLocked(f)
		jobs = append(jobs, e.beginLocked(f))
	}
	if len(jobs) > 0 {
		e.notifyLocked()
	}
	e.mu.Unlock()

	e.warnRejected(adm)
	for _, j := range jobs {
		e.submit(j)
	}
	return adm, nil
}

// StageFiles admits a drop into the staging list of a serial engine. Files
// already staged or tracked are ignored.
func (e *Engine) StageFiles(d Drop) (Admission, error) {
	if e.opts.Mode != ModeSerial {
		return Admission{}, fmt.Errorf("stage files in %s: %w", e.opts.Name, ErrWrongMode)
	}
	if err := d.Validate(); err != nil {
		return Admission{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Admission{}, ErrClosed
	}
	existing := e.trackedSetLocked()
	for _, s := range e.staged {
		existing[s.Path] = struct{}{}
	}
	adm := Admit(d, existing, e.opts.Accepts)
	if e.opts.Accepts == nil {
		adm = adm.requireExtension()
	}
	for _, p := range adm.Accepted {
		e.staged = append(e.staged, StagedFile{Path: p})
	}
	if len(adm.Accepted) > 0 {
		e.notifyLocked()
	}
	e.warnRejected(adm)
	return adm, nil
}

// Staged returns a copy of the staging list.
func (e *Engine) Staged() ([]StagedFile, error) {
	if e.opts.Mode != ModeSerial {
		return nil, fmt.Errorf("list staged in %s: %w", e.opts.Name, ErrWrongMode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]StagedFile(nil), e.staged...), nil
}

// Unstage withdraws the staged file at index.
func (e *Engine) Unstage(index int) error {
	if e.opts.Mode != ModeSerial {
		return fmt.Errorf("unstage in %s: %w", e.opts.Name, ErrWrongMode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.staged) {
		return fmt.Errorf("unstage %d of %d: %w", index, len(e.staged), ErrIndexOutOfRange)
	}
	e.staged = append(e.staged[:index], e.staged[index+1:]...)
	e.notifyLocked()
	return nil
}

// ClearStaged empties the staging list.
func (e *Engine) ClearStaged() error {
	if e.opts.Mode != ModeSerial {
		return fmt.Errorf("clear staged in %s: %w", e.opts.Name, ErrWrongMode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.staged) > 0 {
		e.staged = nil
		e.notifyLocked()
	}
	return nil
}

// CommitStaged attaches trim parameters to the staged files, matched by
// path, and queues all of them in staging order. Staged files missing from
// files keep the values they already carry. If any file is invalid nothing
// is queued, the supplied values stay on the staging list, and a
// *ValidationError is returned.
func (e *Engine) CommitStaged(files []StagedFile) error {
	if e.opts.Mode != ModeSerial {
		return fmt.Errorf("commit in %s: %w", e.opts.Name, ErrWrongMode)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	staged := make(map[string]int, len(e.staged))
	for i, s := range e.staged {
		staged[s.Path] = i
	}
	verr := &ValidationError{}
	for _, f := range files {
		i, ok := staged[f.Path]
		if !ok {
			verr.add(f.Path, "path", "file is not staged")
			continue
		}
		e.staged[i].Start, e.staged[i].End = f.Start, f.End
	}
	for _, s := range e.staged {
		validateRange(s.Path, TrimRange{Start: s.Start, End: s.End}, verr)
	}
	if len(verr.Fields) > 0 {
		e.notifyLocked()
		e.mu.Unlock()
		return verr
	}

	queued := 0
	for _, s := range e.staged {
		if _, ok := e.index[s.Path]; ok {
			continue
		}
		f := newTrackedFile(s.Path, StateQueued)
		f.Params = &TrimRange{Start: s.Start, End: s.End}
		e.insertLocked(f)
		queued++
	}
	e.staged = nil
	e.notifyLocked()
	e.mu.Unlock()

	e.log.Info("staged files queued", zap.Int("count", queued))
	e.rearm()
	return nil
}

// RemoveOne stops tracking path in any state. A gateway call already running
// for it is not cancelled; its completion is discarded.
func (e *Engine) RemoveOne(path string) error {
	e.mu.Lock()
	f, ok := e.index[path]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("remove %q: %w", path, ErrNotTracked)
	}
	delete(e.index, path)
	for i, ef := range e.entries {
		if ef == f {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			break
		}
	}
	running := f.State == StateProcessing
	e.notifyLocked()
	e.mu.Unlock()

	if running {
		e.log.Info("removed file with a conversion still running", zap.String("path", path))
	}
	e.rearm()
	return nil
}

// ClearFinished removes every finished or failed entry and returns how many
// were removed.
func (e *Engine) ClearFinished() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.entries[:0]
	removed := 0
	for _, f := range e.entries {
		if f.State.Terminal() {
			delete(e.index, f.Path)
			removed++
			continue
		}
		kept = append(kept, f)
	}
	for i := len(kept); i < len(e.entries); i++ {
		e.entries[i] = nil
	}
	e.entries = kept
	if removed > 0 {
		e.notifyLocked()
	}
	return removed
}

// Files returns a snapshot of the tracked files in insertion order.
func (e *Engine) Files() []TrackedFile {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TrackedFile, len(e.entries))
	for i, f := range e.entries {
		out[i] = f.snapshot()
	}
	return out
}

// File returns a snapshot of the entry for path.
func (e *Engine) File(path string) (TrackedFile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.index[path]
	if !ok {
		return TrackedFile{}, false
	}
	return f.snapshot(), true
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce; read Files or Staged for the current state. Call
// the returned func to unsubscribe.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()
	return ch, func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) scheduleLoop() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.kick:
			e.dispatchNext()
		}
	}
}

// rearm asks the scheduler to look at the queue again.
func (e *Engine) rearm() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// dispatchNext promotes the first queued entry unless one is already
// processing.
func (e *Engine) dispatchNext() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	var next *TrackedFile
	for _, f := range e.entries {
		if f.State == StateProcessing {
			e.mu.Unlock()
			return
		}
		if next == nil && f.State == StateQueued {
			next = f
		}
	}
	if next == nil {
		e.mu.Unlock()
		return
	}
	j := e.beginLocked(next)
	e.notifyLocked()
	e.mu.Unlock()

	e.submit(j)
}

// beginLocked moves f to Processing and binds it to a new dispatch token.
func (e *Engine) beginLocked(f *TrackedFile) job {
	f.State = StateProcessing
	f.Progress = 0
	f.StartedAt = time.Now()
	f.dispatch = shortuuid.New()

	j := job{path: f.Path, token: f.dispatch, args: Args{SourceFpath: f.Path}}
	if f.Params != nil {
		j.args.Start, j.args.End = f.Params.Start, f.Params.End
	}
	j.args.OnProgress = func(percent int) { e.progress(j.path, j.token, percent) }
	return j
}

func (e *Engine) submit(j job) {
	e.log.Info("dispatching",
		zap.String("path", j.path),
		zap.String("command", e.opts.Command),
		zap.String("dispatch", j.token))

	err := e.pool.Submit(func() {
		res, err := e.invoke(j)
		e.complete(j, res, err)
	})
	if err != nil {
		e.complete(j, Result{}, fmt.Errorf("dispatch: %w", err))
	}
}

func (e *Engine) invoke(j job) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panic: %v", r)
		}
	}()
	return e.gw.Invoke(e.ctx, e.opts.Command, j.args)
}

func (e *Engine) insertLocked(f *TrackedFile) {
	e.entries = append(e.entries, f)
	e.index[f.Path] = f
}

func (e *Engine) trackedSetLocked() map[string]struct{} {
	set := make(map[string]struct{}, len(e.entries))
	for p := range e.index {
		set[p] = struct{}{}
	}
	return set
}

func (e *Engine) notifyLocked() {
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) warnRejected(adm Admission) {
	if len(adm.Rejected) == 0 {
		return
	}
	e.log.Warn(adm.Warning(e.opts.Accepts), zap.Strings("rejected", adm.Rejected))
}

func (f *TrackedFile) snapshot() TrackedFile {
	c := *f
	if f.Params != nil {
		p := *f.Params
		c.Params = &p
	}
	c.dispatch = ""
	return c
}
