package queue

import (
	"path/filepath"
	"strings"
	"time"
)

type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateFinished   State = "finished"
	StateFailed     State = "failed"
)

func (s State) String() string { return string(s) }

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// TrimRange holds the user-supplied cut points, formatted mm:ss.mmm.
type TrimRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// TrackedFile is one entry of a tool panel's queue, keyed by Path. Log holds
// the converter's own output from the last completed call.
type TrackedFile struct {
	Path       string     `json:"path"`
	Name       string     `json:"name"`
	Ext        string     `json:"ext"`
	State      State      `json:"state"`
	Params     *TrimRange `json:"params,omitempty"`
	Progress   int        `json:"progress"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	Log        string     `json:"log,omitempty"`
	QueuedAt   time.Time  `json:"queuedAt"`
	StartedAt  time.Time  `json:"startedAt,omitzero"`
	FinishedAt time.Time  `json:"finishedAt,omitzero"`

	// dispatch identifies the gateway call currently bound to this entry.
	dispatch string
}

// StagedFile is a file waiting for trim parameters before it may be queued.
type StagedFile struct {
	Path  string `json:"path"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func newTrackedFile(path string, state State) *TrackedFile {
	return &TrackedFile{
		Path:     path,
		Name:     DisplayName(path),
		Ext:      Extension(path),
		State:    state,
		QueuedAt: time.Now(),
	}
}

// DisplayName is the last segment of path.
func DisplayName(path string) string {
	return filepath.Base(path)
}

// Extension is the lowercased text after the last dot of the file name, or
// "" when the name has no dot.
func Extension(path string) string {
	name := DisplayName(path)
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
