// Package tools defines the conversion panels vtools offers and keeps one
// queue engine per panel.
package tools

import (
	"context"
	"errors"
	"fmt"

	"vtools/ffmpeg"
	"vtools/queue"

	"go.uber.org/zap"
)

var ErrUnknownTool = errors.New("unknown tool")

// Tool describes one panel.
type Tool struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Command string     `json:"command"`
	Mode    queue.Mode `json:"mode"`
	Accepts []string   `json:"accepts"`
}

// Builtin is the fixed tool list, in display order.
var Builtin = []Tool{
	{ID: "trim", Title: "Precise trim", Command: ffmpeg.CmdEncodeAndTrim, Mode: queue.ModeSerial},
	{ID: "flv2mp4", Title: "FLV to MP4", Command: ffmpeg.CmdFlv2Mp4, Mode: queue.ModeParallel, Accepts: []string{"flv"}},
	{ID: "extract-audio", Title: "Extract audio", Command: ffmpeg.CmdExtractAudio, Mode: queue.ModeParallel, Accepts: []string{"mp4"}},
	{ID: "bili-hires", Title: "Bilibili hi-res audio", Command: ffmpeg.CmdEncodeBiliHiRes, Mode: queue.ModeParallel, Accepts: []string{"mp4"}},
}

// Registry holds one engine per tool over a shared gateway.
type Registry struct {
	tools   []Tool
	engines map[string]*queue.Engine
}

func NewRegistry(gw queue.Gateway, policy queue.Policy, logger *zap.Logger, list ...Tool) (*Registry, error) {
	if len(list) == 0 {
		list = Builtin
	}
	r := &Registry{engines: make(map[string]*queue.Engine, len(list))}
	for _, t := range list {
		if _, dup := r.engines[t.ID]; dup {
			r.Close()
			return nil, fmt.Errorf("duplicate tool id %q", t.ID)
		}
		e, err := queue.NewEngine(gw, queue.Options{
			Name:    t.ID,
			Command: t.Command,
			Mode:    t.Mode,
			Accepts: t.Accepts,
			Policy:  policy,
			Logger:  logger,
		})
		if err != nil {
			r.Close()
			return nil, err
		}
		r.tools = append(r.tools, t)
		r.engines[t.ID] = e
	}
	return r, nil
}

func (r *Registry) Start(ctx context.Context) {
	for _, t := range r.tools {
		r.engines[t.ID].Start(ctx)
	}
}

func (r *Registry) Close() {
	for _, e := range r.engines {
		e.Close()
	}
}

// Tools returns the tool list in display order.
func (r *Registry) Tools() []Tool {
	return append([]Tool(nil), r.tools...)
}

func (r *Registry) Tool(id string) (Tool, *queue.Engine, error) {
	for _, t := range r.tools {
		if t.ID == id {
			return t, r.engines[id], nil
		}
	}
	return Tool{}, nil, fmt.Errorf("%w: %q", ErrUnknownTool, id)
}
