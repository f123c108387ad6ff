// Package logbridge lets Go components write diagnostic entries through the
// standard log/slog API.
package logbridge

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
)

// CategoryKey is the attribute that overrides the entry category.
const CategoryKey = "category"

// Recorder receives entries. *engine.Store implements it.
type Recorder interface {
	Log(model.LogEntry)
}

type Options struct {
	// Category is used when no "category" attribute is present. Defaults to
	// "app".
	Category string
	// AddSource records the caller as "source" metadata.
	AddSource bool
}

// Handler is a slog.Handler that converts every record into a LogEntry.
type Handler struct {
	rec       Recorder
	addSource bool
	category  string
	prefix    string
	meta      map[string]string
}

func NewHandler(rec Recorder, opts Options) *Handler {
	if opts.Category == "" {
		opts.Category = "app"
	}
	return &Handler{rec: rec, addSource: opts.AddSource, category: opts.Category}
}

// Level maps a slog level to the store level it is recorded at.
func Level(l slog.Level) model.Level {
	switch {
	case l >= slog.LevelInfo:
		return model.LevelBasic
	case l >= slog.LevelDebug:
		return model.LevelDetailed
	default:
		return model.LevelFull
	}
}

// Enabled reports true for every level; the store filters at read time.
func (h *Handler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	category := h.category
	meta := make(map[string]string, len(h.meta)+r.NumAttrs()+1)
	maps.Copy(meta, h.meta)

	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == CategoryKey {
			category = a.Value.Resolve().String()
			return true
		}
		flatten(meta, h.prefix, a)
		return true
	})

	if h.addSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		meta["source"] = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	if len(meta) == 0 {
		meta = nil
	}

	h.rec.Log(model.LogEntry{
		Timestamp: model.Timestamp(r.Time),
		Level:     Level(r.Level),
		Category:  category,
		Message:   r.Message,
		Metadata:  meta,
	})
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		if h2.prefix == "" && a.Key == CategoryKey {
			h2.category = a.Value.Resolve().String()
			continue
		}
		flatten(h2.meta, h2.prefix, a)
	}
	return h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + name + "."
	return h2
}

func (h *Handler) clone() *Handler {
	h2 := *h
	h2.meta = maps.Clone(h.meta)
	if h2.meta == nil {
		h2.meta = make(map[string]string)
	}
	return &h2
}

// flatten writes a into meta, expanding groups into dotted keys.
func flatten(meta map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		group := v.Group()
		if len(group) == 0 {
			return
		}
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range group {
			flatten(meta, prefix, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	meta[prefix+a.Key] = v.String()
}
