package logbuf

import (
	"context"
	"log/slog"
)

// Handler tees every record it handles into a Buffer before passing it on.
type Handler struct {
	next   slog.Handler
	buf    *Buffer
	attrs  []slog.Attr
	groups []string
}

func NewHandler(next slog.Handler, buf *Buffer) *Handler {
	return &Handler{next: next, buf: buf}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	meta := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(meta, "", a)
	}
	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		addAttr(meta, prefix, a)
		return true
	})
	if len(meta) == 0 {
		meta = nil
	}
	h.buf.Add(r.Level.String(), r.Message, meta)
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := groupPrefix(h.groups)
	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		next = append(next, a)
	}
	return &Handler{next: h.next.WithAttrs(attrs), buf: h.buf, attrs: next, groups: h.groups}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	return &Handler{next: h.next.WithGroup(name), buf: h.buf, attrs: h.attrs, groups: groups}
}

func groupPrefix(groups []string) string {
	prefix := ""
	for _, g := range groups {
		prefix += g + "."
	}
	return prefix
}

func addAttr(meta map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(meta, prefix+a.Key+".", ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	switch v.Kind() {
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			meta[prefix+a.Key] = err.Error()
			return
		}
		meta[prefix+a.Key] = v.Any()
	case slog.KindDuration:
		meta[prefix+a.Key] = v.Duration().String()
	default:
		meta[prefix+a.Key] = v.Any()
	}
}
