package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zlHandler adapts the shared zerolog logger to slog.Handler so pipeline
// components can depend on *slog.Logger. The request-scoped fields carried
// on the context (request_id, component, provider, tile) are stamped onto
// every record, and slog groups flatten into dotted keys to match the flat
// JSON zerolog emits.
type zlHandler struct {
	zl    *zerolog.Logger
	attrs []slog.Attr
	group string
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&zlHandler{zl: zl})
}

func (h *zlHandler) Enabled(_ context.Context, l slog.Level) bool {
	return zlLevel(l) >= zerolog.GlobalLevel()
}

func (h *zlHandler) Handle(ctx context.Context, r slog.Record) error {
	var ev *zerolog.Event
	switch {
	case r.Level <= slog.LevelDebug:
		ev = h.zl.Debug()
	case r.Level >= slog.LevelError:
		ev = h.zl.Error()
	case r.Level >= slog.LevelWarn:
		ev = h.zl.Warn()
	default:
		ev = h.zl.Info()
	}

	for _, key := range []ctxKey{ctxReqIDKey, ctxComponent, ctxProviderKey, ctxTileKey} {
		if s, ok := ctx.Value(key).(string); ok && s != "" {
			ev = ev.Str(string(key), s)
		}
	}

	// Attrs accumulated via With() carry their group prefix already.
	for _, a := range h.attrs {
		ev = addAttr(ev, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = addAttr(ev, a, h.group)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

func (h *zlHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.group + a.Key
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *zlHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.group = h.group + name + "."
	return &cp
}

func addAttr(ev *zerolog.Event, a slog.Attr, prefix string) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Str(key, a.Value.Duration().String())
	case slog.KindGroup:
		for _, sub := range a.Value.Group() {
			ev = addAttr(ev, sub, key+".")
		}
		return ev
	default:
		return ev.Interface(key, a.Value.Any())
	}
}

func zlLevel(l slog.Level) zerolog.Level {
	switch {
	case l <= slog.LevelDebug:
		return zerolog.DebugLevel
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
