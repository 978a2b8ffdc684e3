package metrics

import (
	"context"
	"io"
	"log/slog"
	"sort"
)

// JSONLObserver writes one JSON object per event, suitable for shipping to
// a log pipeline.
type JSONLObserver struct {
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("event_time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	if id := ev.Tags[TagCallID]; id != "" {
		attrs = append(attrs, slog.String(TagCallID, id))
	}
	keys := make([]string, 0, len(ev.Tags))
	for k := range ev.Tags {
		if k != TagCallID {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	tags := make([]any, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, slog.String(k, ev.Tags[k]))
	}
	if len(tags) > 0 {
		attrs = append(attrs, slog.Group("tags", tags...))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.logger.LogAttrs(context.Background(), slog.LevelInfo, "metrics", attrs...)
}
