package logbuffer

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestBufferWrapsOldestFirst(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Add(Entry{Message: fmt.Sprint(i)})
	}

	var got []string
	for _, e := range b.Entries() {
		got = append(got, e.Message)
	}
	if diff := cmp.Diff([]string{"2", "3", "4"}, got); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
	if s := b.Stats(); s.Count != 3 || s.Capacity != 3 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestFind(t *testing.T) {
	base := time.Date(2026, time.May, 4, 5, 0, 0, 0, time.UTC)
	b := New(10)
	b.Add(Entry{Timestamp: base, Level: "debug", Message: "tick", Component: "status"})
	b.Add(Entry{Timestamp: base.Add(time.Second), Level: "warn", Message: "media file not found, using fallback", Component: "media", Fields: map[string]any{"item_key": "News0500"}})
	b.Add(Entry{Timestamp: base.Add(2 * time.Second), Level: "info", Message: "dispatched", Component: "dispatcher"})
	b.Add(Entry{Timestamp: base.Add(3 * time.Second), Level: "error", Message: "preload failed", Component: "preload"})

	messages := func(es []Entry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Message)
		}
		return out
	}

	cases := []struct {
		name string
		q    Query
		want []string
	}{
		{"all newest first", Query{}, []string{"preload failed", "dispatched", "media file not found, using fallback", "tick"}},
		{"min level", Query{MinLevel: zerolog.WarnLevel}, []string{"preload failed", "media file not found, using fallback"}},
		{"component", Query{Component: "dispatcher"}, []string{"dispatched"}},
		{"search fields", Query{Search: "news0500"}, []string{"media file not found, using fallback"}},
		{"since", Query{Since: base.Add(2 * time.Second)}, []string{"preload failed", "dispatched"}},
		{"limit", Query{Limit: 1}, []string{"preload failed"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, messages(b.Find(tc.q))); diff != "" {
				t.Fatalf("Find (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriterCapturesZerologLines(t *testing.T) {
	b := New(10)
	w := NewWriter(b)
	logger := zerolog.New(w).With().Timestamp().Logger()

	logger.Warn().Str("component", "live").Str("port", "system:capture_1").Msg("connect failed")
	_, _ = w.Write([]byte("not json\n"))

	entries := b.Entries()
	if len(entries) != 1 {
		t.Fatalf("captured %d entries", len(entries))
	}
	e := entries[0]
	if e.Level != "warn" || e.Component != "live" || e.Message != "connect failed" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Fields["port"] != "system:capture_1" {
		t.Fatalf("fields = %v", e.Fields)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}
