package main

import (
	"strings"
	"testing"

	"orbit-chat/internal/config"
	"orbit-chat/internal/model"
	"orbit-chat/internal/storage"
)

func TestBuildStorage(t *testing.T) {
	cases := []struct {
		name     string
		typ      string
		wantErr  bool
		wantKind string
	}{
		{name: "default", typ: "", wantKind: "*storage.MemoryStorage"},
		{name: "memory", typ: "memory", wantKind: "*storage.MemoryStorage"},
		{name: "disk", typ: "disk", wantKind: "*storage.DiskStorage"},
		{name: "redis", typ: "redis", wantKind: "*storage.RedisStorage"},
		{name: "bogus", typ: "sqlite", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Storage.Type = tc.typ
			cfg.Storage.DataDir = t.TempDir()
			st, err := buildStorage(cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for type %q", tc.typ)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildStorage: %v", err)
			}
			switch tc.wantKind {
			case "*storage.MemoryStorage":
				if _, ok := st.(*storage.MemoryStorage); !ok {
					t.Fatalf("got %T", st)
				}
			case "*storage.DiskStorage":
				if _, ok := st.(*storage.DiskStorage); !ok {
					t.Fatalf("got %T", st)
				}
			case "*storage.RedisStorage":
				if _, ok := st.(*storage.RedisStorage); !ok {
					t.Fatalf("got %T", st)
				}
			}
		})
	}
}

func TestRenderMessagePlaceholderWhileStreaming(t *testing.T) {
	var b strings.Builder
	renderMessage(&b, model.Message{Role: model.RoleAssistant, Streaming: true}, false)
	if !strings.Contains(b.String(), "...") {
		t.Fatalf("streaming placeholder missing: %q", b.String())
	}
}

func TestRenderMessageShowsContent(t *testing.T) {
	var b strings.Builder
	renderMessage(&b, model.Message{Role: model.RoleUser, Content: "hello there"}, false)
	out := b.String()
	if !strings.Contains(out, "You") || !strings.Contains(out, "hello there") {
		t.Fatalf("unexpected render: %q", out)
	}
}
