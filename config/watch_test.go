package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permitwatch.yaml")
	writeFile(t, path, "targets:"+permitTarget)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, testLogger(), func(cfg *Config) { changes <- cfg })
	}()

	updated := "log_level: debug\ntargets:" + strings.Replace(permitTarget, "name: permit", "name: permit2", 1)

	// The watcher may not be registered yet, so keep writing until a
	// reload comes through.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)

	for {
		select {
		case cfg := <-changes:
			if cfg.LogLevel != "debug" || cfg.Targets[0].Name != "permit2" {
				t.Fatalf("reloaded config = %+v", cfg)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch() error = %v", err)
			}
			return
		case <-ticker.C:
			writeFile(t, path, updated)
		case <-deadline:
			t.Fatal("no reload within 5s")
		}
	}
}

func TestWatch_IgnoresInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permitwatch.yaml")
	writeFile(t, path, "targets:"+permitTarget)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	called := make(chan struct{}, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ctx.Err() == nil {
			_ = os.WriteFile(path, []byte("targets: ["), 0o600)
			time.Sleep(50 * time.Millisecond)
		}
	}()

	err := Watch(ctx, path, testLogger(), func(*Config) { called <- struct{}{} })
	<-writerDone
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if len(called) != 0 {
		t.Errorf("onChange called %d times for invalid config", len(called))
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "permitwatch.yaml"), testLogger(), func(*Config) {})
	if err == nil {
		t.Fatal("Watch() expected error for missing directory")
	}
}
