package server

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/NERVsystems/osm2vcf/pkg/export"
	"github.com/NERVsystems/osm2vcf/pkg/osm"
)

// stubExporter answers every export with result or err
type stubExporter struct {
	mu     sync.Mutex
	refs   []osm.ObjectRef
	result *export.Result
	err    error
}

func (s *stubExporter) Export(ctx context.Context, ref osm.ObjectRef) (*export.Result, error) {
	s.mu.Lock()
	s.refs = append(s.refs, ref)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := *s.result
	out.Ref = ref
	out.Filename = ref.Filename()
	return &out, nil
}

func (s *stubExporter) calls() []osm.ObjectRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]osm.ObjectRef(nil), s.refs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewServer(t *testing.T) {
	s := NewServer(testLogger(), &stubExporter{})
	if s.GetMCPServer() == nil {
		t.Fatal("expected an MCP server")
	}

	names := s.ToolNames()
	for _, want := range []string{"export_vcard", "get_version"} {
		if !slices.Contains(names, want) {
			t.Errorf("tool %s missing from %v", want, names)
		}
	}
}

func TestServerShutdownBeforeRun(t *testing.T) {
	s := NewServer(testLogger(), &stubExporter{})

	// Not running yet, so this must be a no-op
	s.Shutdown()

	select {
	case <-s.stopCh:
		t.Fatal("stop channel closed for a server that never ran")
	default:
	}
}

func TestServerContextCancelStopsRun(t *testing.T) {
	s := NewServer(testLogger(), &stubExporter{})

	ctx, cancel := context.WithCancel(context.Background())
	s.ctxGoroutine.Do(func() {
		derived, cancelDerived := context.WithCancel(ctx)
		s.ctxCancel = cancelDerived
		go func() {
			select {
			case <-derived.Done():
				s.Shutdown()
			case <-s.stopCh:
			}
		}()
	})

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	cancel()

	select {
	case <-s.stopCh:
	case <-time.After(2 * time.Second):
		t.Fatal("context cancellation did not signal shutdown")
	}
}
