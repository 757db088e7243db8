package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go-mdpreview/internal/contracts"
	"go-mdpreview/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const testQuiet = 50 * time.Millisecond

type recordingRenderer struct {
	failOn string

	mu     sync.Mutex
	inputs []string
}

func (r *recordingRenderer) ConvertFragment(source []byte) (string, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, string(source))
	r.mu.Unlock()

	if r.failOn != "" && strings.Contains(string(source), r.failOn) {
		return "", errors.New("malformed document")
	}
	return "<p>" + strings.TrimSpace(string(source)) + "</p>", nil
}

func (r *recordingRenderer) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	payloads []string
}

func (d *recordingDispatcher) Broadcast(payload []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, string(payload))
	return 1
}

func (d *recordingDispatcher) received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.payloads...)
}

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func startPipeline(t *testing.T, policy contracts.Policy, r *recordingRenderer) (*Pipeline, *recordingDispatcher, string) {
	t.Helper()

	doc := filepath.Join(t.TempDir(), "README.md")
	writeDoc(t, doc, "v0")

	d := &recordingDispatcher{}
	p := NewPipeline(PipelineConfig{
		Document:   Document{Path: doc},
		Renderer:   r,
		Dispatcher: d,
		Policy:     policy,
		Quiet:      testQuiet,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p, d, doc
}

func TestPipelineCoalescesBursts(t *testing.T) {
	r := &recordingRenderer{}
	p, d, doc := startPipeline(t, contracts.PolicyFragment, r)

	for i := 1; i <= 10; i++ {
		writeDoc(t, doc, fmt.Sprintf("v%d", i))
		p.OnChange()
	}

	require.Eventually(t, func() bool { return len(d.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(3 * testQuiet)

	assert.Equal(t, 1, r.calls(), "a burst renders once")
	assert.Equal(t, []string{"<p>v10</p>"}, d.received(), "the render reflects the last event")
}

func TestPipelineSeparateBursts(t *testing.T) {
	r := &recordingRenderer{}
	p, d, doc := startPipeline(t, contracts.PolicyFragment, r)

	writeDoc(t, doc, "first")
	p.OnChange()
	require.Eventually(t, func() bool { return len(d.received()) == 1 }, 2*time.Second, 5*time.Millisecond)

	writeDoc(t, doc, "second")
	p.OnChange()
	require.Eventually(t, func() bool { return len(d.received()) == 2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"<p>first</p>", "<p>second</p>"}, d.received())
}

func TestPipelineReloadPolicy(t *testing.T) {
	p, d, doc := startPipeline(t, contracts.PolicyReload, &recordingRenderer{})

	writeDoc(t, doc, "# changed")
	p.OnChange()

	require.Eventually(t, func() bool { return len(d.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{contracts.ReloadSentinel}, d.received())
}

func TestPipelineSurvivesRenderErrors(t *testing.T) {
	r := &recordingRenderer{failOn: "BROKEN"}
	p, d, doc := startPipeline(t, contracts.PolicyFragment, r)

	writeDoc(t, doc, "good")
	p.OnChange()
	require.Eventually(t, func() bool { return len(d.received()) == 1 }, 2*time.Second, 5*time.Millisecond)

	writeDoc(t, doc, "BROKEN table")
	p.OnChange()
	require.Eventually(t, func() bool { return r.calls() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(2 * testQuiet)

	// Clients keep the last good content; nothing corrupt is sent.
	assert.Equal(t, []string{"<p>good</p>"}, d.received())

	// The pipeline stays armed for the next change.
	writeDoc(t, doc, "fixed")
	p.OnChange()
	require.Eventually(t, func() bool { return len(d.received()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "<p>fixed</p>", d.received()[1])
}

func TestPipelineSkipsUnreadableDocument(t *testing.T) {
	r := &recordingRenderer{}
	p, d, doc := startPipeline(t, contracts.PolicyFragment, r)

	require.NoError(t, os.Remove(doc))
	p.OnChange()
	time.Sleep(3 * testQuiet)
	assert.Empty(t, d.received())
	assert.Equal(t, 0, r.calls())

	writeDoc(t, doc, "back")
	p.OnChange()
	require.Eventually(t, func() bool { return len(d.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPipelineCancelDropsPendingRender(t *testing.T) {
	r := &recordingRenderer{}
	doc := filepath.Join(t.TempDir(), "README.md")
	writeDoc(t, doc, "v0")

	d := &recordingDispatcher{}
	p := NewPipeline(PipelineConfig{
		Document:   Document{Path: doc},
		Renderer:   r,
		Dispatcher: d,
		Policy:     contracts.PolicyReload,
		Quiet:      time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	p.OnChange()
	cancel()
	<-done

	assert.Equal(t, 0, r.calls())
	assert.Empty(t, d.received())
}

func TestDocumentName(t *testing.T) {
	assert.Equal(t, "a&b<.md", Document{Path: "/tmp/docs/a&b<.md"}.Name())
}

func TestPipelineTracesRenders(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	doc := filepath.Join(t.TempDir(), "README.md")
	writeDoc(t, doc, "ok")

	d := &recordingDispatcher{}
	r := &recordingRenderer{failOn: "BROKEN"}
	p := NewPipeline(PipelineConfig{
		Document:       Document{Path: doc},
		Renderer:       r,
		Dispatcher:     d,
		Policy:         contracts.PolicyFragment,
		Quiet:          testQuiet,
		TracerProvider: tp,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	p.OnChange()
	require.Eventually(t, func() bool { return len(d.received()) == 1 }, 2*time.Second, 5*time.Millisecond)

	writeDoc(t, doc, "BROKEN")
	p.OnChange()
	require.Eventually(t, func() bool { return len(recorder.Ended()) == 2 }, 2*time.Second, 5*time.Millisecond)

	spans := recorder.Ended()
	for _, span := range spans {
		assert.Equal(t, "render", span.Name())
		assert.Contains(t, span.Attributes(), attribute.String("mdpreview.document", doc))
		assert.Contains(t, span.Attributes(), attribute.String("mdpreview.source", metrics.SourceWatch))
	}
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "malformed document", spans[1].Status().Description)
}
