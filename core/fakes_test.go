package orchestration

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-voiceloop/core/audio"
)

type fakeCaptureDevice struct {
	mu       sync.Mutex
	encoding audio.EncodingInfo
	openErr  error
	chunks   [][]byte
	opened   int
	streams  []*fakeCaptureStream
}

func newFakeCaptureDevice(chunks ...[]byte) *fakeCaptureDevice {
	return &fakeCaptureDevice{encoding: audio.GetDefaultEncodingInfo(), chunks: chunks}
}

func (d *fakeCaptureDevice) EncodingInfo() audio.EncodingInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encoding
}

func (d *fakeCaptureDevice) OpenCapture(_ context.Context, onAudio func([]byte)) (audio.CaptureStream, error) {
	d.mu.Lock()
	d.opened++
	if d.openErr != nil {
		err := d.openErr
		d.mu.Unlock()
		return nil, err
	}
	stream := &fakeCaptureStream{}
	d.streams = append(d.streams, stream)
	chunks := d.chunks
	d.mu.Unlock()

	for _, chunk := range chunks {
		onAudio(chunk)
	}
	return stream, nil
}

func (d *fakeCaptureDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func (d *fakeCaptureDevice) streamCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *fakeCaptureDevice) stream(i int) *fakeCaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

type fakeCaptureStream struct {
	closes atomic.Int32
}

func (s *fakeCaptureStream) Close() error {
	s.closes.Add(1)
	return nil
}

type fakePlaybackDevice struct {
	mu      sync.Mutex
	playErr error
	autoEnd bool
	plays   []audio.Clip
	ended   []func()
	stops   int
}

func (d *fakePlaybackDevice) Play(_ context.Context, clip audio.Clip, onEnded func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		return d.playErr
	}
	d.plays = append(d.plays, clip)
	d.ended = append(d.ended, onEnded)
	if d.autoEnd {
		go onEnded()
	}
	return nil
}

func (d *fakePlaybackDevice) StopPlayback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakePlaybackDevice) playCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.plays)
}

func (d *fakePlaybackDevice) stopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// end signals the end of the i-th clip the way a device would.
func (d *fakePlaybackDevice) end(i int) {
	d.mu.Lock()
	onEnded := d.ended[i]
	d.mu.Unlock()
	onEnded()
}

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   int
	results []stageResult[string]
	block   chan struct{}
}

type stageResult[T any] struct {
	value T
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ audio.Recording) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return nextResult(f.results, call)
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDialogue struct {
	mu         sync.Mutex
	calls      int
	sessionIDs []string
	messages   []string
	results    []stageResult[string]
}

func (f *fakeDialogue) Chat(_ context.Context, sessionID, message string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.sessionIDs = append(f.sessionIDs, sessionID)
	f.messages = append(f.messages, message)
	f.mu.Unlock()
	return nextResult(f.results, call)
}

func (f *fakeDialogue) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSynthesizer struct {
	mu      sync.Mutex
	calls   int
	texts   []string
	results []stageResult[audio.Clip]
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text string) (audio.Clip, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if len(f.results) == 0 {
		return audio.Clip{Data: []byte{1, 2, 3, 4}, MediaType: audio.MediaTypeWAV}, nil
	}
	return nextResult(f.results, call)
}

func (f *fakeSynthesizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// nextResult returns the result for the n-th call; the last one repeats.
func nextResult[T any](results []stageResult[T], call int) (T, error) {
	if len(results) == 0 {
		var zero T
		return zero, nil
	}
	if call > len(results) {
		call = len(results)
	}
	result := results[call-1]
	return result.value, result.err
}

type fakeIdentity struct {
	id  string
	err error
}

func (f fakeIdentity) ID() (string, error) { return f.id, f.err }

type fakeReportService struct {
	mu        sync.Mutex
	fields    json.RawMessage
	document  []byte
	err       error
	sessionID string
	generated json.RawMessage
}

func (f *fakeReportService) SessionFields(_ context.Context, sessionID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = sessionID
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

func (f *fakeReportService) GenerateReport(_ context.Context, fields json.RawMessage) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = fields
	return f.document, nil
}

type fakeReportSink struct {
	mu    sync.Mutex
	saved [][]byte
}

func (f *fakeReportSink) Save(document []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, document)
	return "/tmp/report.docx", nil
}

func (f *fakeReportSink) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
