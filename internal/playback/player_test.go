package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquavoice/internal/domain"
	"aquavoice/internal/ports"
)

func TestPlayerPlaysToCompletion(t *testing.T) {
	t.Parallel()

	media := newFakeMedia()
	backend := &fakeBackend{sessions: []*fakeMedia{media}}
	p := NewPlayer(backend, nil)
	p.Initialize()

	p.PlayURL(context.Background(), "https://example.test/reply.mp3")
	waitForState(t, p, domain.PlaybackPlaying)
	assert.Equal(t, []string{"https://example.test/reply.mp3"}, backend.loadedURLs())

	media.finish(nil)
	waitForState(t, p, domain.PlaybackCompleted)
}

func TestPlayerBufferingIsPublishedBeforeLoad(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	backend := &fakeBackend{sessions: []*fakeMedia{newFakeMedia()}, gate: release}
	p := NewPlayer(backend, nil)
	p.Initialize()

	p.PlayURL(context.Background(), "https://example.test/slow.mp3")
	assert.Equal(t, domain.PlaybackBuffering, p.State().Kind)

	close(release)
	waitForState(t, p, domain.PlaybackPlaying)
}

func TestPlayerLoadFailureIsError(t *testing.T) {
	t.Parallel()

	p := NewPlayer(&fakeBackend{err: errors.New("404 not found")}, nil)
	p.Initialize()
	p.PlayURL(context.Background(), "https://example.test/missing.mp3")

	waitForState(t, p, domain.PlaybackError)
	assert.Equal(t, "404 not found", p.State().Message)
}

func TestPlayerDecodeFailureIsError(t *testing.T) {
	t.Parallel()

	media := newFakeMedia()
	p := NewPlayer(&fakeBackend{sessions: []*fakeMedia{media}}, nil)
	p.Initialize()
	p.PlayURL(context.Background(), "https://example.test/bad.mp3")
	waitForState(t, p, domain.PlaybackPlaying)

	media.finish(errors.New("invalid data found when processing input"))
	waitForState(t, p, domain.PlaybackError)
}

func TestPlayerTransportControlsEmitImmediately(t *testing.T) {
	t.Parallel()

	media := newFakeMedia()
	p := NewPlayer(&fakeBackend{sessions: []*fakeMedia{media}}, nil)
	p.Initialize()
	p.PlayURL(context.Background(), "https://example.test/reply.mp3")
	waitForState(t, p, domain.PlaybackPlaying)

	p.Pause()
	assert.Equal(t, domain.PlaybackPaused, p.State().Kind)
	p.Resume()
	assert.Equal(t, domain.PlaybackPlaying, p.State().Kind)
	p.Stop()
	assert.Equal(t, domain.PlaybackIdle, p.State().Kind)
	assert.Equal(t, 1, media.pauses())
	assert.Equal(t, 1, media.stops())

	// The stopped session finishing late must not surface as Completed.
	media.finish(nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.PlaybackIdle, p.State().Kind)
}

func TestPlayerNewURLReplacesCurrent(t *testing.T) {
	t.Parallel()

	first, second := newFakeMedia(), newFakeMedia()
	p := NewPlayer(&fakeBackend{sessions: []*fakeMedia{first, second}}, nil)
	p.Initialize()

	p.PlayURL(context.Background(), "https://example.test/one.mp3")
	waitForState(t, p, domain.PlaybackPlaying)
	p.PlayURL(context.Background(), "https://example.test/two.mp3")

	require.Eventually(t, func() bool { return first.stops() == 1 }, time.Second, 5*time.Millisecond)
	first.finish(nil)
	waitForState(t, p, domain.PlaybackPlaying)

	second.finish(nil)
	waitForState(t, p, domain.PlaybackCompleted)
}

func TestPlayerCallsBeforeInitializeAreNoops(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{sessions: []*fakeMedia{newFakeMedia()}}
	p := NewPlayer(backend, nil)

	p.PlayURL(context.Background(), "https://example.test/reply.mp3")
	p.Pause()
	p.Stop()
	assert.Empty(t, backend.loadedURLs())
	assert.Equal(t, domain.PlaybackIdle, p.State().Kind)
}

func TestPlayerReleaseThenInitialize(t *testing.T) {
	t.Parallel()

	first, second := newFakeMedia(), newFakeMedia()
	backend := &fakeBackend{sessions: []*fakeMedia{first, second}}
	p := NewPlayer(backend, nil)
	p.Initialize()
	p.Initialize()

	p.PlayURL(context.Background(), "https://example.test/one.mp3")
	waitForState(t, p, domain.PlaybackPlaying)

	p.Release()
	assert.Equal(t, domain.PlaybackIdle, p.State().Kind)
	assert.Equal(t, 1, first.stops())

	p.PlayURL(context.Background(), "https://example.test/ignored.mp3")
	assert.Len(t, backend.loadedURLs(), 1)

	p.Initialize()
	p.PlayURL(context.Background(), "https://example.test/two.mp3")
	waitForState(t, p, domain.PlaybackPlaying)
	assert.Len(t, backend.loadedURLs(), 2)
}

func waitForState(t *testing.T, p *Player, kind domain.PlaybackKind) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.State().Kind == kind
	}, time.Second, 5*time.Millisecond, "expected playback state %s, got %s", kind, p.State().Kind)
}

type fakeBackend struct {
	mu       sync.Mutex
	sessions []*fakeMedia
	urls     []string
	err      error
	gate     chan struct{}
}

func (b *fakeBackend) Load(ctx context.Context, url string) (ports.MediaSession, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls = append(b.urls, url)
	if b.err != nil {
		return nil, b.err
	}
	next := b.sessions[0]
	b.sessions = b.sessions[1:]
	return next, nil
}

func (b *fakeBackend) loadedURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.urls...)
}

type fakeMedia struct {
	done chan error
	once sync.Once

	mu         sync.Mutex
	pauseCount int
	stopCount  int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{done: make(chan error, 1)}
}

func (m *fakeMedia) finish(err error) {
	m.once.Do(func() { m.done <- err })
}

func (m *fakeMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCount++
	return nil
}

func (m *fakeMedia) Resume() error { return nil }

func (m *fakeMedia) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCount++
	return nil
}

func (m *fakeMedia) Wait() error { return <-m.done }

func (m *fakeMedia) pauses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseCount
}

func (m *fakeMedia) stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}
