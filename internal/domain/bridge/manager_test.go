package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarques81/castbridge/internal/audio"
	"github.com/edumarques81/castbridge/internal/domain/renderer"
	"github.com/edumarques81/castbridge/internal/domain/renderer/renderertest"
	"github.com/edumarques81/castbridge/internal/domain/source/sourcetest"
)

func newTestManager(t *testing.T) (*Manager, *sourcetest.Backend) {
	t.Helper()
	sel, err := audio.NewSelector(audio.DefaultPriority)
	require.NoError(t, err)
	backend := sourcetest.New("alsa_output.speakers")
	return NewManager(backend, sel, WithConfirmPolls(3, time.Millisecond)), backend
}

func TestSinkName(t *testing.T) {
	tests := []struct {
		id       string
		expected string
	}{
		{"uuid:5F9EC1B3-ED59-79BB-4530-745E7A0D2A4F", "castbridge_5f9ec1b3_ed59_79bb_4530_745e7a0d2a4f"},
		{"living room", "castbridge_living_room"},
		{"abc123", "castbridge_abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.expected, SinkName(tt.id))
			assert.Equal(t, SinkName(tt.id), SinkName(tt.id))
		})
	}
}

func TestCreateBridge(t *testing.T) {
	m, backend := newTestManager(t)
	r := renderertest.New("uuid:kitchen", "Kitchen")

	b, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, "uuid:kitchen", b.ID())
	assert.Equal(t, "castbridge_kitchen", b.SinkPath())
	assert.Equal(t, "castbridge_kitchen.monitor", b.Sink().Monitor)
	assert.Equal(t, "101", b.Sink().Module)
	assert.Equal(t, renderer.StateStopped, b.State())
	assert.Equal(t, "flac", b.Codec().Name)
	assert.Equal(t, []string{"castbridge_kitchen"}, backend.Created)
	assert.Equal(t, 1, m.Len())

	view := b.View()
	assert.Equal(t, "Kitchen", view.Name)
	assert.Equal(t, "STOPPED", view.State)
	assert.Equal(t, "audio/flac", view.MimeType)
	assert.Equal(t, "Kitchen (dlna)", view.SinkLabel)
}

func TestCreateBridgeTwiceReturnsExisting(t *testing.T) {
	m, backend := newTestManager(t)
	r := renderertest.New("uuid:kitchen", "Kitchen")

	first, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)
	second, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, backend.Created, 1)
}

func TestCreateBridgeConcurrent(t *testing.T) {
	m, backend := newTestManager(t)
	r := renderertest.New("uuid:kitchen", "Kitchen")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Bridge, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := m.CreateBridge(context.Background(), r)
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	for _, b := range results {
		assert.Same(t, results[0], b)
	}
	assert.Equal(t, 1, m.Len())
	assert.Len(t, backend.Created, 1)
}

func TestCreateBridgeUnconfirmed(t *testing.T) {
	m, backend := newTestManager(t)
	backend.HideCreatedSinks(true)

	_, err := m.CreateBridge(context.Background(), renderertest.New("uuid:attic", "Attic"))
	require.Error(t, err)

	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Equal(t, "uuid:attic", allocErr.RendererID)
	assert.ErrorIs(t, err, ErrSinkNotConfirmed)

	// 3 confirmation polls, then the half-created module is unloaded
	assert.Equal(t, 3, backend.QueryCount())
	assert.Equal(t, []string{"101"}, backend.DestroyedModules())
	assert.Equal(t, 0, m.Len())
}

func TestCreateBridgeNoCodec(t *testing.T) {
	sel, err := audio.NewSelector([]string{"opus"})
	require.NoError(t, err)
	backend := sourcetest.New("")
	m := NewManager(backend, sel)

	_, err = m.CreateBridge(context.Background(), renderertest.New("uuid:tv", "TV"))
	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Empty(t, backend.Created)
}

func TestDestroyBridgeIdempotent(t *testing.T) {
	m, backend := newTestManager(t)
	b, err := m.CreateBridge(context.Background(), renderertest.New("uuid:kitchen", "Kitchen"))
	require.NoError(t, err)

	m.DestroyBridge(context.Background(), b)
	m.DestroyBridge(context.Background(), b)

	assert.Equal(t, []string{"101"}, backend.DestroyedModules())
	assert.True(t, b.Retired())
	_, ok := m.Get("uuid:kitchen")
	assert.False(t, ok)
}

func TestRecreateAfterDestroyUsesSameName(t *testing.T) {
	m, backend := newTestManager(t)
	r := renderertest.New("uuid:kitchen", "Kitchen")

	b, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)
	m.DestroyBridge(context.Background(), b)

	again, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)
	assert.NotSame(t, b, again)
	assert.Equal(t, b.SinkPath(), again.SinkPath())
	assert.Equal(t, []string{"castbridge_kitchen", "castbridge_kitchen"}, backend.Created)
}

func TestDestroyAll(t *testing.T) {
	m, backend := newTestManager(t)
	for _, id := range []string{"uuid:a", "uuid:b"} {
		_, err := m.CreateBridge(context.Background(), renderertest.New(id, id))
		require.NoError(t, err)
	}

	m.DestroyAll(context.Background())
	assert.Equal(t, 0, m.Len())
	assert.Len(t, backend.DestroyedModules(), 2)
}

func TestRecreateAfterFailedDestroyUnloadsStaleSink(t *testing.T) {
	m, backend := newTestManager(t)
	r := renderertest.New("uuid:kitchen", "Kitchen")

	b, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)

	backend.FailNextDestroys(1)
	m.DestroyBridge(context.Background(), b)
	assert.Empty(t, backend.DestroyedModules())
	assert.Equal(t, 1, backend.SinkCount("castbridge_kitchen"))

	again, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, backend.DestroyedModules())
	assert.Equal(t, "102", again.Sink().Module)
	assert.Equal(t, 1, backend.SinkCount("castbridge_kitchen"))
}

func TestRecreateFailsWhileStaleSinkLoaded(t *testing.T) {
	m, backend := newTestManager(t)
	r := renderertest.New("uuid:kitchen", "Kitchen")

	b, err := m.CreateBridge(context.Background(), r)
	require.NoError(t, err)

	backend.FailNextDestroys(2)
	m.DestroyBridge(context.Background(), b)

	_, err = m.CreateBridge(context.Background(), r)
	var allocErr *AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Len(t, backend.Created, 1)
	assert.Equal(t, 0, m.Len())
}

func TestDestroyAllRetriesStaleSinks(t *testing.T) {
	m, backend := newTestManager(t)
	b, err := m.CreateBridge(context.Background(), renderertest.New("uuid:kitchen", "Kitchen"))
	require.NoError(t, err)

	backend.FailNextDestroys(1)
	m.DestroyBridge(context.Background(), b)
	m.DestroyAll(context.Background())

	assert.Equal(t, []string{"101"}, backend.DestroyedModules())
	assert.Equal(t, 0, backend.SinkCount("castbridge_kitchen"))
}
