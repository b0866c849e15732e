package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/devdisp/protocol"
)

// fakeDecoder records configure and decode calls and can be told to fail.
type fakeDecoder struct {
	mu           sync.Mutex
	configured   []string
	chunks       []EncodedChunk
	events       []string // interleaved configure/decode order
	configureErr error
	decodeErr    error
	closed       bool
}

func (d *fakeDecoder) Configure(codecString string, width, height uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configureErr != nil {
		return d.configureErr
	}
	d.configured = append(d.configured, fmt.Sprintf("%s@%dx%d", codecString, width, height))
	d.events = append(d.events, "configure "+codecString)
	return nil
}

func (d *fakeDecoder) Decode(chunk EncodedChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.decodeErr != nil {
		return d.decodeErr
	}
	d.chunks = append(d.chunks, chunk)
	d.events = append(d.events, fmt.Sprintf("decode %d", len(chunk.Data)))
	return nil
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDecoder) decodedPayloads() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, 0, len(d.chunks))
	for _, c := range d.chunks {
		out = append(out, c.Data)
	}
	return out
}

func (d *fakeDecoder) snapshotEvents() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.events))
	copy(out, d.events)
	return out
}

func (d *fakeDecoder) chunkCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chunks)
}

func (d *fakeDecoder) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func TestDispatchDropsDataBeforeActivation(t *testing.T) {
	decoder := &fakeDecoder{}
	d := NewDispatcher(decoder, nil)

	err := d.Dispatch(&protocol.ScreenData{Length: 3, Data: []byte{1, 2, 3}})
	require.NoError(t, err, "pre-activation data is dropped, not an error")
	assert.Empty(t, decoder.chunks)
}

func TestDispatchInlineData(t *testing.T) {
	decoder := &fakeDecoder{}
	d := NewDispatcher(decoder, nil)

	require.NoError(t, d.Activate("vp8", 1280, 720))
	require.NoError(t, d.Dispatch(&protocol.ScreenData{Length: 3, Data: []byte{1, 2, 3}}))

	require.Len(t, decoder.chunks, 1)
	chunk := decoder.chunks[0]
	assert.Equal(t, ChunkTypeKey, chunk.Type)
	assert.Equal(t, int64(0), chunk.Timestamp)
	assert.Equal(t, []byte{1, 2, 3}, chunk.Data)
	assert.Equal(t, []string{"vp8@1280x720"}, decoder.configured)
}

// TestDispatchEmptyInlineData verifies a zero-length inline payload is
// decoded as an empty chunk rather than misread as a shared-buffer signal.
func TestDispatchEmptyInlineData(t *testing.T) {
	decoder := &fakeDecoder{}
	d := NewDispatcher(decoder, nil)

	require.NoError(t, d.Activate("vp8", 1280, 720))
	require.NoError(t, d.Dispatch(&protocol.ScreenData{Length: 0, Data: []byte{}}))

	require.Len(t, decoder.chunks, 1)
	assert.Empty(t, decoder.chunks[0].Data)
}

func TestDispatchSharedBufferData(t *testing.T) {
	decoder := &fakeDecoder{}
	buffer := []byte{9, 8, 7, 6, 5}
	d := NewDispatcher(decoder, buffer)

	require.NoError(t, d.Activate("vp8", 1280, 720))
	require.NoError(t, d.Dispatch(&protocol.ScreenData{Length: 3, Shared: true}))

	require.Len(t, decoder.chunks, 1)
	assert.Equal(t, []byte{9, 8, 7}, decoder.chunks[0].Data)
}

func TestDispatchSharedBufferMissing(t *testing.T) {
	decoder := &fakeDecoder{}
	d := NewDispatcher(decoder, nil)

	require.NoError(t, d.Activate("vp8", 1280, 720))
	err := d.Dispatch(&protocol.ScreenData{Length: 3, Shared: true})
	assert.ErrorIs(t, err, errNoSharedBuffer)
	assert.Empty(t, decoder.chunks)
}

func TestDispatchSharedBufferTooShort(t *testing.T) {
	decoder := &fakeDecoder{}
	d := NewDispatcher(decoder, make([]byte, 2))

	require.NoError(t, d.Activate("vp8", 1280, 720))
	err := d.Dispatch(&protocol.ScreenData{Length: 3, Shared: true})
	assert.ErrorIs(t, err, errSharedBufferShort)
}

func TestActivateFailureKeepsPreviousConfiguration(t *testing.T) {
	decoder := &fakeDecoder{}
	d := NewDispatcher(decoder, nil)

	decoder.configureErr = errors.New("unsupported")
	err := d.Activate("av01.00.10M.08", 1920, 1080)
	require.Error(t, err)

	// Still inactive: data keeps getting dropped.
	require.NoError(t, d.Dispatch(&protocol.ScreenData{Length: 1, Data: []byte{0}}))
	assert.Empty(t, decoder.chunks)
}

func TestDispatchWrapsDecodeError(t *testing.T) {
	decoder := &fakeDecoder{}
	d := NewDispatcher(decoder, nil)

	require.NoError(t, d.Activate("vp8", 1280, 720))
	decoder.decodeErr = fmt.Errorf("bitstream damaged: %w", ErrDecoderFatal)

	err := d.Dispatch(&protocol.ScreenData{Length: 1, Data: []byte{0}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecoderFatal, "fatality must survive wrapping")
}
