package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/devdisp/codec"
	"github.com/opd-ai/devdisp/negotiation"
	"github.com/opd-ai/devdisp/protocol"
	"github.com/opd-ai/devdisp/transport"
)

const awaitTimeout = 2 * time.Second

// tableOracle answers capability queries from a fixed table.
type tableOracle struct {
	supported map[string]negotiation.SupportInfo
}

func (o tableOracle) IsConfigSupported(_ context.Context, codecString string, _, _ uint32) (negotiation.SupportInfo, error) {
	return o.supported[codecString], nil
}

// sourceDriver plays the source end of a connection for tests, over the
// other half of a net.Pipe.
type sourceDriver struct {
	t     *testing.T
	tr    *transport.StreamTransport
	inbox map[protocol.MessageType]chan *protocol.Message
}

func newSourceDriver(t *testing.T, conn io.ReadWriteCloser) *sourceDriver {
	t.Helper()
	d := &sourceDriver{
		t:     t,
		tr:    transport.NewStreamTransport(conn),
		inbox: make(map[protocol.MessageType]chan *protocol.Message),
	}
	for _, mt := range []protocol.MessageType{
		protocol.MessageResponsePreInit,
		protocol.MessageResponseDeviceInformation,
		protocol.MessageResponseProtocolInit,
		protocol.MessageDisplayParametersUpdate,
		protocol.MessageEncodingPreference,
		protocol.MessageSetEncodingAck,
		protocol.MessageClose,
	} {
		ch := make(chan *protocol.Message, 4)
		d.inbox[mt] = ch
		d.tr.RegisterHandler(mt, func(msg *protocol.Message) { ch <- msg })
	}
	d.tr.Start()
	t.Cleanup(func() { _ = d.tr.Close() })
	return d
}

func (d *sourceDriver) send(mt protocol.MessageType, payload any) {
	d.t.Helper()
	require.NoError(d.t, d.tr.Send(mt, payload))
}

func (d *sourceDriver) await(mt protocol.MessageType) *protocol.Message {
	d.t.Helper()
	select {
	case msg := <-d.inbox[mt]:
		return msg
	case <-time.After(awaitTimeout):
		d.t.Fatalf("timed out waiting for %s", mt)
		return nil
	}
}

type testHarness struct {
	session *Session
	decoder *fakeDecoder
	driver  *sourceDriver

	mu          sync.Mutex
	states      []string
	disconnects []DisconnectInfo
	configured  []negotiation.Accepted
	decodeErrs  []error
}

func (h *testHarness) disconnectInfo(t *testing.T) DisconnectInfo {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.disconnects) > 0
	}, awaitTimeout, 10*time.Millisecond, "no disconnect notification")

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.disconnects, 1, "disconnect must fire exactly once")
	return h.disconnects[0]
}

func newTestHarness(t *testing.T, configure func(*Config)) *testHarness {
	t.Helper()

	clientConn, sourceConn := net.Pipe()
	h := &testHarness{decoder: &fakeDecoder{}}

	config := Config{
		DeviceName:       "Test Panel",
		DeviceResolution: [2]uint32{1080, 2400},
		Decoder:          h.decoder,
		Oracle: tableOracle{supported: map[string]negotiation.SupportInfo{
			"vp8":            {Supported: true},
			"av01.00.10M.08": {Supported: true, CodedWidth: 1920, CodedHeight: 1088},
		}},
	}
	if configure != nil {
		configure(&config)
	}

	s, err := New(transport.NewStreamTransport(clientConn), config)
	require.NoError(t, err)
	h.session = s

	s.OnStateChange(func(previous, current State) {
		h.mu.Lock()
		h.states = append(h.states, fmt.Sprintf("%s->%s", previous, current))
		h.mu.Unlock()
	})
	s.OnDisconnect(func(info DisconnectInfo) {
		h.mu.Lock()
		h.disconnects = append(h.disconnects, info)
		h.mu.Unlock()
	})
	s.OnEncodingConfigured(func(accepted negotiation.Accepted) {
		h.mu.Lock()
		h.configured = append(h.configured, accepted)
		h.mu.Unlock()
	})
	s.OnDecodeError(func(err error) {
		h.mu.Lock()
		h.decodeErrs = append(h.decodeErrs, err)
		h.mu.Unlock()
	})

	h.driver = newSourceDriver(t, sourceConn)
	s.Start()
	t.Cleanup(func() { _ = s.Close() })
	return h
}

// runHandshake drives pre-init through display parameters.
func runHandshake(t *testing.T, h *testHarness) {
	t.Helper()

	h.driver.send(protocol.MessageRequestPreInit, nil)
	h.driver.await(protocol.MessageResponsePreInit)

	h.driver.send(protocol.MessageRequestDeviceInformation, nil)
	var info protocol.DeviceInfo
	require.NoError(t, h.driver.await(protocol.MessageResponseDeviceInformation).Decode(&info))
	assert.Equal(t, "Test Panel", info.Name)
	assert.Equal(t, [2]uint32{1080, 2400}, info.Resolution)

	h.driver.send(protocol.MessageRequestProtocolInit, protocol.ProtocolInit{InitKey: "k-1138"})
	var echo protocol.ProtocolInit
	require.NoError(t, h.driver.await(protocol.MessageResponseProtocolInit).Decode(&echo))
	assert.Equal(t, "k-1138", echo.InitKey, "init key must be echoed verbatim")

	h.driver.send(protocol.MessageRequestDisplayParameters, nil)
	var params protocol.DisplayParameters
	require.NoError(t, h.driver.await(protocol.MessageDisplayParametersUpdate).Decode(&params))
	assert.Equal(t, "Test Panel", params.Name)
	assert.Equal(t, StateNegotiating, h.session.State())
}

// negotiate sends the offer and returns the accepted configurations.
func negotiate(t *testing.T, h *testHarness, offer ...protocol.EncoderConfiguration) []protocol.EncoderConfiguration {
	t.Helper()

	h.driver.send(protocol.MessageRequestPreferredEncoding, protocol.EncodingOffer{Configurations: offer})
	var preference protocol.EncodingPreference
	require.NoError(t, h.driver.await(protocol.MessageEncodingPreference).Decode(&preference))
	return preference.Accepted
}

// setEncoding commits a configuration and returns the ack flag.
func setEncoding(t *testing.T, h *testHarness, config protocol.EncoderConfiguration) bool {
	t.Helper()

	h.driver.send(protocol.MessageSetEncoding, config)
	var ack protocol.SetEncodingAck
	require.NoError(t, h.driver.await(protocol.MessageSetEncodingAck).Decode(&ack))
	return ack.OK
}

func vp8Config() protocol.EncoderConfiguration {
	return protocol.EncoderConfiguration{
		EncoderName:       "libvpx",
		EncoderFamily:     codec.IDVP8,
		EncodedResolution: [2]uint32{1280, 720},
	}
}

func av1Config() protocol.EncoderConfiguration {
	return protocol.EncoderConfiguration{
		EncoderName:       "libaom-av1",
		EncoderFamily:     codec.IDAV1,
		EncodedResolution: [2]uint32{1920, 1080},
		Parameters: map[string]any{
			"profile": 0, "level": 10, "tier": "M", "bitDepth": 8,
		},
	}
}

func TestSessionHandshakeToStreaming(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	assert.False(t, h.session.NegotiationAttempted())
	accepted := negotiate(t, h, vp8Config(), av1Config())
	require.Len(t, accepted, 2)
	assert.True(t, h.session.NegotiationAttempted())

	require.True(t, setEncoding(t, h, vp8Config()))
	assert.Equal(t, StateStreaming, h.session.State())

	active := h.session.ActiveEncoding()
	require.NotNil(t, active)
	assert.Equal(t, "vp8", active.CodecString)

	h.mu.Lock()
	require.Len(t, h.configured, 1)
	assert.Equal(t, "vp8", h.configured[0].CodecString)
	h.mu.Unlock()

	h.driver.send(protocol.MessageScreenData, protocol.ScreenData{Length: 3, Data: []byte{1, 2, 3}})
	require.Eventually(t, func() bool { return h.decoder.chunkCount() == 1 },
		awaitTimeout, 10*time.Millisecond)
	assert.Equal(t, [][]byte{{1, 2, 3}}, h.decoder.decodedPayloads())
}

// TestSessionRefinedResolutionFlowsThrough checks the decoder is configured
// with the oracle-refined coded dimensions, not the offered ones.
func TestSessionRefinedResolutionFlowsThrough(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	accepted := negotiate(t, h, av1Config())
	require.Len(t, accepted, 1)
	assert.Equal(t, [2]uint32{1920, 1088}, accepted[0].EncodedResolution)

	require.True(t, setEncoding(t, h, av1Config()))
	assert.Equal(t, []string{"av01.00.10M.08@1920x1088"}, h.decoder.configured)
}

func TestSessionEmptyPreferenceStillReplies(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	accepted := negotiate(t, h, protocol.EncoderConfiguration{
		EncoderName:   "theora",
		EncoderFamily: "theo",
	})
	assert.Empty(t, accepted)
	assert.True(t, h.session.NegotiationAttempted(),
		"an attempted negotiation with no matches is still attempted")
	assert.Empty(t, h.session.Candidates())
}

// gatedOracle blocks queries for selected codec strings until their gate
// channel is closed.
type gatedOracle struct {
	supported map[string]negotiation.SupportInfo
	gates     map[string]chan struct{}
}

func (o *gatedOracle) IsConfigSupported(ctx context.Context, codecString string, _, _ uint32) (negotiation.SupportInfo, error) {
	if gate := o.gates[codecString]; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return negotiation.SupportInfo{}, ctx.Err()
		}
	}
	return o.supported[codecString], nil
}

// TestSessionOverlappingNegotiationsLatestWins sends a second offer while
// the first negotiation is still probing: only the newer offer's results
// may be stored and replied to, even when the older negotiation finishes
// later.
func TestSessionOverlappingNegotiationsLatestWins(t *testing.T) {
	gate := make(chan struct{})
	oracle := &gatedOracle{
		supported: map[string]negotiation.SupportInfo{
			"vp8":            {Supported: true},
			"av01.00.10M.08": {Supported: true},
		},
		gates: map[string]chan struct{}{"vp8": gate},
	}
	h := newTestHarness(t, func(c *Config) { c.Oracle = oracle })
	runHandshake(t, h)

	// The first offer stalls in the oracle; the second overtakes it.
	h.driver.send(protocol.MessageRequestPreferredEncoding,
		protocol.EncodingOffer{Configurations: []protocol.EncoderConfiguration{vp8Config()}})
	h.driver.send(protocol.MessageRequestPreferredEncoding,
		protocol.EncodingOffer{Configurations: []protocol.EncoderConfiguration{av1Config()}})

	var preference protocol.EncodingPreference
	require.NoError(t, h.driver.await(protocol.MessageEncodingPreference).Decode(&preference))
	require.Len(t, preference.Accepted, 1)
	assert.Equal(t, "libaom-av1", preference.Accepted[0].EncoderName)

	close(gate)

	// The stale result must neither replace the newer candidate set nor
	// produce a second preference reply.
	time.Sleep(100 * time.Millisecond)
	candidates := h.session.Candidates()
	require.Len(t, candidates, 1)
	assert.Equal(t, "av01.00.10M.08", candidates[0].CodecString)
	select {
	case <-h.driver.inbox[protocol.MessageEncodingPreference]:
		t.Fatal("superseded negotiation still sent its preference reply")
	default:
	}
}

func TestSessionScreenDataBeforeEncodingIsDropped(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	h.driver.send(protocol.MessageScreenData, protocol.ScreenData{Length: 2, Data: []byte{1, 2}})
	// A later request still round-trips, proving the session survived.
	h.driver.send(protocol.MessageRequestDeviceInformation, nil)
	h.driver.await(protocol.MessageResponseDeviceInformation)

	assert.Zero(t, h.decoder.chunkCount())
	h.mu.Lock()
	assert.Empty(t, h.decodeErrs)
	h.mu.Unlock()
}

// TestSessionEncodingSwitch commits two encodings in sequence and verifies
// data sent after the switch decodes only against the new configuration.
func TestSessionEncodingSwitch(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)
	negotiate(t, h, vp8Config(), av1Config())

	require.True(t, setEncoding(t, h, vp8Config()))
	h.driver.send(protocol.MessageScreenData, protocol.ScreenData{Length: 1, Data: []byte{1}})
	require.Eventually(t, func() bool { return h.decoder.chunkCount() == 1 },
		awaitTimeout, 10*time.Millisecond)

	require.True(t, setEncoding(t, h, av1Config()))
	h.driver.send(protocol.MessageScreenData, protocol.ScreenData{Length: 2, Data: []byte{2, 2}})
	require.Eventually(t, func() bool { return h.decoder.chunkCount() == 2 },
		awaitTimeout, 10*time.Millisecond)

	assert.Equal(t, []string{
		"configure vp8",
		"decode 1",
		"configure av01.00.10M.08",
		"decode 2",
	}, h.decoder.snapshotEvents())

	active := h.session.ActiveEncoding()
	require.NotNil(t, active)
	assert.Equal(t, "av01.00.10M.08", active.CodecString)
}

func TestSessionSetEncodingUnknownFamilyNacked(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	ok := setEncoding(t, h, protocol.EncoderConfiguration{
		EncoderName:   "theora",
		EncoderFamily: "theo",
	})
	assert.False(t, ok)
	assert.Equal(t, StateNegotiating, h.session.State(), "failed commit must not enter Streaming")
	assert.Nil(t, h.session.ActiveEncoding())
}

// TestSessionSetEncodingWithoutNegotiation covers a source that skips the
// preference round-trip: the configuration is rendered directly.
func TestSessionSetEncodingWithoutNegotiation(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	require.True(t, setEncoding(t, h, vp8Config()))
	assert.Equal(t, []string{"vp8@1280x720"}, h.decoder.configured)
}

func TestSessionSharedBufferScreenData(t *testing.T) {
	buffer := []byte{7, 7, 7, 7}
	h := newTestHarness(t, func(c *Config) { c.SharedBuffer = buffer })
	runHandshake(t, h)
	require.True(t, setEncoding(t, h, vp8Config()))

	h.driver.send(protocol.MessageScreenData, protocol.ScreenData{Length: 2, Shared: true})
	require.Eventually(t, func() bool { return h.decoder.chunkCount() == 1 },
		awaitTimeout, 10*time.Millisecond)
	assert.Equal(t, [][]byte{{7, 7}}, h.decoder.decodedPayloads())
}

func TestSessionLocalCloseIsIntentional(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	require.NoError(t, h.session.Close())
	h.driver.await(protocol.MessageClose)

	info := h.disconnectInfo(t)
	assert.True(t, info.Intentional)
	assert.Nil(t, info.Reason)
	assert.NoError(t, info.Err)
	assert.Equal(t, StateDisconnected, h.session.State())
	assert.True(t, h.decoder.isClosed())
	assert.Zero(t, h.decoder.chunkCount(), "no frame events around an intentional close")
}

func TestSessionPeerCloseIsUnintentional(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	reason := uint32(4)
	h.driver.send(protocol.MessageClose, protocol.Close{Reason: &reason})

	info := h.disconnectInfo(t)
	assert.False(t, info.Intentional, "peer-initiated close is not a local decision")
	require.NotNil(t, info.Reason)
	assert.Equal(t, uint32(4), *info.Reason)
}

func TestSessionTransportDropIsUnintentional(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	require.NoError(t, h.driver.tr.Close())

	info := h.disconnectInfo(t)
	assert.False(t, info.Intentional)
	assert.Error(t, info.Err)
	assert.True(t, h.decoder.isClosed())
}

func TestSessionDecoderFatalEndsSession(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)
	require.True(t, setEncoding(t, h, vp8Config()))

	h.decoder.mu.Lock()
	h.decoder.decodeErr = fmt.Errorf("codec crashed: %w", ErrDecoderFatal)
	h.decoder.mu.Unlock()

	h.driver.send(protocol.MessageScreenData, protocol.ScreenData{Length: 1, Data: []byte{1}})

	info := h.disconnectInfo(t)
	assert.False(t, info.Intentional)
	assert.ErrorIs(t, info.Err, ErrDecoderFatal)

	h.mu.Lock()
	require.NotEmpty(t, h.decodeErrs)
	assert.ErrorIs(t, h.decodeErrs[0], ErrDecoderFatal)
	h.mu.Unlock()
}

func TestSessionCloseIdempotent(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	require.NoError(t, h.session.Close())
	require.NoError(t, h.session.Close())
	h.disconnectInfo(t)
}

func TestSessionRequiresCollaborators(t *testing.T) {
	clientConn, _ := net.Pipe()
	tr := transport.NewStreamTransport(clientConn)

	_, err := New(tr, Config{Oracle: tableOracle{}})
	assert.ErrorIs(t, err, ErrNoDecoder)

	_, err = New(tr, Config{Decoder: &fakeDecoder{}})
	assert.ErrorIs(t, err, ErrNoOracle)
}

func TestSessionUpdateDisplayParameters(t *testing.T) {
	h := newTestHarness(t, nil)
	runHandshake(t, h)

	require.NoError(t, h.session.UpdateDisplayParameters(protocol.DisplayParameters{
		Name:       "Rotated",
		Resolution: [2]uint32{2400, 1080},
	}))

	var params protocol.DisplayParameters
	require.NoError(t, h.driver.await(protocol.MessageDisplayParametersUpdate).Decode(&params))
	assert.Equal(t, "Rotated", params.Name)
}
