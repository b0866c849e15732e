package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/devdisp/codec"
	"github.com/opd-ai/devdisp/protocol"
)

// fakeOracle answers capability queries from a fixed table keyed by codec
// string. Unlisted strings are unsupported.
type fakeOracle struct {
	mu        sync.Mutex
	supported map[string]SupportInfo
	errs      map[string]error
	calls     []string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		supported: make(map[string]SupportInfo),
		errs:      make(map[string]error),
	}
}

func (o *fakeOracle) IsConfigSupported(ctx context.Context, codecString string, width, height uint32) (SupportInfo, error) {
	o.mu.Lock()
	o.calls = append(o.calls, codecString)
	info := o.supported[codecString]
	err := o.errs[codecString]
	o.mu.Unlock()
	return info, err
}

func vp8Offer() protocol.EncoderConfiguration {
	return protocol.EncoderConfiguration{
		EncoderName:       "libvpx",
		EncoderFamily:     codec.IDVP8,
		EncodedResolution: [2]uint32{1280, 720},
	}
}

func av1Offer() protocol.EncoderConfiguration {
	return protocol.EncoderConfiguration{
		EncoderName:       "libaom-av1",
		EncoderFamily:     codec.IDAV1,
		EncodedResolution: [2]uint32{1920, 1080},
		Parameters: map[string]any{
			"profile": 0, "level": 10, "tier": "M", "bitDepth": 8,
		},
	}
}

func TestNegotiateEmptyOffer(t *testing.T) {
	engine := NewEngine(codec.DefaultRegistry(), newFakeOracle())

	accepted := engine.Negotiate(context.Background(), nil)
	require.NotNil(t, accepted, "empty offer must yield an empty result, not nil")
	assert.Empty(t, accepted)
}

func TestNegotiateUnknownFamily(t *testing.T) {
	engine := NewEngine(codec.DefaultRegistry(), newFakeOracle())

	accepted := engine.Negotiate(context.Background(), []protocol.EncoderConfiguration{
		{EncoderName: "theora", EncoderFamily: "theo", EncodedResolution: [2]uint32{640, 480}},
	})
	assert.Empty(t, accepted)
}

func TestNegotiateSingleMatchRefinedResolution(t *testing.T) {
	oracle := newFakeOracle()
	oracle.supported["av01.00.10M.08"] = SupportInfo{Supported: true, CodedWidth: 1920, CodedHeight: 1088}
	engine := NewEngine(codec.DefaultRegistry(), oracle)

	accepted := engine.Negotiate(context.Background(), []protocol.EncoderConfiguration{av1Offer()})
	require.Len(t, accepted, 1)

	got := accepted[0]
	assert.Equal(t, "av01.00.10M.08", got.CodecString)
	assert.Equal(t, codec.IDAV1, got.Definition.ID)
	assert.Equal(t, [2]uint32{1920, 1088}, got.Configuration.EncodedResolution,
		"resolution must come from the decoder-refined dimensions")
	assert.Equal(t, "libaom-av1", got.Configuration.EncoderName)
}

func TestNegotiateKeepsOfferedResolutionWithoutRefinement(t *testing.T) {
	oracle := newFakeOracle()
	oracle.supported["vp8"] = SupportInfo{Supported: true}
	engine := NewEngine(codec.DefaultRegistry(), oracle)

	accepted := engine.Negotiate(context.Background(), []protocol.EncoderConfiguration{vp8Offer()})
	require.Len(t, accepted, 1)
	assert.Equal(t, [2]uint32{1280, 720}, accepted[0].Configuration.EncodedResolution)
}

// TestNegotiateOracleErrorIsNotFatal verifies one failing candidate never
// aborts evaluation of the rest of the offer.
func TestNegotiateOracleErrorIsNotFatal(t *testing.T) {
	oracle := newFakeOracle()
	oracle.errs["av01.00.10M.08"] = errors.New("decoder bridge crashed")
	oracle.supported["vp8"] = SupportInfo{Supported: true}
	engine := NewEngine(codec.DefaultRegistry(), oracle)

	accepted := engine.Negotiate(context.Background(), []protocol.EncoderConfiguration{
		av1Offer(),
		vp8Offer(),
	})
	require.Len(t, accepted, 1)
	assert.Equal(t, "vp8", accepted[0].CodecString)
}

// TestNegotiateBadParametersExcludeCandidateOnly verifies a formatting
// error is fatal to that candidate alone.
func TestNegotiateBadParametersExcludeCandidateOnly(t *testing.T) {
	oracle := newFakeOracle()
	oracle.supported["vp8"] = SupportInfo{Supported: true}
	engine := NewEngine(codec.DefaultRegistry(), oracle)

	broken := av1Offer()
	broken.Parameters["profile"] = "main" // non-numeric in a numeric slot

	accepted := engine.Negotiate(context.Background(), []protocol.EncoderConfiguration{
		broken,
		vp8Offer(),
	})
	require.Len(t, accepted, 1)
	assert.Equal(t, "vp8", accepted[0].CodecString)
}

// TestNegotiateMultipleDefinitionsPerFamily verifies an offer yields one
// candidate per supporting definition, in registration order, and that the
// default policy picks the first.
func TestNegotiateMultipleDefinitionsPerFamily(t *testing.T) {
	registry := codec.DefaultRegistry()
	// A second definition under the same id, as hvc1/hev1-style duplicates
	// are permitted.
	registry.Register(codec.NewDefinition(codec.IDVP8, "VP8 alternate",
		func(id string, _ codec.Parameters) (string, error) { return id, nil }))

	oracle := newFakeOracle()
	oracle.supported["vp8"] = SupportInfo{Supported: true}
	engine := NewEngine(registry, oracle)

	accepted := engine.Negotiate(context.Background(), []protocol.EncoderConfiguration{vp8Offer()})
	require.Len(t, accepted, 2, "one candidate per supporting definition")
	assert.Equal(t, "VP8", accepted[0].Definition.Name)
	assert.Equal(t, "VP8 alternate", accepted[1].Definition.Name)

	chosen, ok := engine.Select(accepted)
	require.True(t, ok)
	assert.Equal(t, "VP8", chosen.Definition.Name, "first-registered definition wins ties")
}

func TestSelectPolicyOverride(t *testing.T) {
	oracle := newFakeOracle()
	oracle.supported["vp8"] = SupportInfo{Supported: true}
	oracle.supported["av01.00.10M.08"] = SupportInfo{Supported: true}

	last := func(candidates []Accepted) int { return len(candidates) - 1 }
	engine := NewEngine(codec.DefaultRegistry(), oracle, WithSelection(last))

	accepted := engine.Negotiate(context.Background(), []protocol.EncoderConfiguration{
		av1Offer(),
		vp8Offer(),
	})
	require.Len(t, accepted, 2)

	chosen, ok := engine.Select(accepted)
	require.True(t, ok)
	assert.Equal(t, "vp8", chosen.CodecString)

	_, ok = engine.Select(nil)
	assert.False(t, ok)
}

// TestNegotiateDeterministic verifies probing the same offer twice yields
// identical results given a deterministic oracle.
func TestNegotiateDeterministic(t *testing.T) {
	oracle := newFakeOracle()
	oracle.supported["av01.00.10M.08"] = SupportInfo{Supported: true, CodedWidth: 1920, CodedHeight: 1088}
	engine := NewEngine(codec.DefaultRegistry(), oracle)

	offer := []protocol.EncoderConfiguration{av1Offer()}
	first := engine.Negotiate(context.Background(), offer)
	second := engine.Negotiate(context.Background(), offer)
	assert.Equal(t, first, second)
}

func TestNegotiateCancelledContext(t *testing.T) {
	oracle := newFakeOracle()
	oracle.supported["vp8"] = SupportInfo{Supported: true}
	engine := NewEngine(codec.DefaultRegistry(), oracle)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	accepted := engine.Negotiate(ctx, []protocol.EncoderConfiguration{vp8Offer()})
	assert.Nil(t, accepted, "cancelled negotiation discards its results")
}

// slowOracle delays one codec string to prove slow probes don't block the
// rest of the batch from being evaluated, only the final join.
type slowOracle struct {
	*fakeOracle
	slow  string
	delay time.Duration
}

func (o *slowOracle) IsConfigSupported(ctx context.Context, codecString string, width, height uint32) (SupportInfo, error) {
	if codecString == o.slow {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return SupportInfo{}, ctx.Err()
		}
	}
	return o.fakeOracle.IsConfigSupported(ctx, codecString, width, height)
}

func TestNegotiateWaitsForAllProbes(t *testing.T) {
	oracle := &slowOracle{
		fakeOracle: newFakeOracle(),
		slow:       "av01.00.10M.08",
		delay:      50 * time.Millisecond,
	}
	oracle.supported["av01.00.10M.08"] = SupportInfo{Supported: true}
	oracle.supported["vp8"] = SupportInfo{Supported: true}
	engine := NewEngine(codec.DefaultRegistry(), oracle)

	accepted := engine.Negotiate(context.Background(), []protocol.EncoderConfiguration{
		av1Offer(),
		vp8Offer(),
	})
	require.Len(t, accepted, 2, "slow probe results must still be collected")
	assert.Equal(t, "av01.00.10M.08", accepted[0].CodecString, "offer order preserved")
	assert.Equal(t, "vp8", accepted[1].CodecString)
}
