package negotiation

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/codec"
	"github.com/opd-ai/devdisp/protocol"
)

// Accepted is one workable pairing of an offered configuration with a
// supporting codec definition. Configuration carries the decoder-refined
// resolution where the oracle reported one, else the offered resolution.
type Accepted struct {
	Configuration protocol.EncoderConfiguration
	Definition    *codec.Definition
	CodecString   string
}

// Width returns the coded width the decoder will be configured with.
func (a *Accepted) Width() uint32 { return a.Configuration.EncodedResolution[0] }

// Height returns the coded height the decoder will be configured with.
func (a *Accepted) Height() uint32 { return a.Configuration.EncodedResolution[1] }

// SelectionPolicy picks the index of the candidate to activate from a
// non-empty candidate list, or -1 to decline all. Candidates arrive in
// (offer order, registration order).
type SelectionPolicy func(candidates []Accepted) int

// SelectFirst is the default policy: the first candidate wins, i.e. the
// host's most-preferred offer crossed with the first-registered definition.
func SelectFirst(candidates []Accepted) int {
	if len(candidates) == 0 {
		return -1
	}
	return 0
}

// Option configures an Engine.
type Option func(*Engine)

// WithSelection overrides the default first-match selection policy.
func WithSelection(policy SelectionPolicy) Option {
	return func(e *Engine) { e.policy = policy }
}

// Engine evaluates encoder offers against local decode capability.
type Engine struct {
	prober *Prober
	policy SelectionPolicy
}

// NewEngine creates an engine over the given registry and oracle.
func NewEngine(registry *codec.Registry, oracle Oracle, opts ...Option) *Engine {
	e := &Engine{
		prober: NewProber(registry, oracle),
		policy: SelectFirst,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Negotiate probes every offered configuration and returns all surviving
// candidates. Offers are probed concurrently; the engine waits for every
// probe to finish (or fail) before returning, and a slow or broken probe
// for one offer never aborts the others. Results preserve offer order, and
// registration order within one offer.
//
// An empty offer list, or one where nothing is decodable, yields an empty
// (non-nil) slice: "no compatible encoding" is a value, not an error. If
// ctx is cancelled mid-negotiation the late probe results are discarded and
// nil is returned.
func (e *Engine) Negotiate(ctx context.Context, offered []protocol.EncoderConfiguration) []Accepted {
	logrus.WithFields(logrus.Fields{
		"function":    "Negotiate",
		"offer_count": len(offered),
	}).Debug("Evaluating encoder offer")

	perOffer := make([][]SupportResult, len(offered))

	var wg sync.WaitGroup
	for i := range offered {
		wg.Add(1)
		go func(idx int, offer protocol.EncoderConfiguration) {
			defer wg.Done()
			perOffer[idx] = e.prober.Probe(ctx,
				offer.EncoderFamily,
				codec.Parameters(offer.Parameters),
				offer.EncodedResolution[0],
				offer.EncodedResolution[1])
		}(i, offered[i])
	}
	wg.Wait()

	if ctx.Err() != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Negotiate",
			"error":    ctx.Err(),
		}).Debug("Negotiation cancelled, discarding probe results")
		return nil
	}

	accepted := make([]Accepted, 0, len(offered))
	for i, results := range perOffer {
		for _, result := range results {
			configuration := offered[i]
			configuration.EncodedResolution = [2]uint32{result.Config.Width, result.Config.Height}
			accepted = append(accepted, Accepted{
				Configuration: configuration,
				Definition:    result.Definition,
				CodecString:   result.Config.CodecString,
			})
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Negotiate",
		"offer_count":    len(offered),
		"accepted_count": len(accepted),
	}).Debug("Negotiation complete")

	return accepted
}

// Select applies the engine's selection policy to a candidate list.
func (e *Engine) Select(candidates []Accepted) (Accepted, bool) {
	idx := e.policy(candidates)
	if idx < 0 || idx >= len(candidates) {
		return Accepted{}, false
	}
	return candidates[idx], true
}
