package negotiation

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devdisp/codec"
)

// SupportInfo is the capability oracle's answer for one candidate
// configuration. CodedWidth/CodedHeight are the dimensions the decoder
// reports it will actually produce; zero means the oracle offered no
// refinement.
type SupportInfo struct {
	Supported   bool
	CodedWidth  uint32
	CodedHeight uint32
}

// Oracle is the local decode-capability collaborator, mirroring the
// platform's isConfigSupported call. Implementations may be asynchronous
// platform bridges; they must honor ctx cancellation.
type Oracle interface {
	IsConfigSupported(ctx context.Context, codecString string, width, height uint32) (SupportInfo, error)
}

// DecoderConfig is the exact configuration a decoder would be created with
// for one supported candidate.
type DecoderConfig struct {
	CodecString string
	Width       uint32
	Height      uint32
}

// SupportResult pairs a matched codec definition with the decoder
// configuration the oracle approved. Results are immutable once probed; a
// new probe is required if parameters or resolution change.
type SupportResult struct {
	Definition *codec.Definition
	Config     DecoderConfig
}

// Prober queries decode support for candidate configurations.
type Prober struct {
	registry *codec.Registry
	oracle   Oracle
}

// NewProber creates a prober over the given registry and capability oracle.
func NewProber(registry *codec.Registry, oracle Oracle) *Prober {
	return &Prober{registry: registry, oracle: oracle}
}

// Probe evaluates every definition registered under codecID against the
// oracle and returns the supporting results, in registration order.
//
// A candidate whose parameters fail to render is a configuration error for
// that candidate only; it is logged and skipped. An oracle error likewise
// counts as "not supported" rather than aborting the remaining candidates.
func (p *Prober) Probe(ctx context.Context, codecID string, params codec.Parameters, width, height uint32) []SupportResult {
	defs := p.registry.Lookup(codecID)
	if len(defs) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Probe",
			"codec_id": codecID,
		}).Debug("No codec definition registered for family")
		return nil
	}

	var results []SupportResult
	for _, def := range defs {
		codecString, err := def.CodecString(params)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Probe",
				"codec_id": codecID,
				"error":    err,
			}).Warn("Candidate parameters failed to render, skipping")
			continue
		}

		info, err := p.oracle.IsConfigSupported(ctx, codecString, width, height)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "Probe",
				"codec_string": codecString,
				"error":        err,
			}).Warn("Capability query failed, treating candidate as unsupported")
			continue
		}
		if !info.Supported {
			continue
		}

		config := DecoderConfig{CodecString: codecString, Width: width, Height: height}
		if info.CodedWidth > 0 && info.CodedHeight > 0 {
			config.Width = info.CodedWidth
			config.Height = info.CodedHeight
		}
		results = append(results, SupportResult{Definition: def, Config: config})
	}
	return results
}
