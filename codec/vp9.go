package codec

import (
	"fmt"
	"strings"
)

// Defaults substituted for unset optional VP9 fields when any optional
// field is present.
const (
	vp9DefaultChromaSubsampling       = 0
	vp9DefaultVideoFullRangeFlag      = 0
	vp9DefaultColourPrimaries         = 0
	vp9DefaultTransferCharacteristics = 0
	vp9DefaultMatrixCoefficients      = 0
)

// VP9Parameters describes a vp09 configuration.
//
// Rendered form:
//
//	vp09.{profile:2d}.{level:2d}.{bitDepth:2d}
//
// followed, only when at least one optional field is set, by
//
//	.{chromaSubsampling:2d}.{videoFullRangeFlag:1d}.{colourPrimaries:2d}.{transferCharacteristics:2d}.{matrixCoefficients:2d}
type VP9Parameters struct {
	Profile  int
	Level    int
	BitDepth int

	ChromaSubsampling       *int
	VideoFullRangeFlag      *int
	ColourPrimaries         *int
	TransferCharacteristics *int
	MatrixCoefficients      *int
}

func (p VP9Parameters) validate() error {
	if err := checkRange("vp09", "profile", p.Profile, 0, 3); err != nil {
		return err
	}
	if err := checkRange("vp09", "level", p.Level, 0, 255); err != nil {
		return err
	}
	if err := checkBitDepth("vp09", p.BitDepth); err != nil {
		return err
	}
	optional := []struct {
		name     string
		value    *int
		min, max int
	}{
		{"chromaSubsampling", p.ChromaSubsampling, 0, 3},
		{"videoFullRangeFlag", p.VideoFullRangeFlag, 0, 1},
		{"colourPrimaries", p.ColourPrimaries, 0, 255},
		{"transferCharacteristics", p.TransferCharacteristics, 0, 255},
		{"matrixCoefficients", p.MatrixCoefficients, 0, 255},
	}
	for _, f := range optional {
		if f.value == nil {
			continue
		}
		if err := checkRange("vp09", f.name, *f.value, f.min, f.max); err != nil {
			return err
		}
	}
	return nil
}

// CodecString renders the vp09 parameter string.
func (p VP9Parameters) CodecString() (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "vp09.%02d.%02d.%02d", p.Profile, p.Level, p.BitDepth)

	if p.ChromaSubsampling != nil || p.VideoFullRangeFlag != nil || p.ColourPrimaries != nil ||
		p.TransferCharacteristics != nil || p.MatrixCoefficients != nil {
		fmt.Fprintf(&b, ".%02d.%d.%02d.%02d.%02d",
			intOrDefault(p.ChromaSubsampling, vp9DefaultChromaSubsampling),
			intOrDefault(p.VideoFullRangeFlag, vp9DefaultVideoFullRangeFlag),
			intOrDefault(p.ColourPrimaries, vp9DefaultColourPrimaries),
			intOrDefault(p.TransferCharacteristics, vp9DefaultTransferCharacteristics),
			intOrDefault(p.MatrixCoefficients, vp9DefaultMatrixCoefficients))
	}

	return b.String(), nil
}

func parseVP9Parameters(params Parameters) (VP9Parameters, error) {
	var (
		p   VP9Parameters
		err error
	)
	if p.Profile, err = params.requireInt("profile"); err != nil {
		return p, err
	}
	if p.Level, err = params.requireInt("level"); err != nil {
		return p, err
	}
	if p.BitDepth, err = params.requireInt("bitDepth"); err != nil {
		return p, err
	}

	if p.ChromaSubsampling, err = params.optionalInt("chromaSubsampling"); err != nil {
		return p, err
	}
	if p.VideoFullRangeFlag, err = params.optionalInt("videoFullRangeFlag"); err != nil {
		return p, err
	}
	if p.ColourPrimaries, err = params.optionalInt("colourPrimaries"); err != nil {
		return p, err
	}
	if p.TransferCharacteristics, err = params.optionalInt("transferCharacteristics"); err != nil {
		return p, err
	}
	if p.MatrixCoefficients, err = params.optionalInt("matrixCoefficients"); err != nil {
		return p, err
	}
	return p, nil
}

func renderVP9(_ string, params Parameters) (string, error) {
	p, err := parseVP9Parameters(params)
	if err != nil {
		return "", err
	}
	return p.CodecString()
}

// renderVP8 renders the vp8 parameter string, which is just the codec id:
// the VP8 registration defines no parameters.
func renderVP8(codecID string, _ Parameters) (string, error) {
	return codecID, nil
}
