package codec

import (
	"fmt"
	"strings"
)

// Defaults substituted for unset optional AV1 fields when any optional
// field is present. These come from the AV1 codecs-parameter registration:
// once one optional field appears, all six must be rendered.
const (
	av1DefaultMonochrome              = 0
	av1DefaultChromaSubsampling       = 110
	av1DefaultColorPrimaries          = 110
	av1DefaultTransferCharacteristics = 1
	av1DefaultMatrixCoefficients      = 1
	av1DefaultVideoFullRangeFlag      = 0
)

// AV1Parameters describes an av01 configuration.
//
// Rendered form:
//
//	av01.{profile:2d}.{level:2d}{tier}.{bitDepth:2d}
//
// followed, only when at least one optional field is set, by
//
//	.{monochrome:1d}.{chromaSubsampling:2d}.{colorPrimaries:2d}.{transferCharacteristics:2d}.{matrixCoefficients:2d}.{videoFullRangeFlag:1d}
type AV1Parameters struct {
	Profile  int
	Level    int
	Tier     byte // 'M' or 'H'
	BitDepth int

	Monochrome              *int
	ChromaSubsampling       *int
	ColorPrimaries          *int
	TransferCharacteristics *int
	MatrixCoefficients      *int
	VideoFullRangeFlag      *int
}

func (p AV1Parameters) validate() error {
	if err := checkRange("av01", "profile", p.Profile, 0, 2); err != nil {
		return err
	}
	if err := checkRange("av01", "level", p.Level, 0, 31); err != nil {
		return err
	}
	if p.Tier != 'M' && p.Tier != 'H' {
		return fmt.Errorf("av01: tier %q not one of \"MH\"", string(p.Tier))
	}
	if err := checkBitDepth("av01", p.BitDepth); err != nil {
		return err
	}
	optional := []struct {
		name     string
		value    *int
		min, max int
	}{
		{"monochrome", p.Monochrome, 0, 1},
		{"chromaSubsampling", p.ChromaSubsampling, 0, 999},
		{"colorPrimaries", p.ColorPrimaries, 0, 255},
		{"transferCharacteristics", p.TransferCharacteristics, 0, 255},
		{"matrixCoefficients", p.MatrixCoefficients, 0, 255},
		{"videoFullRangeFlag", p.VideoFullRangeFlag, 0, 1},
	}
	for _, f := range optional {
		if f.value == nil {
			continue
		}
		if err := checkRange("av01", f.name, *f.value, f.min, f.max); err != nil {
			return err
		}
	}
	return nil
}

// CodecString renders the av01 parameter string. Deterministic and
// side-effect free.
func (p AV1Parameters) CodecString() (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "av01.%02d.%02d%c.%02d", p.Profile, p.Level, p.Tier, p.BitDepth)

	if p.Monochrome != nil || p.ChromaSubsampling != nil || p.ColorPrimaries != nil ||
		p.TransferCharacteristics != nil || p.MatrixCoefficients != nil || p.VideoFullRangeFlag != nil {
		fmt.Fprintf(&b, ".%d.%02d.%02d.%02d.%02d.%d",
			intOrDefault(p.Monochrome, av1DefaultMonochrome),
			intOrDefault(p.ChromaSubsampling, av1DefaultChromaSubsampling),
			intOrDefault(p.ColorPrimaries, av1DefaultColorPrimaries),
			intOrDefault(p.TransferCharacteristics, av1DefaultTransferCharacteristics),
			intOrDefault(p.MatrixCoefficients, av1DefaultMatrixCoefficients),
			intOrDefault(p.VideoFullRangeFlag, av1DefaultVideoFullRangeFlag))
	}

	return b.String(), nil
}

func intOrDefault(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

// parseAV1Parameters converts a wire parameter map into AV1Parameters.
func parseAV1Parameters(params Parameters) (AV1Parameters, error) {
	var (
		p   AV1Parameters
		err error
	)
	if p.Profile, err = params.requireInt("profile"); err != nil {
		return p, err
	}
	if p.Level, err = params.requireInt("level"); err != nil {
		return p, err
	}
	tier, ok, err := params.tierField("tier", "MH")
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("parameter %q: missing", "tier")
	}
	p.Tier = tier
	if p.BitDepth, err = params.requireInt("bitDepth"); err != nil {
		return p, err
	}

	if p.Monochrome, err = params.optionalInt("monochrome"); err != nil {
		return p, err
	}
	if p.ChromaSubsampling, err = params.optionalInt("chromaSubsampling"); err != nil {
		return p, err
	}
	if p.ColorPrimaries, err = params.optionalInt("colorPrimaries"); err != nil {
		return p, err
	}
	if p.TransferCharacteristics, err = params.optionalInt("transferCharacteristics"); err != nil {
		return p, err
	}
	if p.MatrixCoefficients, err = params.optionalInt("matrixCoefficients"); err != nil {
		return p, err
	}
	if p.VideoFullRangeFlag, err = params.optionalInt("videoFullRangeFlag"); err != nil {
		return p, err
	}
	return p, nil
}

func renderAV1(_ string, params Parameters) (string, error) {
	p, err := parseAV1Parameters(params)
	if err != nil {
		return "", err
	}
	return p.CodecString()
}
