package codec

import "fmt"

// HEVCParameters describes an hvc1/hev1 configuration.
//
// Rendered form:
//
//	{codecID}.{profile}.{compatibility}.{tier}{level:2d}.{constraints:2hex}
//
// Profile and compatibility are plain decimal with no padding, tier is a
// single letter ('L' or 'H'), level is zero-padded decimal and the
// constraint byte is zero-padded uppercase hex, matching the strings the
// host side derives from its HEVC encoders (e.g. "hvc1.1.6.L93.B0").
type HEVCParameters struct {
	Profile       int
	Compatibility int
	Tier          byte // 'L' or 'H', defaults to 'L'
	Level         int
	Constraints   int // defaults to 0
}

func (p HEVCParameters) validate() error {
	if err := checkRange("hevc", "profile", p.Profile, 0, 255); err != nil {
		return err
	}
	if p.Compatibility < 0 {
		return fmt.Errorf("hevc: compatibility %d out of range", p.Compatibility)
	}
	if p.Tier != 'L' && p.Tier != 'H' {
		return fmt.Errorf("hevc: tier %q not one of \"LH\"", string(p.Tier))
	}
	if err := checkRange("hevc", "level", p.Level, 0, 255); err != nil {
		return err
	}
	return checkRange("hevc", "constraints", p.Constraints, 0, 255)
}

// CodecString renders the HEVC parameter string for the given codec id
// (hvc1 or hev1).
func (p HEVCParameters) CodecString(codecID string) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%d.%d.%c%02d.%02X",
		codecID, p.Profile, p.Compatibility, p.Tier, p.Level, p.Constraints), nil
}

func parseHEVCParameters(params Parameters) (HEVCParameters, error) {
	var (
		p   HEVCParameters
		err error
	)
	if p.Profile, err = params.requireInt("profile"); err != nil {
		return p, err
	}
	if p.Compatibility, err = params.requireInt("compatibility"); err != nil {
		return p, err
	}
	if p.Level, err = params.requireInt("level"); err != nil {
		return p, err
	}

	tier, ok, err := params.tierField("tier", "LH")
	if err != nil {
		return p, err
	}
	if !ok {
		tier = 'L'
	}
	p.Tier = tier

	constraints, _, err := params.intField("constraints")
	if err != nil {
		return p, err
	}
	p.Constraints = constraints
	return p, nil
}

func renderHEVC(codecID string, params Parameters) (string, error) {
	p, err := parseHEVCParameters(params)
	if err != nil {
		return "", err
	}
	return p.CodecString(codecID)
}
