package codec

import "fmt"

// AVCParameters describes an avc1/avc3 configuration.
//
// Rendered form:
//
//	{codecID}.{profile:2hex}{constraintFlags:2hex}{level:2hex}
//
// Unlike the AV1 and VP9 families, the three fields are hex encoded with no
// separators between them, and there is no optional-group elision: every
// field is rendered, defaulting to 00 when absent.
type AVCParameters struct {
	Profile         int
	ConstraintFlags int
	Level           int
}

func (p AVCParameters) validate() error {
	if err := checkRange("avc", "profile", p.Profile, 0, 255); err != nil {
		return err
	}
	if err := checkRange("avc", "constraintFlags", p.ConstraintFlags, 0, 255); err != nil {
		return err
	}
	return checkRange("avc", "level", p.Level, 0, 255)
}

// CodecString renders the AVC parameter string for the given codec id
// (avc1 or avc3).
func (p AVCParameters) CodecString(codecID string) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%02x%02x%02x", codecID, p.Profile, p.ConstraintFlags, p.Level), nil
}

func parseAVCParameters(params Parameters) (AVCParameters, error) {
	var p AVCParameters

	profile, _, err := params.intField("profile")
	if err != nil {
		return p, err
	}
	constraints, _, err := params.intField("constraintFlags")
	if err != nil {
		return p, err
	}
	level, _, err := params.intField("level")
	if err != nil {
		return p, err
	}

	// Absent fields render as 00.
	p.Profile = profile
	p.ConstraintFlags = constraints
	p.Level = level
	return p, nil
}

func renderAVC(codecID string, params Parameters) (string, error) {
	p, err := parseAVCParameters(params)
	if err != nil {
		return "", err
	}
	return p.CodecString(codecID)
}
