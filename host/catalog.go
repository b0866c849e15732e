package host

import (
	"github.com/opd-ai/devdisp/codec"
	"github.com/opd-ai/devdisp/protocol"
)

// OptionSet is one set of encoder options to try, ffmpeg-style string
// key/value pairs. Deduce candidates by running `ffmpeg -encoders` and
// `ffmpeg -h encoder=ENCODER_NAME`.
type OptionSet map[string]string

// Configuration is one concrete encoder candidate: an encoder name, one
// option set and one pixel format to open it with.
type Configuration struct {
	EncoderName   string
	EncoderFamily string // codec registry id, e.g. codec.IDHVC1
	Options       OptionSet
	PixelFormat   string
}

// ConfigurationSet combines the option sets and pixel formats to try for
// one encoder. More desired combinations come first in both lists;
// iteration tries every pixel format for an option set before moving to
// the next option set.
type ConfigurationSet struct {
	EncoderName   string
	EncoderFamily string
	OptionSets    []OptionSet
	PixelFormats  []string
}

// Configurations expands the set into its candidates in preference order.
// A set without explicit option sets yields one candidate per pixel format
// with empty options.
func (s *ConfigurationSet) Configurations() []Configuration {
	optionSets := s.OptionSets
	if len(optionSets) == 0 {
		optionSets = []OptionSet{{}}
	}

	out := make([]Configuration, 0, len(optionSets)*len(s.PixelFormats))
	for _, options := range optionSets {
		for _, format := range s.PixelFormats {
			out = append(out, Configuration{
				EncoderName:   s.EncoderName,
				EncoderFamily: s.EncoderFamily,
				Options:       options,
				PixelFormat:   format,
			})
		}
	}
	return out
}

// Catalog is a preference-ordered list of encoder configuration sets.
type Catalog struct {
	sets []ConfigurationSet
}

// NewCatalog builds a catalog from sets in preference order.
func NewCatalog(sets ...ConfigurationSet) *Catalog {
	return &Catalog{sets: sets}
}

// Sets returns the catalog's configuration sets in preference order.
func (c *Catalog) Sets() []ConfigurationSet {
	return c.sets
}

// Configurations expands every set, exhausting one encoder's combinations
// before moving to the next.
func (c *Catalog) Configurations() []Configuration {
	var out []Configuration
	for i := range c.sets {
		out = append(out, c.sets[i].Configurations()...)
	}
	return out
}

// Offer builds the encoder configurations to put on the wire during
// encoding negotiation: one entry per distinct encoder, carrying the
// family's default codec parameters and the given coded resolution. The
// embedding application replaces the defaults with the opened encoder's
// real parameters when it has them.
func (c *Catalog) Offer(width, height uint32) []protocol.EncoderConfiguration {
	seen := make(map[string]bool, len(c.sets))
	out := make([]protocol.EncoderConfiguration, 0, len(c.sets))
	for i := range c.sets {
		set := &c.sets[i]
		key := set.EncoderName + "/" + set.EncoderFamily
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, protocol.EncoderConfiguration{
			EncoderName:       set.EncoderName,
			EncoderFamily:     set.EncoderFamily,
			EncodedResolution: [2]uint32{width, height},
			Parameters:        DefaultParameters(set.EncoderFamily),
		})
	}
	return out
}

// DefaultParameters returns the codec parameters assumed for a family when
// the encoder does not report its own. Values mirror what common encoders
// produce for desktop streaming.
func DefaultParameters(family string) map[string]any {
	switch family {
	case codec.IDVP9:
		return map[string]any{"profile": 0, "level": 10, "bitDepth": 8}
	case codec.IDVP8:
		return nil
	case codec.IDHVC1, codec.IDHEV1:
		return map[string]any{
			"profile":       1,
			"compatibility": 6,
			"level":         93,
			"tier":          "L",
			"constraints":   0xB0,
		}
	case codec.IDAVC1, codec.IDAVC3:
		return map[string]any{"profile": 0x42, "constraintFlags": 0x00, "level": 0x1e}
	case codec.IDAV1:
		return map[string]any{"profile": 0, "level": 10, "tier": "M", "bitDepth": 8}
	default:
		return nil
	}
}

// DefaultCatalog returns the built-in encoder catalog, hardware encoders
// first, in order of preference top to bottom.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		// Nvidia NVENC. If the driver is active but the GPU isn't
		// connected, opening may take a long time before failing.
		ConfigurationSet{
			EncoderName:   "hevc_nvenc",
			EncoderFamily: codec.IDHVC1,
			OptionSets: []OptionSet{{
				"preset":       "llhq",
				"tune":         "ull",
				"delay":        "0",
				"rc":           "vbr_hq",
				"rc-lookahead": "0",
				"tier":         "high",
				"multipass":    "0",
				"cq":           "20",
				"spatial-aq":   "0",
				"temporal-aq":  "0",
				"zerolatency":  "1",
			}},
			// RGB-like formats first so pixel conversion and scaling can
			// happen on the GPU instead of a software scaler.
			PixelFormats: []string{
				"rgba", "bgra", "yuv420p", "yuv444p", "yuv444p16le",
				"nv12", "p010le", "p016le",
			},
		},
		// Intel Quick Sync Video.
		ConfigurationSet{
			EncoderName:   "hevc_qsv",
			EncoderFamily: codec.IDHVC1,
			OptionSets: []OptionSet{{
				"preset":   "veryfast",
				"scenario": "displayremoting",
			}},
			PixelFormats: []string{
				"rgba", "bgra", "yuyv422", "nv12", "p010le", "p012le",
				"qsv", "vuyx",
			},
		},
		ConfigurationSet{
			EncoderName:   "hevc_vaapi",
			EncoderFamily: codec.IDHVC1,
			PixelFormats:  []string{"vaapi"},
		},
		ConfigurationSet{
			EncoderName:   "hevc_vulkan",
			EncoderFamily: codec.IDHVC1,
			OptionSets: []OptionSet{{
				"usage":   "stream",
				"tune":    "ull",
				"content": "desktop",
			}},
			PixelFormats: []string{"vulkan"},
		},
		// CPU-based software encoders.
		ConfigurationSet{
			EncoderName:   "libx265",
			EncoderFamily: codec.IDHVC1,
			OptionSets: []OptionSet{{
				"preset": "ultrafast",
				"tune":   "zerolatency",
			}},
			PixelFormats: []string{"yuv420p"},
		},
		ConfigurationSet{
			EncoderName:   "h264_vulkan",
			EncoderFamily: codec.IDAVC1,
			OptionSets: []OptionSet{{
				"tuning":  "ll",
				"usage":   "stream",
				"content": "desktop",
			}},
			PixelFormats: []string{"vulkan"},
		},
		ConfigurationSet{
			EncoderName:   "libx264",
			EncoderFamily: codec.IDAVC1,
			PixelFormats:  []string{"yuv420p"},
		},
		ConfigurationSet{
			EncoderName:   "vp9_qsv",
			EncoderFamily: codec.IDVP9,
			PixelFormats:  []string{"nv12", "p010le", "vuyx", "qsv", "xv30le"},
		},
		ConfigurationSet{
			EncoderName:   "vp9_vaapi",
			EncoderFamily: codec.IDVP9,
			PixelFormats:  []string{"vaapi"},
		},
		// Tuned for realtime screen encoding, following
		// https://developers.google.com/media/vp9/live-encoding
		ConfigurationSet{
			EncoderName:   "libvpx-vp9",
			EncoderFamily: codec.IDVP9,
			OptionSets: []OptionSet{{
				"deadline":        "realtime",
				"quality":         "realtime",
				"speed":           "8",
				"tile-columns":    "3",
				"frame-parallel":  "1",
				"threads":         "8",
				"static-thresh":   "0",
				"max-intra-rate":  "300",
				"lag-in-frames":   "0",
				"qmin":            "4",
				"qmax":            "50",
				"row-mt":          "1",
				"error-resilient": "1",
			}},
			// Alpha-channel formats encode slower, so they come last.
			PixelFormats: []string{
				"yuv420p", "yuv422p", "yuv440p", "yuv444p", "yuva420p",
			},
		},
		ConfigurationSet{
			EncoderName:   "libvpx",
			EncoderFamily: codec.IDVP8,
			OptionSets: []OptionSet{{
				"deadline":      "realtime",
				"quality":       "realtime",
				"vp8flags":      "altref",
				"lag-in-frames": "0",
				"cpu-used":      "5",
			}},
			PixelFormats: []string{"yuv420p", "yuva420p"},
		},
		ConfigurationSet{
			EncoderName:   "libaom-av1",
			EncoderFamily: codec.IDAV1,
			OptionSets: []OptionSet{{
				"cpu-used":      "8",
				"threads":       "8",
				"tile-columns":  "3",
				"row-mt":        "1",
				"end-usage":     "cbr",
				"lag-in-frames": "0",
			}},
			PixelFormats: []string{"yuv420p"},
		},
	)
}
