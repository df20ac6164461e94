// Package model holds the value types shared by the conversion pipeline:
// conversion targets, media classes, and the conversion identity.
package model

// ImageTarget selects the texture-container encoding applied to static
// and motion images.
type ImageTarget int

const (
	// UASTC is the default image target: high quality, larger output.
	UASTC ImageTarget = iota
	// ASTC encodes 8x8 blocks: smaller, lower quality than ASTC_HIGH.
	ASTC
	// ASTCHigh encodes 4x4 blocks: higher quality, larger than ASTC.
	ASTCHigh
)

func (t ImageTarget) String() string {
	switch t {
	case UASTC:
		return "UASTC"
	case ASTC:
		return "ASTC"
	case ASTCHigh:
		return "ASTC_HIGH"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether t is one of the defined image targets.
func (t ImageTarget) IsValid() bool {
	switch t {
	case UASTC, ASTC, ASTCHigh:
		return true
	default:
		return false
	}
}

// ParseImageTarget parses the HTTP query value for imageFormat.
func ParseImageTarget(s string) (ImageTarget, bool) {
	switch s {
	case "", "UASTC":
		return UASTC, true
	case "ASTC":
		return ASTC, true
	case "ASTC_HIGH":
		return ASTCHigh, true
	default:
		return 0, false
	}
}

// VideoTarget selects the video container/codec applied to motion video
// and motion image (frame-sequence) inputs.
type VideoTarget int

const (
	// MP4 is the default video target: H.264 in an MP4 container.
	MP4 VideoTarget = iota
	// OGV encodes Theora video in an Ogg container.
	OGV
)

func (t VideoTarget) String() string {
	switch t {
	case MP4:
		return "MP4"
	case OGV:
		return "OGV"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether t is one of the defined video targets.
func (t VideoTarget) IsValid() bool {
	switch t {
	case MP4, OGV:
		return true
	default:
		return false
	}
}

// ParseVideoTarget parses the HTTP query value for videoFormat.
func ParseVideoTarget(s string) (VideoTarget, bool) {
	switch s {
	case "", "MP4":
		return MP4, true
	case "OGV":
		return OGV, true
	default:
		return 0, false
	}
}
