package rectify

import "math"

// Physical card format (ISO/IEC 7810 ID-1 sized trading card).
const (
	CardWidthMM  = 63.0
	CardHeightMM = 88.0
	mmPerInch    = 25.4
)

// DefaultDPI is the print resolution used when a request leaves it unset
const DefaultDPI = 300

// TargetSize returns the output pixel dimensions of a card at dpi.
// Width and height are rounded independently.
func TargetSize(dpi float64) (width, height int) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return mmToPixels(CardWidthMM, dpi), mmToPixels(CardHeightMM, dpi)
}

func mmToPixels(mm, dpi float64) int {
	return int(math.Round(mm / mmPerInch * dpi))
}
