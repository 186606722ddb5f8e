package service

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zlnvch/doodleup/models"
)

var hexColorRegex = regexp.MustCompile(`^#([0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)
var namedColorRegex = regexp.MustCompile(`^[a-zA-Z]{1,20}$`)

const (
	defaultColor = "black"
	defaultWidth = 2

	maxCoordinate        = 100000
	maxWidth             = 100
	maxDisplayNameLength = 32
)

// ApplySegmentDefaults fills in the color and width clients may leave out.
func ApplySegmentDefaults(seg models.Segment) models.Segment {
	if seg.Color == "" {
		seg.Color = defaultColor
	}
	if seg.Width == 0 {
		seg.Width = defaultWidth
	}
	return seg
}

func ValidateSegment(seg models.Segment) error {
	for _, c := range []float64{seg.X0, seg.Y0, seg.X1, seg.Y1} {
		if math.IsNaN(c) || math.IsInf(c, 0) || math.Abs(c) > maxCoordinate {
			return fmt.Errorf("%w: invalid coordinate", ErrInvalidArgument)
		}
	}

	if !hexColorRegex.MatchString(seg.Color) && !namedColorRegex.MatchString(seg.Color) {
		return fmt.Errorf("%w: invalid color", ErrInvalidArgument)
	}

	if math.IsNaN(seg.Width) || seg.Width <= 0 || seg.Width > maxWidth {
		return fmt.Errorf("%w: invalid width", ErrInvalidArgument)
	}

	return nil
}

// ValidateDisplayName trims name and rejects it when empty or too long.
// Used for both identity and board names.
func ValidateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return "", fmt.Errorf("%w: name longer than %d characters", ErrInvalidArgument, maxDisplayNameLength)
	}
	return name, nil
}
