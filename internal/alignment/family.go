package alignment

import (
	"fmt"
	"strings"
)

// Family selects which transform model is fitted.
type Family int

const (
	Affine     Family = iota // general linear map plus translation
	Similarity               // rotation, uniform scale and translation
	Euclidean                // rotation and translation (rigid)
)

// Families lists every supported family, most general first.
func Families() []Family {
	return []Family{Affine, Similarity, Euclidean}
}

func (f Family) String() string {
	switch f {
	case Affine:
		return "affine"
	case Similarity:
		return "similarity"
	case Euclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// ParseFamily converts a name into a Family. "rigid" is accepted for
// Euclidean.
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "affine":
		return Affine, nil
	case "similarity":
		return Similarity, nil
	case "euclidean", "rigid":
		return Euclidean, nil
	}
	return 0, fmt.Errorf("alignment: unknown transform family %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	if f < Affine || f > Euclidean {
		return nil, fmt.Errorf("alignment: invalid family %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Family) UnmarshalText(text []byte) error {
	parsed, err := ParseFamily(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Includes reports whether every transform of other is also a transform of
// f. Euclidean ⊂ Similarity ⊂ Affine.
func (f Family) Includes(other Family) bool {
	return f <= other
}

// DegreesOfFreedom returns the number of free parameters of the family in
// d dimensions.
func (f Family) DegreesOfFreedom(d int) int {
	rigid := d*(d-1)/2 + d
	switch f {
	case Euclidean:
		return rigid
	case Similarity:
		return rigid + 1
	default:
		return d*d + d
	}
}

// MinPoints returns the number of correspondences required to estimate a
// transform of any family in d dimensions.
func MinPoints(d int) int {
	return d + 1
}
