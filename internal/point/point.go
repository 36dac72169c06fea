package point

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

// #region constants
const (
	// KeyPrefix starts every canonical cell key.
	KeyPrefix = "pattern_"
	// Sep joins coordinates inside a key or an action signature.
	Sep = "_"
	// decimalMark replaces '.' so keys stay usable as identifiers.
	decimalMark = "d"
)

// #endregion constants

// #region point
// Point is an (input, action, drive) coordinate in state space.
type Point struct {
	Input  []float64 `json:"inputState" validate:"required"`
	Action []float64 `json:"actionState" validate:"required,min=1"`
	Drive  []float64 `json:"driveState" validate:"required"`
}

// Key returns the canonical cell key of p.
func (p Point) Key() string {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteString(Join(p.Input))
	b.WriteString(Sep)
	b.WriteString(Join(p.Action))
	b.WriteString(Sep)
	b.WriteString(Join(p.Drive))
	return b.String()
}

// ActionKey returns the signature of the action sub-vector alone.
func (p Point) ActionKey() string {
	return Join(p.Action)
}

// Vector concatenates input, action and drive positionally.
func (p Point) Vector() []float64 {
	v := make([]float64, 0, len(p.Input)+len(p.Action)+len(p.Drive))
	v = append(v, p.Input...)
	v = append(v, p.Action...)
	v = append(v, p.Drive...)
	return v
}

// Offsets returns the indices in Vector() where the action and drive parts begin.
func (p Point) Offsets() (firstAction, firstDrive int) {
	return len(p.Input), len(p.Input) + len(p.Action)
}

// Dimensions reports the lengths of the three sub-vectors.
func (p Point) Dimensions() Shape {
	return Shape{Input: len(p.Input), Action: len(p.Action), Drive: len(p.Drive)}
}

// FromVector splits a flattened coordinate back into a Point using stored offsets.
func FromVector(v []float64, firstAction, firstDrive int) (Point, error) {
	if firstAction < 0 || firstDrive < firstAction || firstDrive > len(v) {
		return Point{}, fmt.Errorf("%w: offsets %d/%d out of range for %d coordinates",
			errs.ErrValidation, firstAction, firstDrive, len(v))
	}
	return Point{
		Input:  append([]float64{}, v[:firstAction]...),
		Action: append([]float64{}, v[firstAction:firstDrive]...),
		Drive:  append([]float64{}, v[firstDrive:]...),
	}, nil
}

// SquaredDistance is the sum of squared per-dimension differences between a and b.
// Missing trailing dimensions count as zero.
func SquaredDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		d := x - y
		sum += d * d
	}
	return sum
}

// #endregion point

// #region shape
// Shape records the sub-vector lengths an index has committed to.
type Shape struct {
	Input  int `json:"input"`
	Action int `json:"action"`
	Drive  int `json:"drive"`
}

// Check returns ErrValidation when p does not match s.
func (s Shape) Check(p Point) error {
	got := p.Dimensions()
	if got != s {
		return fmt.Errorf("%w: point %s has shape %d/%d/%d, index expects %d/%d/%d",
			errs.ErrValidation, p.Key(), got.Input, got.Action, got.Drive, s.Input, s.Action, s.Drive)
	}
	return nil
}

// #endregion shape

// #region formatting
// FormatNumber renders v in its shortest round-trip form with the decimal mark remapped.
func FormatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	return strings.ReplaceAll(s, ".", decimalMark)
}

// Join formats and joins values with Sep.
func Join(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = FormatNumber(v)
	}
	return strings.Join(parts, Sep)
}

// NormalizeKey prefixes a bare state key ("5_5_5") so it names a cell.
func NormalizeKey(k string) string {
	if strings.HasPrefix(k, KeyPrefix) {
		return k
	}
	return KeyPrefix + k
}

// #endregion formatting
