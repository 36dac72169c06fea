package point

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

// #region symbol
// Symbol is one value an action dimension may take. JSON numbers and strings are both accepted;
// numbers are rendered with FormatNumber so signatures match Point.ActionKey.
type Symbol string

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (s *Symbol) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Symbol(str)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: action symbol %s is neither number nor string", errs.ErrValidation, data)
	}
	*s = Symbol(FormatNumber(f))
	return nil
}

// NumberSymbols converts numeric dimension values into Symbols.
func NumberSymbols(vals ...float64) []Symbol {
	out := make([]Symbol, len(vals))
	for i, v := range vals {
		out[i] = Symbol(FormatNumber(v))
	}
	return out
}

// #endregion symbol

// #region alphabet
// Alphabet lists, per action dimension, every value that dimension may take.
type Alphabet [][]Symbol

// Validate rejects empty alphabets, empty or duplicated dimension values, and values
// that would break signature joining.
func (a Alphabet) Validate() error {
	if len(a) == 0 {
		return fmt.Errorf("%w: action alphabet is empty", errs.ErrValidation)
	}
	for i, dim := range a {
		if len(dim) == 0 {
			return fmt.Errorf("%w: action dimension %d has no values", errs.ErrValidation, i)
		}
		seen := make(map[Symbol]bool, len(dim))
		for _, s := range dim {
			if s == "" || strings.Contains(string(s), Sep) {
				return fmt.Errorf("%w: action dimension %d has invalid value %q", errs.ErrValidation, i, s)
			}
			if seen[s] {
				return fmt.Errorf("%w: action dimension %d repeats value %q", errs.ErrValidation, i, s)
			}
			seen[s] = true
		}
	}
	return nil
}

// Width is the number of action dimensions.
func (a Alphabet) Width() int {
	return len(a)
}

// Signatures returns the Cartesian product of all dimensions as "_"-joined signatures,
// varying the last dimension fastest.
func (a Alphabet) Signatures() []string {
	if len(a) == 0 {
		return nil
	}
	return product(a, 0, make([]Symbol, len(a)), nil)
}

func product(sets Alphabet, depth int, current []Symbol, out []string) []string {
	for _, s := range sets[depth] {
		current[depth] = s
		if depth < len(sets)-1 {
			out = product(sets, depth+1, current, out)
			continue
		}
		parts := make([]string, len(current))
		for i, c := range current {
			parts[i] = string(c)
		}
		out = append(out, strings.Join(parts, Sep))
	}
	return out
}

// #endregion alphabet
