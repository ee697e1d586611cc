// Package form declares the patient input fields of each variant and turns submitted
// values into the ordered feature vector the classifier was trained on.
package form

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrValidation is wrapped by every input rejection.
var ErrValidation = errors.New("invalid form input")

// Kind selects the widget and encoding of a field.
type Kind string

const (
	KindNumber Kind = "number"
	// KindChoice is a two-option select encoded to an integer code.
	KindChoice Kind = "choice"
	// KindNumberChoice is a select whose options are numeric values passed through as-is.
	KindNumberChoice Kind = "number_choice"
)

// Option is one entry of a select.
type Option struct {
	Label string  `json:"label"`
	Code  float64 `json:"code"`
	// Aliases are the spellings used for this option in the training dataset.
	Aliases []string `json:"-"`
}

// Field declares one form input and its feature column.
type Field struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Column  string   `json:"-"`
	Kind    Kind     `json:"kind"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Default float64  `json:"default"`
	Step    float64  `json:"step,omitempty"`
	Integer bool     `json:"integer,omitempty"`
	Options []Option `json:"options,omitempty"`
}

func number(key, label, column string, min, max, def float64) Field {
	return Field{Key: key, Label: label, Column: column, Kind: KindNumber, Min: min, Max: max, Default: def, Step: 0.01}
}

func integer(key, label, column string, min, max, def float64) Field {
	return Field{Key: key, Label: label, Column: column, Kind: KindNumber, Min: min, Max: max, Default: def, Step: 1, Integer: true}
}

// choice declares a two-option select; the first option encodes to 1, the second to 0.
func choice(key, label, column string, one, zero Option) Field {
	one.Code, zero.Code = 1, 0
	return Field{Key: key, Label: label, Column: column, Kind: KindChoice, Default: 1, Options: []Option{one, zero}}
}

func opt(label string, aliases ...string) Option {
	return Option{Label: label, Aliases: aliases}
}

// Encode converts one submitted value. An empty value takes the field default.
// Numbers inside [Min, Max] are returned unmodified.
func (f Field) Encode(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	switch f.Kind {
	case KindNumber:
		if raw == "" {
			return f.Default, nil
		}
		v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%s: %q is not a number", f.Label, raw)
		}
		if f.Integer && v != math.Trunc(v) {
			return 0, fmt.Errorf("%s: must be a whole number", f.Label)
		}
		if v < f.Min || v > f.Max {
			return 0, fmt.Errorf("%s: must be between %s and %s", f.Label, formatValue(f.Min), formatValue(f.Max))
		}
		return v, nil

	case KindChoice, KindNumberChoice:
		if raw == "" {
			return f.Default, nil
		}
		for _, o := range f.Options {
			if o.Label == raw {
				return o.Code, nil
			}
		}
		if f.Kind == KindNumberChoice {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				for _, o := range f.Options {
					if o.Code == v {
						return o.Code, nil
					}
				}
			}
		}
		return 0, fmt.Errorf("%s: %q is not one of %s", f.Label, raw, strings.Join(f.OptionLabels(), ", "))
	}
	return 0, fmt.Errorf("%s: unknown field kind %q", f.Key, f.Kind)
}

// EncodeAlias maps a dataset spelling of a choice to its code, case-insensitively.
func (f Field) EncodeAlias(raw string) (float64, bool) {
	for _, o := range f.Options {
		if strings.EqualFold(o.Label, raw) {
			return o.Code, true
		}
		for _, alias := range o.Aliases {
			if strings.EqualFold(alias, raw) {
				return o.Code, true
			}
		}
	}
	return 0, false
}

// OptionLabels lists the select labels in display order.
func (f Field) OptionLabels() []string {
	labels := make([]string, len(f.Options))
	for i, o := range f.Options {
		labels[i] = o.Label
	}
	return labels
}

// Codes returns the distinct codes a field can produce, ascending.
func (f Field) Codes() []float64 {
	codes := make([]float64, 0, len(f.Options))
	for _, o := range f.Options {
		codes = append(codes, o.Code)
	}
	sort.Float64s(codes)
	return codes
}

// DisplayDefault is the pre-filled widget value.
func (f Field) DisplayDefault() string {
	if f.Kind == KindNumber {
		return formatValue(f.Default)
	}
	for _, o := range f.Options {
		if o.Code == f.Default {
			return o.Label
		}
	}
	return ""
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
