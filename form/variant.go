package form

import (
	"fmt"
	"sort"
	"strings"
)

// Variant is one form definition. Field order is the feature order of its model.
type Variant struct {
	Name   string  `json:"name"`
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`
	// Advice toggles the recommendation line under the result.
	Advice bool `json:"-"`
}

const (
	VariantFull  = "full"
	VariantTop10 = "top10"
)

var (
	yes     = opt("Ya", "yes")
	no      = opt("Tidak", "no")
	normal  = opt("Normal", "normal")
	abnorm  = opt("Tidak Normal", "abnormal")
	present = opt("Ada", "present")
	absent  = opt("Tidak", "notpresent")
)

var variants = map[string]*Variant{
	VariantFull: {
		Name:   VariantFull,
		Title:  "Prediksi Penyakit Ginjal Kronis",
		Advice: true,
		Fields: []Field{
			integer("age", "Usia", "age", 1, 100, 50),
			integer("bp", "Tekanan Darah (mmHg)", "bp", 50, 200, 80),
			{Key: "sg", Label: "Gravitasi Spesifik", Column: "sg", Kind: KindNumber, Min: 1.000, Max: 1.050, Default: 1.015, Step: 0.001},
			integer("al", "Albumin (0-4)", "al", 0, 4, 0),
			integer("su", "Gula (0-5)", "su", 0, 5, 0),
			choice("rbc", "Sel Darah Merah", "rbc", normal, abnorm),
			choice("pc", "Sel Nanah", "pc", normal, abnorm),
			choice("pcc", "Gumpalan Sel Nanah", "pcc", present, absent),
			choice("ba", "Bakteri", "ba", present, absent),
			integer("bgr", "Gula Darah Acak (mg/dL)", "bgr", 40, 500, 100),
			number("bu", "Urea (mg/dL)", "bu", 1.0, 300.0, 40.0),
			number("sc", "Kreatinin Serum (mg/dL)", "sc", 0.4, 20.0, 1.2),
			number("sod", "Sodium (mEq/L)", "sod", 100.0, 160.0, 135.0),
			number("pot", "Kalium (mEq/L)", "pot", 2.0, 10.0, 4.5),
			number("hemo", "Hemoglobin (g/dL)", "hemo", 3.0, 20.0, 12.0),
			integer("pcv", "Packed Cell Volume (%)", "pcv", 10, 60, 40),
			integer("wbcc", "Jumlah Sel Darah Putih (per µL)", "wc", 4000, 20000, 8000),
			number("rbcc", "Jumlah Sel Darah Merah (juta/µL)", "rc", 2.0, 8.0, 4.5),
			choice("htn", "Hipertensi", "htn", yes, no),
			choice("dm", "Diabetes", "dm", yes, no),
			choice("cad", "Penyakit Jantung Koroner", "cad", yes, no),
			choice("appet", "Nafsu Makan", "appet", opt("Baik", "good"), opt("Buruk", "poor")),
			choice("pe", "Edema Kaki", "pe", yes, no),
			choice("ane", "Anemia", "ane", yes, no),
		},
	},
	VariantTop10: {
		Name:  VariantTop10,
		Title: "Prediksi Penyakit Ginjal Kronis",
		Fields: []Field{
			number("hemo", "Hemoglobin (g/dL)", "hemo", 3.0, 20.0, 12.5),
			integer("pcv", "Packed Cell Volume (%)", "pcv", 10, 60, 40),
			{
				Key: "sg", Label: "Specific Gravity", Column: "sg", Kind: KindNumberChoice, Default: 1.015,
				Options: []Option{
					{Label: "1.005", Code: 1.005},
					{Label: "1.010", Code: 1.010},
					{Label: "1.015", Code: 1.015},
					{Label: "1.020", Code: 1.020},
					{Label: "1.025", Code: 1.025},
				},
			},
			number("rc", "Red Blood Cell Count (juta sel/µL)", "rc", 2.0, 8.0, 4.5),
			integer("al", "Albumin (skala 0-4)", "al", 0, 5, 0),
			integer("bgr", "Blood Glucose Random (mg/dL)", "bgr", 40, 500, 100),
			number("bu", "Blood Urea (mg/dL)", "bu", 1.0, 300.0, 50.0),
			number("sod", "Sodium (mEq/L)", "sod", 100.0, 160.0, 135.0),
			integer("su", "Sugar (skala 0-5)", "su", 0, 5, 0),
			number("sc", "Serum Creatinine (mg/dL)", "sc", 0.4, 20.0, 1.2),
		},
	},
}

// Lookup finds a variant by name, ignoring case.
func Lookup(name string) (*Variant, bool) {
	v, ok := variants[strings.ToLower(name)]
	return v, ok
}

// Names lists the known variants, sorted.
func Names() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FeatureNames lists the field keys in feature order.
func (v *Variant) FeatureNames() []string {
	names := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		names[i] = f.Key
	}
	return names
}

// Field returns the field with key.
func (v *Variant) Field(key string) (Field, bool) {
	for _, f := range v.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Defaults returns the pre-filled widget values keyed by field.
func (v *Variant) Defaults() map[string]string {
	out := make(map[string]string, len(v.Fields))
	for _, f := range v.Fields {
		out[f.Key] = f.DisplayDefault()
	}
	return out
}

// FieldErrors maps field keys to messages.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = e[k]
	}
	return strings.Join(parts, "; ")
}

func (e FieldErrors) Unwrap() error { return ErrValidation }

// Vector is one patient's encoded inputs in model feature order.
type Vector struct {
	Variant string             `json:"variant"`
	Values  []float64          `json:"values"`
	Named   map[string]float64 `json:"named"`
}

// Parse encodes submitted values. Unknown keys are ignored; missing keys take defaults.
func (v *Variant) Parse(values map[string]string) (Vector, error) {
	vec := Vector{
		Variant: v.Name,
		Values:  make([]float64, len(v.Fields)),
		Named:   make(map[string]float64, len(v.Fields)),
	}
	errs := FieldErrors{}
	for i, f := range v.Fields {
		code, err := f.Encode(values[f.Key])
		if err != nil {
			errs[f.Key] = err.Error()
			continue
		}
		vec.Values[i] = code
		vec.Named[f.Key] = code
	}
	if len(errs) > 0 {
		return Vector{}, errs
	}
	return vec, nil
}

// String returns the variant name.
func (v *Variant) String() string {
	return fmt.Sprintf("%s (%d fields)", v.Name, len(v.Fields))
}
