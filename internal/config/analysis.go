package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"lmmpower/app"
	"lmmpower/domain/core"
	"lmmpower/domain/design"
	"lmmpower/domain/formula"
	"lmmpower/domain/power"
	"lmmpower/domain/variance"
)

// AnalysisFile is the on-disk description of one power analysis
//
//	design:
//	  subjects: 40
//	  items: 20
//	  within_both:
//	    - name: context
//	      levels: [neutral, biased]
//	formula: dv ~ 1 + context + (1 | subj) + (1 | item)
//	fixed_effects: [0, 0.3]
//	residual_scale: 1
//	variance_components:
//	  - {group: subj, sds: [0.5]}
//	  - {group: item, sds: [0.3]}
//	replicates: 500
//	seed: 2024
type AnalysisFile struct {
	Design             DesignFile        `json:"design" yaml:"design"`
	Formula            string            `json:"formula" yaml:"formula" validate:"required"`
	Contrasts          map[string]string `json:"contrasts,omitempty" yaml:"contrasts,omitempty"`
	FixedEffects       []float64         `json:"fixed_effects" yaml:"fixed_effects" validate:"required,min=1"`
	ResidualScale      float64           `json:"residual_scale" yaml:"residual_scale" validate:"gt=0"`
	VarianceComponents []ComponentFile   `json:"variance_components" yaml:"variance_components" validate:"required,min=1,dive"`
	Replicates         int               `json:"replicates" yaml:"replicates" validate:"gt=0"`
	Seed               int64             `json:"seed" yaml:"seed"`
	Method             string            `json:"method,omitempty" yaml:"method,omitempty" validate:"omitempty,oneof=parametric resample"`
	Alpha              float64           `json:"alpha,omitempty" yaml:"alpha,omitempty" validate:"omitempty,gt=0,lt=1"`
}

// DesignFile mirrors design.Specification
type DesignFile struct {
	Subjects       int          `json:"subjects" yaml:"subjects" validate:"gt=0"`
	Items          int          `json:"items" yaml:"items" validate:"gt=0"`
	SubjectBetween []FactorFile `json:"subject_between,omitempty" yaml:"subject_between,omitempty" validate:"dive"`
	ItemBetween    []FactorFile `json:"item_between,omitempty" yaml:"item_between,omitempty" validate:"dive"`
	WithinBoth     []FactorFile `json:"within_both,omitempty" yaml:"within_both,omitempty" validate:"dive"`
}

// FactorFile is one categorical factor
type FactorFile struct {
	Name   string   `json:"name" yaml:"name" validate:"required"`
	Levels []string `json:"levels" yaml:"levels" validate:"min=2,dive,required"`
}

// ComponentFile is the random-effect covariance of one grouping factor
type ComponentFile struct {
	Group       string      `json:"group" yaml:"group" validate:"required"`
	SDs         []float64   `json:"sds" yaml:"sds" validate:"required,min=1,dive,gte=0"`
	Correlation [][]float64 `json:"correlation,omitempty" yaml:"correlation,omitempty"`
}

// LoadAnalysis reads a YAML or JSON analysis file. Files ending in .json are
// decoded as JSON; everything else as YAML.
func LoadAnalysis(path string) (app.PowerRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return app.PowerRequest{}, fmt.Errorf("failed to read analysis file: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseAnalysis(data, format)
}

// ParseAnalysis decodes an analysis document in the given format ("yaml" or "json")
func ParseAnalysis(data []byte, format string) (app.PowerRequest, error) {
	var file AnalysisFile
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&file); err != nil {
			return app.PowerRequest{}, core.NewInvalidArgumentf("analysis", "malformed JSON: %v", err)
		}
	case "yaml", "yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return app.PowerRequest{}, core.NewInvalidArgumentf("analysis", "malformed YAML: %v", err)
		}
	default:
		return app.PowerRequest{}, core.NewInvalidArgumentf("analysis", "unsupported format %q", format)
	}
	return file.Request()
}

// Request validates the file and converts it into a power request
func (f AnalysisFile) Request() (app.PowerRequest, error) {
	if err := validator.New().Struct(f); err != nil {
		return app.PowerRequest{}, core.NewInvalidArgument("analysis", err.Error())
	}

	var contrasts formula.Contrasts
	if len(f.Contrasts) > 0 {
		contrasts = make(formula.Contrasts, len(f.Contrasts))
	}
	for name, scheme := range f.Contrasts {
		coding, err := formula.ParseCoding(scheme)
		if err != nil {
			return app.PowerRequest{}, err
		}
		contrasts[name] = coding
	}
	method, err := power.ParseMethod(f.Method)
	if err != nil {
		return app.PowerRequest{}, err
	}

	components := make([]variance.Component, len(f.VarianceComponents))
	for i, c := range f.VarianceComponents {
		components[i] = variance.Component{Group: c.Group, SDs: c.SDs, Correlation: c.Correlation}
	}

	req := app.PowerRequest{
		Design: design.Specification{
			Subjects:       f.Design.Subjects,
			Items:          f.Design.Items,
			SubjectBetween: factors(f.Design.SubjectBetween),
			ItemBetween:    factors(f.Design.ItemBetween),
			WithinBoth:     factors(f.Design.WithinBoth),
		},
		Formula:            f.Formula,
		Contrasts:          contrasts,
		FixedEffects:       f.FixedEffects,
		ResidualScale:      f.ResidualScale,
		VarianceComponents: components,
		Replicates:         f.Replicates,
		Seed:               f.Seed,
		Method:             method,
		Alpha:              f.Alpha,
	}
	if err := req.Validate(); err != nil {
		return app.PowerRequest{}, err
	}
	return req, nil
}

func factors(in []FactorFile) []design.Factor {
	if len(in) == 0 {
		return nil
	}
	out := make([]design.Factor, len(in))
	for i, f := range in {
		out[i] = design.Factor{Name: f.Name, Levels: f.Levels}
	}
	return out
}
