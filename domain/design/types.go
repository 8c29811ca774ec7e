package design

import (
	"fmt"
	"strings"

	"lmmpower/domain/core"
)

// Reserved column names produced by Materialize
const (
	SubjectColumn  = "subj"
	ItemColumn     = "item"
	ResponseColumn = "dv"
)

// Role says which part of the crossed design a factor varies over
type Role string

const (
	RoleSubjectBetween Role = "subject_between"
	RoleItemBetween    Role = "item_between"
	RoleWithinBoth     Role = "within_both"
	RoleGrouping       Role = "grouping"
)

// Factor is a categorical experimental factor with ordered levels.
// The first level is the reference level for dummy and effects coding.
type Factor struct {
	Name   string   `json:"name" yaml:"name"`
	Levels []string `json:"levels" yaml:"levels"`
}

// Specification describes a fully crossed subject × item experiment
type Specification struct {
	Subjects       int      `json:"subjects" yaml:"subjects"`
	Items          int      `json:"items" yaml:"items"`
	SubjectBetween []Factor `json:"subject_between,omitempty" yaml:"subject_between,omitempty"`
	ItemBetween    []Factor `json:"item_between,omitempty" yaml:"item_between,omitempty"`
	WithinBoth     []Factor `json:"within_both,omitempty" yaml:"within_both,omitempty"`
}

// Validate checks counts, level lists and that every factor name is declared once
func (s Specification) Validate() error {
	if s.Subjects <= 0 {
		return core.NewInvalidArgumentf("design.subjects", "must be positive, got %d", s.Subjects)
	}
	if s.Items <= 0 {
		return core.NewInvalidArgumentf("design.items", "must be positive, got %d", s.Items)
	}

	seen := make(map[string]Role)
	for _, group := range []struct {
		role    Role
		factors []Factor
	}{
		{RoleSubjectBetween, s.SubjectBetween},
		{RoleItemBetween, s.ItemBetween},
		{RoleWithinBoth, s.WithinBoth},
	} {
		for _, f := range group.factors {
			if err := f.validate(); err != nil {
				return err
			}
			if prev, dup := seen[f.Name]; dup {
				return core.NewInvalidArgumentf("design.factors",
					"factor %q declared as both %s and %s", f.Name, prev, group.role)
			}
			seen[f.Name] = group.role
		}
	}
	return nil
}

func (f Factor) validate() error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return core.NewInvalidArgument("design.factors", "factor name cannot be empty")
	}
	switch name {
	case SubjectColumn, ItemColumn, ResponseColumn:
		return core.NewInvalidArgumentf("design.factors", "factor name %q is reserved", name)
	}
	if len(f.Levels) < 2 {
		return core.NewInvalidArgumentf("design.factors", "factor %q needs at least two levels", name)
	}
	levels := make(map[string]bool, len(f.Levels))
	for _, lvl := range f.Levels {
		if lvl == "" {
			return core.NewInvalidArgumentf("design.factors", "factor %q has an empty level", name)
		}
		if levels[lvl] {
			return core.NewInvalidArgumentf("design.factors", "factor %q repeats level %q", name, lvl)
		}
		levels[lvl] = true
	}
	return nil
}

// Lookup returns the factor and the role it plays in the design
func (s Specification) Lookup(name string) (Factor, Role, bool) {
	for _, f := range s.SubjectBetween {
		if f.Name == name {
			return f, RoleSubjectBetween, true
		}
	}
	for _, f := range s.ItemBetween {
		if f.Name == name {
			return f, RoleItemBetween, true
		}
	}
	for _, f := range s.WithinBoth {
		if f.Name == name {
			return f, RoleWithinBoth, true
		}
	}
	return Factor{}, "", false
}

// CheckReferenced verifies that every variable a model formula uses exists in
// the design, either as a declared factor or as a grouping column
func (s Specification) CheckReferenced(names []string) error {
	for _, name := range names {
		if name == SubjectColumn || name == ItemColumn {
			continue
		}
		if _, _, ok := s.Lookup(name); !ok {
			return core.NewInvalidArgumentf("formula", "variable %q is not a factor of the design", name)
		}
	}
	return nil
}

// Cells returns the number of between-subject, between-item and within cells
func (s Specification) Cells() (subject, item, within int) {
	return cellCount(s.SubjectBetween), cellCount(s.ItemBetween), cellCount(s.WithinBoth)
}

// Rows returns the number of observations Materialize produces
func (s Specification) Rows() int {
	_, _, within := s.Cells()
	return s.Subjects * s.Items * within
}

func cellCount(factors []Factor) int {
	n := 1
	for _, f := range factors {
		n *= len(f.Levels)
	}
	return n
}

// String renders a compact description used in logs
func (s Specification) String() string {
	return fmt.Sprintf("%d subjects × %d items (%d rows)", s.Subjects, s.Items, s.Rows())
}
