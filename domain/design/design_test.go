package design

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmmpower/domain/core"
)

func kbDesign() Specification {
	return Specification{
		Subjects:       20,
		Items:          10,
		SubjectBetween: []Factor{{Name: "age", Levels: []string{"young", "old"}}},
		ItemBetween:    []Factor{{Name: "freq", Levels: []string{"low", "high"}}},
		WithinBoth:     []Factor{{Name: "context", Levels: []string{"neutral", "biased"}}},
	}
}

func TestSpecificationValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Specification)
		wantErr bool
	}{
		{"valid", func(*Specification) {}, false},
		{"zero subjects", func(s *Specification) { s.Subjects = 0 }, true},
		{"negative items", func(s *Specification) { s.Items = -3 }, true},
		{"duplicate across roles", func(s *Specification) {
			s.WithinBoth = append(s.WithinBoth, Factor{Name: "age", Levels: []string{"a", "b"}})
		}, true},
		{"single level", func(s *Specification) {
			s.ItemBetween[0].Levels = []string{"only"}
		}, true},
		{"repeated level", func(s *Specification) {
			s.SubjectBetween[0].Levels = []string{"young", "young"}
		}, true},
		{"reserved name", func(s *Specification) {
			s.WithinBoth[0].Name = ItemColumn
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := kbDesign()
			spec.SubjectBetween = append([]Factor(nil), spec.SubjectBetween...)
			spec.ItemBetween = append([]Factor(nil), spec.ItemBetween...)
			spec.WithinBoth = append([]Factor(nil), spec.WithinBoth...)
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsInvalidArgument(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCheckReferenced(t *testing.T) {
	spec := kbDesign()
	assert.NoError(t, spec.CheckReferenced([]string{"age", "context", SubjectColumn, ItemColumn}))

	err := spec.CheckReferenced([]string{"age", "modality"})
	require.Error(t, err)
	assert.True(t, core.IsInvalidArgument(err))
}

func TestMaterializeCrossing(t *testing.T) {
	spec := kbDesign()
	ds, err := Materialize(spec, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	assert.Equal(t, 20*10*2, ds.Rows())
	assert.Equal(t, spec.Rows(), ds.Rows())

	subj, ok := ds.Column(SubjectColumn)
	require.True(t, ok)
	age, _ := ds.Column("age")
	freq, _ := ds.Column("freq")
	item, _ := ds.Column(ItemColumn)

	// between-subject factors are constant within a subject
	ageOf := map[string]string{}
	for i := range subj {
		if prev, seen := ageOf[subj[i]]; seen {
			assert.Equal(t, prev, age[i], "subject %s changed age", subj[i])
		}
		ageOf[subj[i]] = age[i]
	}
	// and balanced across subjects
	counts := map[string]int{}
	for _, a := range ageOf {
		counts[a]++
	}
	assert.Equal(t, 10, counts["young"])
	assert.Equal(t, 10, counts["old"])

	freqOf := map[string]string{}
	for i := range item {
		if prev, seen := freqOf[item[i]]; seen {
			assert.Equal(t, prev, freq[i])
		}
		freqOf[item[i]] = freq[i]
	}

	levels, ok := ds.LevelsOf(SubjectColumn)
	require.True(t, ok)
	assert.Equal(t, "S01", levels[0])
	assert.Equal(t, "S20", levels[19])
}

func TestMaterializeDeterministic(t *testing.T) {
	spec := kbDesign()
	a, err := Materialize(spec, rand.New(rand.NewPCG(42, 7)))
	require.NoError(t, err)
	b, err := Materialize(spec, rand.New(rand.NewPCG(42, 7)))
	require.NoError(t, err)
	assert.Equal(t, a.Response, b.Response)
}

func TestMaterializeWithoutFactors(t *testing.T) {
	ds, err := Materialize(Specification{Subjects: 3, Items: 4}, rand.New(rand.NewPCG(0, 0)))
	require.NoError(t, err)
	assert.Equal(t, 12, ds.Rows())
}

func TestWithResponse(t *testing.T) {
	ds, err := Materialize(Specification{Subjects: 2, Items: 2}, rand.New(rand.NewPCG(0, 0)))
	require.NoError(t, err)

	y := []float64{1, 2, 3, 4}
	cp, err := ds.WithResponse(y)
	require.NoError(t, err)
	assert.Equal(t, y, cp.Response)
	assert.NotEqual(t, y, ds.Response)

	_, err = ds.WithResponse([]float64{1})
	assert.True(t, core.IsInvalidArgument(err))
}
