package formula

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmmpower/domain/core"
	"lmmpower/domain/design"
)

func TestParseExpandsCrossing(t *testing.T) {
	f, err := Parse("dv ~ 1 + age * context + (1 + context | subj) + (1 | item)")
	require.NoError(t, err)

	assert.Equal(t, "dv", f.Response)
	require.Len(t, f.Fixed, 4)
	assert.True(t, f.Fixed[0].IsIntercept())
	assert.Equal(t, []string{"age"}, f.Fixed[1].Factors)
	assert.Equal(t, []string{"context"}, f.Fixed[2].Factors)
	assert.Equal(t, []string{"age", "context"}, f.Fixed[3].Factors)

	require.Len(t, f.Random, 2)
	assert.Equal(t, "subj", f.Random[0].Group)
	assert.Len(t, f.Random[0].Terms, 2)
	assert.Equal(t, "item", f.Random[1].Group)
	assert.Equal(t, []string{"subj", "item"}, f.Groups())
	assert.Equal(t, []string{"age", "context", "subj", "item"}, f.Variables())
}

func TestParseThreeWayCrossing(t *testing.T) {
	f, err := Parse("y ~ a*b*c")
	require.NoError(t, err)
	var got []string
	for _, term := range f.Fixed {
		got = append(got, term.String())
	}
	assert.Equal(t, []string{"1", "a", "b", "c", "a:b", "a:c", "b:c", "a:b:c"}, got)
}

func TestParseInterceptHandling(t *testing.T) {
	f, err := Parse("y ~ 0 + a + (0 + a | g)")
	require.NoError(t, err)
	require.Len(t, f.Fixed, 1)
	assert.Equal(t, "a", f.Fixed[0].String())
	require.Len(t, f.Random[0].Terms, 1)
	assert.False(t, f.Random[0].Terms[0].IsIntercept())

	f, err = Parse("y ~ a + (a | g)")
	require.NoError(t, err)
	assert.True(t, f.Fixed[0].IsIntercept())
	assert.True(t, f.Random[0].Terms[0].IsIntercept(), "random terms carry an implicit intercept")
}

func TestParseDeduplicates(t *testing.T) {
	f, err := Parse("y ~ a + b + a:b + b:a + a*b")
	require.NoError(t, err)
	assert.Len(t, f.Fixed, 4)
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"y",
		"~ a",
		"y ~ a +",
		"y ~ (1 | )",
		"y ~ (1 | g) + (a | g)",
		"y ~ a $ b",
		"y ~ 2 + a",
		"y ~ (0 | g)",
		"y ~ a )",
	}
	for _, src := range bad {
		_, err := Parse(src)
		require.Error(t, err, "expected %q to fail", src)
		assert.True(t, core.IsInvalidArgument(err), "expected invalid argument for %q", src)
	}
}

func TestStringRoundTrip(t *testing.T) {
	f := MustParse("dv ~ 1 + a * b + (1 + a | subj)")
	again, err := Parse(f.String())
	require.NoError(t, err)
	assert.Equal(t, f.Fixed, again.Fixed)
	assert.Equal(t, f.Random, again.Random)
}

func TestCodingMatrices(t *testing.T) {
	levels := []string{"a", "b", "c"}

	m, names := DummyCoding.Matrix(levels)
	assert.Equal(t, []string{"b", "c"}, names)
	assert.Equal(t, [][]float64{{0, 0}, {1, 0}, {0, 1}}, m)

	m, _ = EffectsCoding.Matrix(levels)
	assert.Equal(t, [][]float64{{-1, -1}, {1, 0}, {0, 1}}, m)

	m, _ = HelmertCoding.Matrix(levels)
	assert.Equal(t, [][]float64{{-1, -1}, {1, -1}, {0, 2}}, m)
}

func TestParseCoding(t *testing.T) {
	for in, want := range map[string]Coding{
		"dummy": DummyCoding, "Treatment": DummyCoding, "effects": EffectsCoding,
		"sum": EffectsCoding, "helmert": HelmertCoding,
	} {
		got, err := ParseCoding(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCoding("polynomial")
	assert.True(t, core.IsInvalidArgument(err))
}

func testDataset(t *testing.T) *design.Dataset {
	t.Helper()
	ds, err := design.Materialize(design.Specification{
		Subjects:       4,
		Items:          2,
		SubjectBetween: []design.Factor{{Name: "age", Levels: []string{"young", "old"}}},
		WithinBoth:     []design.Factor{{Name: "context", Levels: []string{"neutral", "biased"}}},
	}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	return ds
}

func TestFixedColumns(t *testing.T) {
	ds := testDataset(t)
	f := MustParse("dv ~ 1 + age * context + (1 | subj)")

	cols, err := FixedColumns(f, ds, Contrasts{"age": EffectsCoding, "context": EffectsCoding})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"(Intercept)",
		"age: old",
		"context: biased",
		"age: old & context: biased",
	}, cols.Names)

	age, _ := ds.Column("age")
	ctx, _ := ds.Column("context")
	for i := 0; i < ds.Rows(); i++ {
		a, c := -1.0, -1.0
		if age[i] == "old" {
			a = 1
		}
		if ctx[i] == "biased" {
			c = 1
		}
		assert.Equal(t, 1.0, cols.Data[0][i])
		assert.Equal(t, a, cols.Data[1][i])
		assert.Equal(t, c, cols.Data[2][i])
		assert.Equal(t, a*c, cols.Data[3][i])
	}
}

func TestFixedColumnsRejectsUnknownContrast(t *testing.T) {
	ds := testDataset(t)
	_, err := FixedColumns(MustParse("dv ~ age"), ds, Contrasts{"modality": EffectsCoding})
	assert.True(t, core.IsInvalidArgument(err))

	_, err = FixedColumns(MustParse("dv ~ modality"), ds, nil)
	assert.True(t, core.IsInvalidArgument(err))
}

func TestRandomBlocks(t *testing.T) {
	ds := testDataset(t)
	f := MustParse("dv ~ 1 + context + (1 + context | subj) + (1 | item)")

	blocks, err := RandomBlocks(f, ds, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	subj := blocks[0]
	assert.Equal(t, "subj", subj.Group)
	assert.Equal(t, []string{"(Intercept)", "context: biased"}, subj.Columns.Names)
	assert.Len(t, subj.Levels, 4)

	subjCol, _ := ds.Column("subj")
	for i, idx := range subj.Index {
		assert.Equal(t, subjCol[i], subj.Levels[idx])
	}
	assert.Equal(t, 1, blocks[1].Columns.Width())
}
