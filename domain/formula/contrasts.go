package formula

import (
	"strings"

	"lmmpower/domain/core"
)

// Coding is a contrast coding scheme for a categorical factor
type Coding string

const (
	// DummyCoding compares each level against the first (treatment coding)
	DummyCoding Coding = "dummy"
	// EffectsCoding codes the first level as -1 so each column is a deviation from the grand mean
	EffectsCoding Coding = "effects"
	// HelmertCoding compares each level against the mean of the preceding levels
	HelmertCoding Coding = "helmert"
)

// Contrasts maps factor names to coding schemes; unlisted factors use DummyCoding
type Contrasts map[string]Coding

// ParseCoding accepts the scheme names used in analysis files
func ParseCoding(s string) (Coding, error) {
	switch c := Coding(strings.ToLower(strings.TrimSpace(s))); c {
	case DummyCoding, EffectsCoding, HelmertCoding:
		return c, nil
	case "treatment":
		return DummyCoding, nil
	case "sum", "effect":
		return EffectsCoding, nil
	default:
		return "", core.NewInvalidArgumentf("contrasts", "unknown coding scheme %q", s)
	}
}

// For returns the coding for a factor
func (c Contrasts) For(factor string) Coding {
	if coding, ok := c[factor]; ok && coding != "" {
		return coding
	}
	return DummyCoding
}

// Matrix returns the L×(L-1) contrast matrix (rows indexed by level) and the
// level name that labels each column
func (c Coding) Matrix(levels []string) ([][]float64, []string) {
	n := len(levels)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n-1)
	}
	names := append([]string(nil), levels[1:]...)

	switch c {
	case EffectsCoding:
		for j := 0; j < n-1; j++ {
			m[0][j] = -1
			m[j+1][j] = 1
		}
	case HelmertCoding:
		for j := 0; j < n-1; j++ {
			for i := 0; i <= j; i++ {
				m[i][j] = -1
			}
			m[j+1][j] = float64(j + 1)
		}
	default:
		for j := 0; j < n-1; j++ {
			m[j+1][j] = 1
		}
	}
	return m, names
}
