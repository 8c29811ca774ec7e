package power

import (
	"encoding/json"
	"time"

	"lmmpower/domain/core"
)

// Method selects how replicate datasets are generated
type Method string

const (
	// MethodParametric simulates new responses from the installed model
	MethodParametric Method = "parametric"
	// MethodResample resamples group effects and residuals with replacement
	MethodResample Method = "resample"
)

// ParseMethod accepts "" as parametric
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodParametric:
		return MethodParametric, nil
	case MethodResample:
		return MethodResample, nil
	}
	return "", core.NewInvalidArgumentf("method", "unknown method %q (want parametric or resample)", s)
}

// Analysis is a completed power analysis as it is stored and listed
type Analysis struct {
	ID          core.RunID      `json:"id"`
	Fingerprint core.Hash       `json:"fingerprint"`
	Formula     string          `json:"formula"`
	Method      Method          `json:"method"`
	Replicates  int             `json:"replicates"`
	Seed        int64           `json:"seed"`
	Request     json.RawMessage `json:"request,omitempty"`
	Table       *Table          `json:"table"`
	CreatedAt   time.Time       `json:"created_at"`
	Duration    time.Duration   `json:"duration"`
}
