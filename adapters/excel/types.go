package excel

import (
	"time"

	"lmmpower/domain/power"
)

// Sheet names of an exported workbook
const (
	SheetPower      = "Power"
	SheetRun        = "Run"
	SheetReplicates = "Replicates"
)

// RawRowData represents a row of a sheet as header → cell pairs
type RawRowData map[string]string

// ExcelData represents one sheet read back from a workbook
type ExcelData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// RunInfo describes the analysis a workbook was exported from
type RunInfo struct {
	RunID      string
	Formula    string
	Method     string
	Replicates int
	Seed       int64
	CreatedAt  time.Time
	Duration   time.Duration
}

// Workbook is everything written into an export
type Workbook struct {
	Run          RunInfo
	Table        *power.Table
	Coefficients []string
	// Outcomes is optional; stored analyses only keep the summary table
	Outcomes []power.ReplicateOutcome
}
