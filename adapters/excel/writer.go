package excel

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/xuri/excelize/v2"
)

var powerHeaders = []interface{}{
	"Coefficient", "Power", "Lower", "Upper", "Detected",
	"Mean estimate", "SD estimate", "Percentile lower", "Percentile upper", "Mean SE",
}

// Write renders the workbook as XLSX
func Write(w io.Writer, wb Workbook) error {
	if wb.Table == nil {
		return fmt.Errorf("workbook has no power table")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetPower); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writePowerSheet(f, wb, bold); err != nil {
		return err
	}
	if err := writeRunSheet(f, wb, bold); err != nil {
		return err
	}
	if len(wb.Outcomes) > 0 {
		if err := writeReplicateSheet(f, wb, bold); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writePowerSheet(f *excelize.File, wb Workbook, header int) error {
	if err := setRow(f, SheetPower, 1, powerHeaders); err != nil {
		return err
	}
	for i, r := range wb.Table.Rows {
		row := []interface{}{
			r.Coefficient, r.Power, r.Lower, r.Upper, r.Detected,
			r.MeanEstimate, r.SDEstimate, r.Percentile.Lower, r.Percentile.Upper, r.MeanStdError,
		}
		if err := setRow(f, SheetPower, i+2, row); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(powerHeaders), 1)
	return f.SetCellStyle(SheetPower, "A1", last, header)
}

func writeRunSheet(f *excelize.File, wb Workbook, header int) error {
	if _, err := f.NewSheet(SheetRun); err != nil {
		return fmt.Errorf("failed to add %s sheet: %w", SheetRun, err)
	}
	t := wb.Table
	rows := [][]interface{}{
		{"Field", "Value"},
		{"Run ID", wb.Run.RunID},
		{"Formula", wb.Run.Formula},
		{"Method", wb.Run.Method},
		{"Replicates", wb.Run.Replicates},
		{"Seed", wb.Run.Seed},
		{"Singular fits", t.SingularCount},
		{"Failed fits", t.FailedCount},
		{"Alpha", t.Alpha},
		{"Wald multiplier", t.Multiplier},
		{"Mean sigma", t.MeanSigma},
		{"Created", wb.Run.CreatedAt.UTC().Format(time.RFC3339)},
		{"Duration", wb.Run.Duration.String()},
	}
	for i, row := range rows {
		if err := setRow(f, SheetRun, i+1, row); err != nil {
			return err
		}
	}
	return f.SetCellStyle(SheetRun, "A1", "B1", header)
}

func writeReplicateSheet(f *excelize.File, wb Workbook, header int) error {
	if _, err := f.NewSheet(SheetReplicates); err != nil {
		return fmt.Errorf("failed to add %s sheet: %w", SheetReplicates, err)
	}
	headers := []interface{}{"Replicate", "Singular", "Sigma"}
	for _, name := range wb.Coefficients {
		headers = append(headers, name, name+" SE")
	}
	if err := setRow(f, SheetReplicates, 1, headers); err != nil {
		return err
	}
	for i, o := range wb.Outcomes {
		row := []interface{}{i + 1, o.Singular, cell(o.Sigma)}
		for j := range wb.Coefficients {
			row = append(row, cell(at(o.Estimates, j)), cell(at(o.StdErrors, j)))
		}
		if err := setRow(f, SheetReplicates, i+2, row); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	return f.SetCellStyle(SheetReplicates, "A1", last, header)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	axis, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, axis, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// cell leaves non-finite values blank; XLSX has no NaN
func cell(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return v
}

func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return math.NaN()
}
