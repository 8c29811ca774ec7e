package excel

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"lmmpower/domain/power"
)

// ReadSheet reads one sheet of a workbook into header-keyed rows
func ReadSheet(r io.Reader, sheet string) (*ExcelData, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("sheet %s has no header row", sheet)
	}
	return processRows(rows), nil
}

// ReadPowerRows reads the power sheet of an exported workbook back into rows
func ReadPowerRows(r io.Reader) ([]power.Row, error) {
	data, err := ReadSheet(r, SheetPower)
	if err != nil {
		return nil, err
	}
	out := make([]power.Row, 0, len(data.Rows))
	for i, raw := range data.Rows {
		var row power.Row
		row.Coefficient = raw["Coefficient"]
		fields := []struct {
			header string
			dst    *float64
		}{
			{"Power", &row.Power},
			{"Lower", &row.Lower},
			{"Upper", &row.Upper},
			{"Mean estimate", &row.MeanEstimate},
			{"SD estimate", &row.SDEstimate},
			{"Percentile lower", &row.Percentile.Lower},
			{"Percentile upper", &row.Percentile.Upper},
			{"Mean SE", &row.MeanStdError},
		}
		for _, fld := range fields {
			v, err := strconv.ParseFloat(raw[fld.header], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i+2, fld.header, err)
			}
			*fld.dst = v
		}
		detected, err := strconv.Atoi(raw["Detected"])
		if err != nil {
			return nil, fmt.Errorf("row %d column %q: %w", i+2, "Detected", err)
		}
		row.Detected = detected
		out = append(out, row)
	}
	return out, nil
}

// processRows converts raw string rows into ExcelData format
func processRows(rows [][]string) *ExcelData {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(header)
	}

	var dataRows []RawRowData
	for _, row := range rows[1:] {
		rowData := make(RawRowData)
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}

	return &ExcelData{
		Headers: headers,
		Rows:    dataRows,
	}
}
