// Package report renders power tables for terminals, files and the HTTP API.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"lmmpower/adapters/excel"
	"lmmpower/app"
	"lmmpower/domain/core"
	"lmmpower/domain/power"
	"lmmpower/internal/profiling"
)

// Format is an output format
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatXLSX     Format = "xlsx"
)

// Formats lists every supported format
var Formats = []Format{FormatTable, FormatJSON, FormatCSV, FormatMarkdown, FormatHTML, FormatXLSX}

// ParseFormat accepts format names and common file extensions
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "table", "text":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", core.NewInvalidArgumentf("format", "unknown format %q", s)
}

// Report is a rendered view of one analysis
type Report struct {
	RunID        core.RunID                  `json:"run_id"`
	Formula      string                      `json:"formula"`
	Method       power.Method                `json:"method"`
	Replicates   int                         `json:"replicates"`
	Seed         int64                       `json:"seed"`
	Cached       bool                        `json:"cached,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	Duration     time.Duration               `json:"duration_ns"`
	Table        *power.Table                `json:"table"`
	Diagnostics  []profiling.EstimateProfile `json:"diagnostics,omitempty"`
	Coefficients []string                    `json:"-"`
	Outcomes     []power.ReplicateOutcome    `json:"-"`
}

// FromResult builds a report for a fresh run
func FromResult(res *app.PowerResult) Report {
	return Report{
		RunID:        res.RunID,
		Formula:      res.Formula,
		Method:       res.Method,
		Replicates:   res.Replicates,
		Seed:         res.Seed,
		Cached:       res.Cached,
		CreatedAt:    res.CreatedAt,
		Duration:     res.Duration,
		Table:        res.Table,
		Diagnostics:  diagnostics(res.Outcomes, res.Coefficients),
		Coefficients: res.Coefficients,
		Outcomes:     res.Outcomes,
	}
}

func diagnostics(outcomes []power.ReplicateOutcome, names []string) []profiling.EstimateProfile {
	if len(outcomes) == 0 {
		return nil
	}
	return profiling.NewDistributionAnalyzer().Profile(outcomes, names)
}

// FromAnalysis builds a report for a stored analysis
func FromAnalysis(a *power.Analysis) Report {
	var names []string
	if a.Table != nil {
		for _, r := range a.Table.Rows {
			names = append(names, r.Coefficient)
		}
	}
	return Report{
		RunID:        a.ID,
		Formula:      a.Formula,
		Method:       a.Method,
		Replicates:   a.Replicates,
		Seed:         a.Seed,
		CreatedAt:    a.CreatedAt,
		Duration:     a.Duration,
		Table:        a.Table,
		Coefficients: names,
	}
}

// Write renders the report in the given format
func Write(w io.Writer, r Report, format Format) error {
	if r.Table == nil {
		return core.NewInvalidArgument("report", "no power table")
	}
	switch format {
	case FormatTable:
		_, err := io.WriteString(w, Terminal(r)+"\n")
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatCSV:
		return writeCSV(w, r)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(r))
		return err
	case FormatHTML:
		_, err := w.Write(HTML(r))
		return err
	case FormatXLSX:
		return excel.Write(w, excel.Workbook{
			Run: excel.RunInfo{
				RunID:      r.RunID.String(),
				Formula:    r.Formula,
				Method:     string(r.Method),
				Replicates: r.Replicates,
				Seed:       r.Seed,
				CreatedAt:  r.CreatedAt,
				Duration:   r.Duration,
			},
			Table:        r.Table,
			Coefficients: r.Coefficients,
			Outcomes:     r.Outcomes,
		})
	}
	return core.NewInvalidArgumentf("format", "unknown format %q", format)
}

var columns = []string{"Coefficient", "Power", "95% CI", "Mean est.", "SD est.", "Percentile interval", "Mean SE"}

func cells(row power.Row) []string {
	return []string{
		row.Coefficient,
		fmt.Sprintf("%.1f%%", 100*row.Power),
		fmt.Sprintf("[%s, %s]", num(row.Lower), num(row.Upper)),
		num(row.MeanEstimate),
		num(row.SDEstimate),
		fmt.Sprintf("[%s, %s]", num(row.Percentile.Lower), num(row.Percentile.Upper)),
		num(row.MeanStdError),
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func summaryLine(r Report) string {
	t := r.Table
	line := fmt.Sprintf("%d replicates (%s), %d singular, %d failed, alpha %.3g, seed %d",
		t.Replicates, r.Method, t.SingularCount, t.FailedCount, t.Alpha, r.Seed)
	if r.Cached {
		line += ", cached"
	}
	return line
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#20B9B4"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7A8B91"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Terminal renders the power table with lipgloss
func Terminal(r Report) string {
	rows := make([][]string, len(r.Table.Rows))
	for i, row := range r.Table.Rows {
		rows[i] = cells(row)
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(r.Formula),
		t.Render(),
		mutedStyle.Render(summaryLine(r)),
	)
}

func writeCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	header := []string{"coefficient", "power", "lower", "upper", "detected", "mean_estimate", "sd_estimate",
		"percentile_lower", "percentile_upper", "mean_std_error"}
	if err := cw.Write(header); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, row := range r.Table.Rows {
		record := []string{
			row.Coefficient, f(row.Power), f(row.Lower), f(row.Upper), strconv.Itoa(row.Detected),
			f(row.MeanEstimate), f(row.SDEstimate), f(row.Percentile.Lower), f(row.Percentile.Upper), f(row.MeanStdError),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Markdown renders the report as a GitHub-flavoured markdown document
func Markdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Power analysis %s\n\n", r.RunID)
	fmt.Fprintf(&b, "`%s`\n\n", r.Formula)
	fmt.Fprintf(&b, "%s.\n\n", summaryLine(r))

	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for _, row := range r.Table.Rows {
		c := cells(row)
		for i := range c {
			c[i] = strings.ReplaceAll(c[i], "|", `\|`)
		}
		b.WriteString("| " + strings.Join(c, " | ") + " |\n")
	}

	if len(r.Diagnostics) > 0 {
		b.WriteString("\n## Sampling distributions\n\n")
		b.WriteString("| Coefficient | N | Median | IQR | Skewness | Excess kurtosis | Normality p | Outliers | Mean z |\n")
		b.WriteString("|" + strings.Repeat(" --- |", 9) + "\n")
		for _, d := range r.Diagnostics {
			fmt.Fprintf(&b, "| %s | %d | %s | [%s, %s] | %s | %s | %s | %d | %s |\n",
				strings.ReplaceAll(d.Coefficient, "|", `\|`), d.N, num(d.Median), num(d.Q25), num(d.Q75),
				num(d.Skewness), num(d.Kurtosis), num(d.NormalityP), d.Outliers, num(d.MeanZ))
		}
	}
	return b.String()
}

// HTML renders the markdown report as a standalone HTML page
func HTML(r Report) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: fmt.Sprintf("Power analysis %s", r.RunID),
	})
	return markdown.ToHTML([]byte(Markdown(r)), p, renderer)
}

// Render is Write into a byte slice
func Render(r Report, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, r, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentType returns the MIME type of a format
func ContentType(format Format) string {
	switch format {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}
