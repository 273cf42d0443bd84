package wrap

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/go-analyze/charts"
)

const bottomTableMaxRecords = 10

// chart color constants
var greenTextColor = charts.ColorGreenAlt3
var redTextColor = charts.ColorRed.WithAdjustHSL(0, .1, -.1)

// ReportMetrics contains the results of a run.
type ReportMetrics struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	RunDuration     int64          `json:"run_ms"`
	TemplateVersion string         `json:"template_version"`
	PageCount       int            `json:"page_count"`
	StatusCounts    map[string]int `json:"status_counts"`
	WrappedCount    int            `json:"wrapped_count"`
	CacheHits       int64          `json:"cache_hits"`
	CacheMisses     int64          `json:"cache_misses"`
	Pages           []PageDetail   `json:"pages"`
}

// PageDetail summarizes the outcome of one page.
type PageDetail struct {
	Path           string            `json:"path"`
	Route          string            `json:"route"`
	Status         Status            `json:"status"`
	Aliases        map[string]string `json:"aliases,omitempty"`
	Diagnostic     string            `json:"diagnostic,omitempty"`
	Cached         bool              `json:"cached"`
	AlreadyWrapped bool              `json:"already_wrapped,omitempty"`
	DurationMs     int64             `json:"duration_ms"`
}

// PrepareReport converts a run summary into its report form, pages sorted by path.
func PrepareReport(summary RunSummary) ReportMetrics {
	report := ReportMetrics{
		GeneratedAt:     time.Now(),
		RunDuration:     summary.Duration.Milliseconds(),
		TemplateVersion: summary.TemplateVersion,
		PageCount:       len(summary.Outcomes),
		StatusCounts:    summary.StatusCounts(),
		CacheHits:       summary.CacheHits,
		CacheMisses:     summary.CacheMisses,
		Pages:           make([]PageDetail, len(summary.Outcomes)),
	}
	for i, o := range summary.Outcomes {
		report.Pages[i] = PageDetail{
			Path:           o.Path,
			Route:          o.Route,
			Status:         o.Status,
			Aliases:        o.Aliases,
			Diagnostic:     o.Diagnostic,
			Cached:         o.Cached,
			AlreadyWrapped: o.AlreadyWrapped,
			DurationMs:     o.Duration.Milliseconds(),
		}
	}
	slices.SortFunc(report.Pages, func(a, b PageDetail) int {
		return strings.Compare(a.Path, b.Path)
	})
	report.WrappedCount = report.StatusCounts[StatusRewritten.String()]
	return report
}

func writeReportJSON(path string, report ReportMetrics) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	} else if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report file failed: %w", err)
	}
	return nil
}

// RenderReportChartsFromJson renders the PNG overview chart of a previously written report.
func RenderReportChartsFromJson(report ReportMetrics) ([]byte, error) {
	if report.StatusCounts == nil { // reports with only pages listed
		report.StatusCounts = bulk.SliceToCounts(pageStatusNames(report.Pages))
	}
	painterOpt := charts.PainterOptions{
		OutputFormat: charts.ChartOutputPNG,
		Width:        1024,
		Height:       768,
	}
	return renderReportCharts(painterOpt, report)
}

func pageStatusNames(pages []PageDetail) []string {
	names := make([]string, len(pages))
	for i, p := range pages {
		names[i] = p.Status.String()
	}
	return names
}

func chartOutputFormat(path string) (string, error) {
	if strings.HasSuffix(path, ".png") {
		return charts.ChartOutputPNG, nil
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		return charts.ChartOutputJPG, nil
	} else if strings.HasSuffix(path, ".svg") {
		return charts.ChartOutputSVG, nil
	}
	return "", fmt.Errorf("unhandled chart file type: %s", path)
}

func writeReportCharts(path string, report ReportMetrics) error {
	outputType, err := chartOutputFormat(path)
	if err != nil {
		return err
	}

	painterOpt := charts.PainterOptions{
		OutputFormat: outputType,
		Width:        1024,
		Height:       1024,
	}
	if buf, err := renderReportCharts(painterOpt, report); err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

func renderReportCharts(painterOpt charts.PainterOptions, report ReportMetrics) ([]byte, error) {
	p := charts.NewPainter(painterOpt)
	if chartBox, err := renderChartsToPainter(p, report); err != nil {
		return nil, err
	} else if chartBox.Height() < p.Height()-128 || chartBox.Height() > p.Height() {
		// re-render with a smaller painter to better fit the charts
		painterOpt.Height = chartBox.Height()
		p = charts.NewPainter(painterOpt)
		if _, err := renderChartsToPainter(p, report); err != nil {
			return nil, err
		}
	}
	return p.Bytes()
}

func renderChartsToPainter(p *charts.Painter, report ReportMetrics) (charts.Box, error) {
	const chartPadding = 10
	resultBox := charts.NewBoxEqual(0)
	resultBox.Right = p.Width()
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p = p.Child(charts.PainterPaddingOption(charts.NewBox(0, chartPadding, chartPadding, chartPadding)))

	titleFont := charts.FontStyle{
		FontSize:  16,
		FontColor: charts.ColorBlack,
		Font:      charts.GetDefaultFont(),
	}
	title := fmt.Sprintf("pagewrap %s: %d pages", report.TemplateVersion, report.PageCount)
	titleBox := p.MeasureText(title, 0, titleFont)
	resultBox.Bottom += titleBox.Height()

	const middleUpShift = "-40" // overlap amount between rows
	painters, err := p.LayoutByRows().
		RowGap(strconv.Itoa(titleBox.Height())).
		Row().Height("128").Columns("topLeft", "topRight").
		Row().Height("120").RowOffset(middleUpShift).Columns("middle").
		Row().Columns("bottom"). // single large painter at the bottom with all remaining space
		Build()
	if err != nil {
		return resultBox, fmt.Errorf("error building chart layout: %w", err)
	}
	topLeft := painters["topLeft"]
	topRight := painters["topRight"]
	middle := painters["middle"]
	bottom := painters["bottom"]

	barGaugeThemeGreenYellow := charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			{ /* Golden yellow */ R: 220, G: 210, B: 100, A: 255},
		})

	wrapped := report.StatusCounts[StatusRewritten.String()]
	topLeftOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(wrapped)}, {float64(report.PageCount - wrapped)},
	})
	topLeftOpt.StackSeries = charts.Ptr(true)
	topLeftOpt.Theme = barGaugeThemeGreenYellow
	topLeftOpt.Title.Text = "Pages Wrapped"
	topLeftOpt.XAxis.Unit = axisUnitForMax(report.PageCount)
	topLeftOpt.YAxis.Show = charts.Ptr(false)
	topLeftOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	topLeftOpt.SeriesList[1].Label.ValueFormatter = func(f float64) string {
		return percentOf(float64(report.PageCount)-f, float64(report.PageCount))
	}
	if err := topLeft.HorizontalBarChart(topLeftOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}

	lookups := report.CacheHits + report.CacheMisses
	topRightOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(report.CacheHits)}, {float64(report.CacheMisses)},
	})
	topRightOpt.StackSeries = charts.Ptr(true)
	topRightOpt.Theme = barGaugeThemeGreenYellow
	topRightOpt.Title.Text = "Rewrite Cache Hits"
	topRightOpt.XAxis.Unit = axisUnitForMax(int(lookups))
	topRightOpt.YAxis.Show = charts.Ptr(false)
	topRightOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	topRightOpt.SeriesList[1].Label.ValueFormatter = func(f float64) string {
		return percentOf(float64(lookups)-f, float64(lookups))
	}
	if err := topRight.HorizontalBarChart(topRightOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}
	resultBox.Bottom += max(topLeft.Height(), topRight.Height())

	// one stacked bar, a series per status
	statusValues := make([][]float64, len(statusNames))
	for i, name := range statusNames {
		statusValues[i] = []float64{float64(report.StatusCounts[name])}
	}
	middleOpt := charts.NewHorizontalBarChartOptionWithData(statusValues)
	middleOpt.StackSeries = charts.Ptr(true)
	middleOpt.Theme = charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,            // rewritten
			{R: 170, G: 170, B: 170, A: 255}, // no tracked names
			{R: 120, G: 150, B: 200, A: 255}, // not a module
			charts.ColorRed,                  // parse failed
			{R: 220, G: 210, B: 100, A: 255}, // no bindings
		})
	middleOpt.Title.Text = "Page Outcomes (" + strings.Join(statusNames[:], ", ") + ")"
	middleOpt.XAxis.Unit = axisUnitForMax(report.PageCount)
	middleOpt.YAxis.Show = charts.Ptr(false)
	middleOpt.BarHeight = 22
	if err := middle.HorizontalBarChart(middleOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}
	resultBox.Bottom += middle.Height()

	tableBottom, err := renderPageTable(bottom, report.Pages, titleFont)
	if err != nil {
		return resultBox, err
	}
	resultBox.Bottom += tableBottom

	// title rendered after the charts to ensure it does not get clipped
	p.Text(title, (p.Width()/2)-(titleBox.Width()/2), titleBox.Height(), 0, titleFont)
	return resultBox, nil
}

// renderPageTable lists the pages most in need of attention, parse failures first. It returns the height used.
func renderPageTable(bottom *charts.Painter, pages []PageDetail, titleFont charts.FontStyle) (int, error) {
	notable := bulk.SliceFilter(func(p PageDetail) bool {
		return p.Status == StatusParseFailed || p.Status == StatusRewritten
	}, pages)
	if len(notable) == 0 {
		text := "No Pages Wrapped"
		textBox := bottom.MeasureText(text, 0, titleFont)
		bottom.Text(text, (bottom.Width()-textBox.Width())/2, bottom.Height()/2, 0, titleFont)
		return textBox.Height() * 2, nil
	}
	slices.SortStableFunc(notable, func(a, b PageDetail) int {
		if a.Status != b.Status { // parse failures before rewritten pages
			if a.Status == StatusParseFailed {
				return -1
			}
			return 1
		}
		return 0
	})
	if len(notable) > bottomTableMaxRecords {
		notable = notable[:bottomTableMaxRecords]
	}

	rows := make([][]string, len(notable))
	for i, page := range notable {
		detail := page.Diagnostic
		if page.Status == StatusRewritten {
			var sb strings.Builder
			for _, name := range slices.Sorted(maps.Keys(page.Aliases)) {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(name + " -> " + page.Aliases[name])
			}
			detail = sb.String()
		} else {
			detail = limitStringLines(detail, 2, true)
			if len(detail) > 66 {
				detail = detail[:64] + ".."
			}
		}
		rows[i] = []string{page.Path, page.Route, page.Status.String(), detail}
	}

	tableTitle := "Pages"
	tableTitleFont := charts.FontStyle{
		FontSize:  12,
		FontColor: charts.GetTheme(charts.ThemeLight).GetTitleTextColor(),
		Font:      charts.GetDefaultFont(),
	}
	tableTitleBox := bottom.MeasureText(tableTitle, 0, tableTitleFont)
	bottom.Text(tableTitle, 10, tableTitleBox.Height(), 0, tableTitleFont)
	rowColors := []charts.Color{
		{R: 240, G: 240, B: 240, A: 255},
		charts.ColorTransparent,
	}
	if len(rows)%2 == 0 {
		// reverse row colors so table end is opposite of transparent
		rowColors[0], rowColors[1] = rowColors[1], rowColors[0]
	}
	defaultCellFontStyle := charts.FontStyle{
		FontSize:  12,
		FontColor: charts.Color{R: 50, G: 50, B: 50, A: 255},
		Font:      charts.GetDefaultFont(),
	}
	tableOpt := charts.TableChartOption{
		Header:                []string{"Page", "Route", "Status", "Detail"},
		Data:                  rows,
		HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
		RowBackgroundColors:   rowColors,
		Padding:               charts.NewBoxEqual(10),
		Spans:                 []int{22, 16, 10, 28},
		TextAligns:            []string{charts.AlignLeft, charts.AlignLeft, charts.AlignCenter, charts.AlignLeft},
		CellModifier: func(cell charts.TableCell) charts.TableCell {
			if cell.Row == 0 {
				return cell
			}
			cell.FontStyle = defaultCellFontStyle // reset on each call to prevent prior changes persisting

			switch cell.Column {
			case 2:
				if cell.Text == StatusParseFailed.String() {
					cell.FontStyle.FontColor = redTextColor
				} else {
					cell.FontStyle.FontColor = greenTextColor
				}
			case 3:
				cell.FontStyle.FontSize = 8
			}
			return cell
		},
	}
	tablePainter := bottom.Child(charts.PainterPaddingOption(charts.NewBox(10, tableTitleBox.Height()+8, 0, 0)))
	if err := tablePainter.TableChart(tableOpt); err != nil {
		return 0, fmt.Errorf("error rendering table: %w", err)
	}
	// re-render to measure the table, the painter does not report the rendered size
	tableOpt.Width = bottom.Width()
	if rendered, _ := charts.TableOptionRenderDirect(tableOpt); rendered != nil {
		return tableTitleBox.Height() + rendered.Height(), nil
	}
	return bottom.Height(), nil
}

func percentOf(part, total float64) string {
	if total == 0 {
		return "0%"
	}
	return charts.FormatValueHumanize(100.0*part/total, 1, false) + "%"
}

func axisUnitForMax(val int) float64 {
	if val >= 8000 {
		return 2000
	} else if val > 2000 {
		return 1000
	} else if val >= 800 {
		return 200
	} else if val > 200 {
		return 100
	} else if val >= 80 {
		return 20
	} else if val > 20 {
		return 10
	} else if val >= 10 {
		return 2
	} else {
		return 1
	}
}
