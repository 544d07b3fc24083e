// Package report renders power tables as Markdown and HTML.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/montanaflynn/stats"

	"mixpower/domain/power"
	apperrors "mixpower/internal/errors"
)

// Markdown renders one section per run, followed by a per-coefficient summary
// across runs when there is more than one.
func Markdown(title string, runs []*power.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)

	for _, run := range runs {
		cfg := run.Config
		fmt.Fprintf(&b, "## subject_n = %d, item_n = %d\n\n", cfg.SubjectN, cfg.ItemN)
		fmt.Fprintf(&b, "nsims = %d, alpha = %g, seed = %d, failed trials = %d, run `%s`\n\n",
			run.Table.NSims, run.Table.Alpha, cfg.Seed, run.Table.FailedTrials, run.ID)

		b.WriteString("| coefficient | power | 95% CI | mean estimate | valid | failed |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, row := range run.Table.Rows {
			if row.Undefined {
				fmt.Fprintf(&b, "| %s | undefined | | | %d | %d |\n", escape(row.CoefName), row.Valid, row.Failed)
				continue
			}
			fmt.Fprintf(&b, "| %s | %.3f | [%.3f, %.3f] | %.4f | %d | %d |\n",
				escape(row.CoefName), row.Power, row.LowerCI, row.UpperCI, row.MeanEstimate, row.Valid, row.Failed)
		}
		b.WriteString("\n")
	}

	if len(runs) > 1 {
		b.WriteString(summary(runs))
	}
	return b.String()
}

// summary lists min, median and max power of each coefficient across runs.
func summary(runs []*power.Run) string {
	var order []string
	values := make(map[string][]float64)
	for _, run := range runs {
		for _, row := range run.Table.Rows {
			if _, ok := values[row.CoefName]; !ok {
				order = append(order, row.CoefName)
				values[row.CoefName] = nil
			}
			if !row.Undefined {
				values[row.CoefName] = append(values[row.CoefName], row.Power)
			}
		}
	}

	var b strings.Builder
	b.WriteString("## Power across design points\n\n")
	b.WriteString("| coefficient | min | median | max | points |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, name := range order {
		data := stats.Float64Data(values[name])
		if data.Len() == 0 {
			fmt.Fprintf(&b, "| %s | | | | 0 |\n", escape(name))
			continue
		}
		lo, _ := data.Min()
		med, _ := data.Median()
		hi, _ := data.Max()
		fmt.Fprintf(&b, "| %s | %.3f | %.3f | %.3f | %d |\n", escape(name), lo, med, hi, data.Len())
	}
	b.WriteString("\n")
	return b.String()
}

// HTML renders the Markdown report as a complete HTML page.
func HTML(title string, runs []*power.Run) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML([]byte(Markdown(title, runs)), p, renderer)
}

// WriteFile writes Markdown for .md paths and HTML otherwise.
func WriteFile(path, title string, runs []*power.Run) error {
	var content []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		content = []byte(Markdown(title, runs))
	default:
		content = HTML(title, runs)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.OutputError(path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return apperrors.OutputError(path, err)
	}
	return nil
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
