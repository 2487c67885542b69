// Package tui renders geosample's terminal output.
// Simple, streaming, no full-screen UI - just styled lines, a progress bar
// and one interactive prompt.
package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/geosample/geosample/internal/model"
	"github.com/geosample/geosample/pkg/batch"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/report"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().PaddingRight(2)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader prints the program banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  GEOSAMPLE")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Two-phase reservoir sampling of land-cover rasters"))
	fmt.Fprintln(w)
}

// PrintRunStatus prints how many partitions are already done before a run.
// It returns false when nothing is left to extract.
func PrintRunStatus(w io.Writer, done, total int) bool {
	pending := total - done
	fmt.Fprintf(w, "  %s %s done, %s pending\n",
		mutedStyle.Render("Partitions:"),
		titleStyle.Render(strconv.Itoa(done)),
		titleStyle.Render(strconv.Itoa(pending)))
	if pending == 0 {
		fmt.Fprintln(w, successStyle.Render("  ✓ All partitions are extracted."))
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Next:"), codeStyle.Render("geosample reduce --all"))
		return false
	}
	return true
}

// PrintSummary prints the result of a Phase-1 run.
func PrintSummary(w io.Writer, s *batch.Summary) {
	fmt.Fprintln(w)
	if s.Failed == 0 {
		fmt.Fprintln(w, successStyle.Render("  ✓ EXTRACTION COMPLETE"))
	} else {
		fmt.Fprintln(w, accentStyle.Render("  ✗ EXTRACTION FINISHED WITH FAILURES"))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Processed:"), titleStyle.Render(strconv.Itoa(s.Succeeded)))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Skipped:  "), titleStyle.Render(strconv.Itoa(s.Skipped)))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Failed:   "), titleStyle.Render(strconv.Itoa(s.Failed)))
	fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("Pixels:   "),
		titleStyle.Render(formatNumber(s.Pixels)),
		mutedStyle.Render("(target classes)"))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Time:     "), titleStyle.Render(formatDuration(s.Elapsed)))
	fmt.Fprintf(w, "  %s %d/%d partitions done\n", mutedStyle.Render("Progress: "), s.Done, s.Total)

	if s.Failed > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("  Errors:"))
		for _, o := range s.Outcomes {
			if o.Status == batch.StatusFailed {
				fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(o.PartitionID+":"), o.Err)
			}
		}
	}
	if s.Complete() {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Next:"), codeStyle.Render("geosample reduce --all"))
	}
	fmt.Fprintln(w)
}

// PrintClassResult prints the outcome of reducing one class. path is empty
// when nothing was written.
func PrintClassResult(w io.Writer, set *model.FinalSampleSet, path string) {
	label := fmt.Sprintf("%d %s", set.Class, set.ClassName)
	if set.Empty() {
		fmt.Fprintf(w, "  %s %s %s\n", warnStyle.Render("!"), titleStyle.Render(label),
			mutedStyle.Render("no pixels found, nothing written"))
		return
	}
	fmt.Fprintf(w, "  %s %s %s of %s pixels\n",
		successStyle.Render("✓"),
		titleStyle.Render(label),
		titleStyle.Render(strconv.Itoa(len(set.Samples))),
		formatNumber(set.Count))
	if set.Count < int64(set.Capacity) {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("    fewer pixels than the target of %d, all kept", set.Capacity)))
	} else if set.Offered < int64(set.Capacity) {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("    only %d Phase-1 samples for a target of %d, all kept", set.Offered, set.Capacity)))
	}
	if !set.Exact() {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("    approximate: %d of %d partitions hit the Phase-1 capacity",
			set.SaturatedPartitions, set.Partitions)))
	}
	if path != "" {
		fmt.Fprintf(w, "    %s\n", codeStyle.Render(path))
	}
}

// PartitionState is one row of the status table.
type PartitionState struct {
	ID    string
	State string
}

// PrintStatus prints per-partition checkpoint states.
func PrintStatus(w io.Writer, rows []PartitionState) {
	done := 0
	for _, r := range rows {
		style := mutedStyle
		if r.State == "DONE" {
			style = successStyle
			done++
		}
		fmt.Fprintf(w, "  %s %s\n", style.Render(fmt.Sprintf("%-8s", r.State)), r.ID)
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	pct := 0.0
	if len(rows) > 0 {
		pct = float64(done) / float64(len(rows)) * 100
	}
	fmt.Fprintf(w, "  %s %d/%d (%.0f%%)\n", titleStyle.Render("Done:"), done, len(rows), pct)
}

// PrintReport prints the class abundance table.
func PrintReport(w io.Writer, rep *report.Report) {
	header := []string{"CLASS", "NAME", "PIXELS", "SHARE", "PARTS", "SATURATED", "EXACT"}
	rows := [][]string{header}
	for _, r := range rep.Classes {
		exact := "yes"
		if !r.Exact() {
			exact = "no"
		}
		rows = append(rows, []string{
			strconv.Itoa(int(r.Class)),
			r.Name,
			formatNumber(r.Pixels),
			fmt.Sprintf("%.1f%%", r.Share*100),
			strconv.Itoa(r.Present),
			strconv.Itoa(r.Saturated),
			exact,
		})
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	for n, row := range rows {
		var sb strings.Builder
		sb.WriteString("  ")
		for i, cell := range row {
			sb.WriteString(cellStyle.Render(cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))))
		}
		line := strings.TrimRight(sb.String(), " ")
		if n == 0 {
			line = titleStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintf(w, "  %s %d/%d partitions\n", mutedStyle.Render("Based on"), rep.Done, rep.Partitions)
}

// PromptClass asks which classes to reduce. The answer may be a class id,
// a class name, a comma-separated list of either, or "all".
func PromptClass(r io.Reader, w io.Writer, classes model.ClassMap) ([]model.ClassID, error) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ SELECT CLASS"))
	for _, id := range classes.IDs() {
		fmt.Fprintf(w, "  %s %s\n", titleStyle.Render(fmt.Sprintf("%4d", id)), mutedStyle.Render(classes.Name(id)))
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, "  Class (id, name or all): ")

	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && input == "" {
		return nil, err
	}
	return ParseSelection(strings.TrimSpace(input), classes)
}

// ParseSelection resolves a class selection against the class map.
func ParseSelection(s string, classes model.ClassMap) ([]model.ClassID, error) {
	if strings.EqualFold(s, "all") {
		return classes.IDs(), nil
	}
	var out []model.ClassID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, ok := lookup(part, classes)
		if !ok {
			return nil, gserrors.InvalidClass(part)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, gserrors.InvalidClass(s)
	}
	return out, nil
}

func lookup(s string, classes model.ClassMap) (model.ClassID, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		_, ok := classes[model.ClassID(n)]
		return model.ClassID(n), ok
	}
	want := normalizeName(s)
	for id, name := range classes {
		if normalizeName(name) == want {
			return id, true
		}
	}
	return 0, false
}

// normalizeName folds case and treats spaces, '_' and '-' alike, so
// "tree_cover" selects "Tree cover".
func normalizeName(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), " ")
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a partition progress bar on stderr.
func ShowProgress(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
