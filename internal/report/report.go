// Package report renders run results for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/scheduler"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json, yaml and yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", apperrors.Validation("output", fmt.Sprintf("unknown format %q (supported: text, json, yaml)", s))
	}
}

// Write renders res to w in the given format.
func Write(w io.Writer, format Format, res *scheduler.Result) error {
	if res == nil {
		return apperrors.Validation("result", "nothing to report")
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		return writeText(w, res)
	default:
		return apperrors.Validation("output", fmt.Sprintf("unknown format %q", format))
	}
}

type palette struct {
	title   lipgloss.Style
	label   lipgloss.Style
	detail  lipgloss.Style
	status  map[pipeline.Status]lipgloss.Style
	keyCell lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	color := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }
	return palette{
		title:  r.NewStyle().Bold(true),
		label:  color("#A0AEC0"),
		detail: color("#999999"),
		status: map[pipeline.Status]lipgloss.Style{
			pipeline.StatusSucceeded: color("#4CAF50").Bold(true),
			pipeline.StatusFailed:    color("#FF6B6B").Bold(true),
			pipeline.StatusCancelled: color("#F7B801").Bold(true),
			pipeline.StatusRunning:   color("#5B8DEF").Bold(true),
			pipeline.StatusSkipped:   color("#999999"),
		},
		keyCell: r.NewStyle(),
	}
}

func (p palette) statusLabel(s pipeline.Status) string {
	style, ok := p.status[s]
	if !ok {
		style = p.detail
	}
	return style.Render(strings.ToUpper(string(s)))
}

func writeText(w io.Writer, res *scheduler.Result) error {
	p := newPalette(w)

	keyWidth := 0
	for _, inst := range res.Instances {
		keyWidth = max(keyWidth, len(inst.Key))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.title.Render("Run"), res.RunID)
	fmt.Fprintf(&b, "  %s %s\n", p.label.Render("trigger:"), res.Event.String())
	fmt.Fprintf(&b, "  %s %s\n", p.label.Render("version:"), res.Version)
	status := p.statusLabel(res.Status)
	if res.Cancelled {
		status += " " + p.detail.Render("(cancelled)")
	}
	fmt.Fprintf(&b, "  %s %s in %s\n", p.label.Render("status: "), status, formatDuration(res.Duration))

	if len(res.Instances) > 0 {
		fmt.Fprintf(&b, "\n%s\n", p.title.Render("Jobs"))
		for _, inst := range res.Instances {
			key := p.keyCell.Width(keyWidth).Render(inst.Key)
			line := fmt.Sprintf("  %s  %-9s %s", key, p.statusLabel(inst.Status), formatDuration(inst.Duration))
			if inst.Reason != "" {
				line += "  " + p.detail.Render(inst.Reason)
			}
			if inst.Error != "" {
				line += "  " + p.detail.Render(fmt.Sprintf("[%s] %s", inst.ErrorKind, firstLine(inst.Error)))
			}
			b.WriteString(line + "\n")
		}
	}

	if len(res.Artifacts) > 0 {
		fmt.Fprintf(&b, "\n%s\n", p.title.Render("Artifacts"))
		for _, ref := range res.Artifacts {
			fmt.Fprintf(&b, "  %s  %s  %s  %s\n", ref.Name, humanBytes(ref.Size), shortDigest(ref.Digest),
				p.detail.Render("from "+ref.Producer))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func shortDigest(d string) string {
	const n = len("sha256:") + 12
	if len(d) > n {
		return d[:n]
	}
	return d
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
