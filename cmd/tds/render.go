package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/algsoch/data-science-tool/internal/corpus"
	"github.com/algsoch/data-science-tool/internal/engine"
	"github.com/algsoch/data-science-tool/internal/matcher"
	"github.com/algsoch/data-science-tool/internal/resolver"
	"github.com/algsoch/data-science-tool/internal/uploads"
)

// ═══════════════════════════════════════════════════════════════════════════
// STYLES
// ═══════════════════════════════════════════════════════════════════════════

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func title(s string) {
	fmt.Println(titleStyle.Render(s))
	fmt.Println(dimStyle.Render(strings.Repeat("─", 40)))
}

func field(label string, value any) {
	fmt.Printf("%s %v\n", labelStyle.Render(label+":"), value)
}

func yesNo(b bool) string {
	if b {
		return okStyle.Render("yes")
	}
	return warnStyle.Render("no")
}

// ═══════════════════════════════════════════════════════════════════════════
// RENDERERS
// ═══════════════════════════════════════════════════════════════════════════

func renderMatch(r matcher.Result) {
	title("Match")
	if !r.Matched() {
		field("Handler", warnStyle.Render("none"))
		return
	}
	field("Handler", okStyle.Render(r.Record.Handler))
	field("Strategy", r.Strategy)
	field("Score", fmt.Sprintf("%.3f", r.Score))
	if r.Rule != "" {
		field("Rule", r.Rule)
	}
	if r.Record.Input != "" {
		field("Input", r.Record.Input)
	}
	field("Question", truncate(r.Record.Question, 80))
}

func renderReference(ref resolver.FileReference) {
	title("File")
	field("Path", ref.Path)
	field("Exists", yesNo(ref.Exists))
	field("Source", ref.Source)
	field("Category", ref.Category)
	if ref.Extension != "" {
		field("Extension", ref.Extension)
	}
	if ref.IsRemote {
		field("Remote", warnStyle.Render("not staged"))
	}
	if ref.Signature != "" {
		field("Signature", ref.Signature)
	}
}

func renderDispatch(d engine.Dispatch) {
	title("Answer")
	if !d.Matched() {
		field("Handler", warnStyle.Render("none"))
		field("Task", d.TaskCategory)
		return
	}
	field("Handler", okStyle.Render(d.HandlerID))
	field("Strategy", d.MatchStrategy)
	field("Score", fmt.Sprintf("%.3f", d.MatchScore))
	field("Task", d.TaskCategory)
	if d.UploadID != "" {
		field("Upload", d.UploadID)
	}
	if d.File != nil {
		field("File", d.File.Path)
		field("Source", d.File.Source)
		field("Exists", yesNo(d.File.Exists))
	}
	if d.ExtractedDir != "" {
		field("Extracted", d.ExtractedDir)
	}
	p := d.Parameters
	if len(p.Files) > 0 {
		field("Files", strings.Join(p.Files, ", "))
	}
	if len(p.URLs) > 0 {
		field("URLs", strings.Join(p.URLs, ", "))
	}
	if len(p.Numbers) > 0 {
		field("Numbers", strings.Join(p.Numbers, ", "))
	}
	if len(p.Flags) > 0 {
		field("Flags", strings.Join(p.Flags, " "))
	}
}

func renderRecords(records []corpus.Record) {
	title(fmt.Sprintf("Corpus (%d questions)", len(records)))
	for _, r := range records {
		fmt.Printf("%3d  %-14s %s\n", r.ID, okStyle.Render(r.Handler), truncate(r.Question, 70))
	}
}

func renderHits(hits []corpus.Hit) {
	if len(hits) == 0 {
		fmt.Println(warnStyle.Render("No matching questions."))
		return
	}
	for _, h := range hits {
		fmt.Printf("%3d  %-14s %s %s\n", h.Record.ID, okStyle.Render(h.Record.Handler),
			truncate(h.Record.Question, 60), dimStyle.Render(fmt.Sprintf("(%d)", h.Score)))
	}
}

func renderUploads(list []uploads.Upload) {
	title(fmt.Sprintf("Uploads (%d)", len(list)))
	for _, u := range list {
		fmt.Printf("%s  %-9s %8d  %s  %s\n", okStyle.Render(u.ID), u.Category, u.Size,
			u.UploadedAt.Format("2006-01-02 15:04"), u.OriginalName)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
