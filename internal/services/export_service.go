package services

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"daybook/internal/models"
)

const exportSheet = "Entries"

// ExportService renders a user's finalized journal as HTML or XLSX
type ExportService struct {
	entries *EntryService
	md      goldmark.Markdown
}

// NewExportService creates a new export service
func NewExportService(entries *EntryService) *ExportService {
	return &ExportService{
		entries: entries,
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM, // GitHub Flavored Markdown (includes Table, Strikethrough, Linkify, TaskList)
			),
		),
	}
}

func (s *ExportService) load(ctx context.Context, userID string) ([]models.Entry, error) {
	entries, err := s.entries.List(ctx, userID, ListEntriesOptions{Limit: 500})
	if err != nil {
		return nil, err
	}
	sortChronologically(entries)
	return entries, nil
}

// ExportHTML renders the user's entries as a standalone HTML document
func (s *ExportService) ExportHTML(ctx context.Context, userID string) ([]byte, error) {
	entries, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out, err := s.RenderHTML(entries)
	if err != nil {
		return nil, err
	}
	log.Printf("📄 [EXPORT] HTML export for %s: %d entries, %d bytes", userID, len(entries), len(out))
	return out, nil
}

// ExportXLSX renders the user's entries as a spreadsheet
func (s *ExportService) ExportXLSX(ctx context.Context, userID string) ([]byte, error) {
	entries, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out, err := RenderXLSX(entries)
	if err != nil {
		return nil, err
	}
	log.Printf("📊 [EXPORT] XLSX export for %s: %d entries, %d bytes", userID, len(entries), len(out))
	return out, nil
}

func sortChronologically(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Day != entries[j].Day {
			return entries[i].Day < entries[j].Day
		}
		return entries[i].Date.Before(entries[j].Date)
	})
}

// RenderMarkdown renders entries as one markdown document
func RenderMarkdown(entries []models.Entry) string {
	var b strings.Builder
	b.WriteString("# Journal\n")

	for _, e := range entries {
		title := e.Day
		if e.Summary != nil && e.Summary.Title != "" {
			title = fmt.Sprintf("%s: %s", e.Day, e.Summary.Title)
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)

		if e.Summary != nil && e.Summary.Content != "" {
			fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(e.Summary.Content, "\n", "\n> "))
		}
		for _, r := range e.Responses {
			if r.Question != "" {
				fmt.Fprintf(&b, "**%s**\n\n", r.Question)
			}
			fmt.Fprintf(&b, "%s\n\n", r.Text())
		}
		if e.Entities != nil && len(e.Entities.Topics) > 0 {
			fmt.Fprintf(&b, "_Topics: %s_\n", strings.Join(e.Entities.Topics, ", "))
		}
	}
	return b.String()
}

// RenderHTML converts the markdown rendering to a styled HTML page.
// Raw HTML in journal text is not passed through.
func (s *ExportService) RenderHTML(entries []models.Entry) ([]byte, error) {
	var body bytes.Buffer
	if err := s.md.Convert([]byte(RenderMarkdown(entries)), &body); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>%s</title>
    <style>
        body { font-family: Georgia, serif; max-width: 720px; margin: 40px auto; line-height: 1.6; color: #222; }
        h2 { border-bottom: 1px solid #ddd; padding-bottom: 4px; margin-top: 2em; }
        blockquote { color: #555; border-left: 3px solid #ccc; margin-left: 0; padding-left: 1em; }
    </style>
</head>
<body>
`, html.EscapeString("Journal export"))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

// RenderXLSX writes one row per response with the entry's summary and entities
func RenderXLSX(entries []models.Entry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headers := []string{"Day", "Template", "Title", "Summary", "Question", "Response", "Emotions", "People", "Places", "Topics"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(exportSheet, 1, 1, bold); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(exportSheet, "D", "F", 60)

	row := 2
	for _, e := range entries {
		var title, summary string
		if e.Summary != nil {
			title, summary = e.Summary.Title, e.Summary.Content
		}
		ent := e.Entities.Normalize()

		responses := e.Responses
		if len(responses) == 0 {
			responses = []models.ComposeResponse{{}}
		}
		for _, r := range responses {
			values := []any{
				e.Day, e.TemplateID, title, summary, r.Question, r.Text(),
				strings.Join(ent.Emotions, ", "),
				strings.Join(ent.People, ", "),
				strings.Join(ent.Places, ", "),
				strings.Join(ent.Topics, ", "),
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
			row++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return buf.Bytes(), nil
}
