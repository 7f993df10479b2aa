package application

import (
	"context"
	"fmt"
	"sort"

	"guildlink/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	issuesSheetName  = "Open issues"
	summarySheetName = "Summary"
	reportTimeLayout = "2006-01-02 15:04"
)

var issueHeaders = []string{"ID", "Type", "Severity", "Summary", "Character", "Chat account", "Player", "Created", "Updated"}

// ExportIssues renders every open issue into an xlsx workbook.
func (s *Service) ExportIssues(ctx context.Context) ([]byte, error) {
	issues, err := s.repos.Issues.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open issues: %w", err)
	}
	return BuildIssueReport(issues)
}

// BuildIssueReport writes issues to an issue sheet and a per-type summary sheet.
func BuildIssueReport(issues []models.AuditIssue) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(issuesSheetName); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheetName); err != nil {
		return nil, err
	}
	f.DeleteSheet("Sheet1")

	for i, h := range issueHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(issuesSheetName, cell, h)
	}

	perType := make(map[models.IssueType]int)
	row := 2
	for _, is := range issues {
		perType[is.IssueType]++
		values := []any{
			is.ID,
			string(is.IssueType),
			string(is.Severity),
			is.Summary,
			idOrBlank(is.CharacterID),
			idOrBlank(is.ChatAccountID),
			idOrBlank(is.PlayerID),
			is.CreatedAt.Format(reportTimeLayout),
			is.UpdatedAt.Format(reportTimeLayout),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(issuesSheetName, cell, v)
		}
		row++
	}

	f.SetColWidth(issuesSheetName, "A", "A", 8)
	f.SetColWidth(issuesSheetName, "B", "C", 22)
	f.SetColWidth(issuesSheetName, "D", "D", 70)
	f.SetColWidth(issuesSheetName, "E", "I", 16)

	f.SetCellValue(summarySheetName, "A1", "Type")
	f.SetCellValue(summarySheetName, "B1", "Open")
	types := make([]string, 0, len(perType))
	for t := range perType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for i, t := range types {
		f.SetCellValue(summarySheetName, fmt.Sprintf("A%d", i+2), t)
		f.SetCellValue(summarySheetName, fmt.Sprintf("B%d", i+2), perType[models.IssueType(t)])
	}
	f.SetColWidth(summarySheetName, "A", "A", 24)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func idOrBlank(id *int64) any {
	if id == nil {
		return ""
	}
	return *id
}
