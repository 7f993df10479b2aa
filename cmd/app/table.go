package main

import (
	"sort"
	"strconv"

	"guildlink/internal/application"
	"guildlink/internal/integrity"
	"guildlink/internal/matching"
	"guildlink/internal/mitigation"
	"guildlink/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(title string, headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if title != "" {
		tw.SetTitle(title)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

var statsAligns = []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}

func statsRow(name string, s matching.Stats) []string {
	return []string{
		name,
		strconv.Itoa(s.PlayersCreated),
		strconv.Itoa(s.CharsLinked),
		strconv.Itoa(s.ChatLinked),
		strconv.Itoa(s.StubsCreated),
		strconv.Itoa(s.Skipped),
		strconv.Itoa(s.Suggestions),
		strconv.Itoa(s.Conflicts),
		strconv.Itoa(s.Failed),
	}
}

func renderMatchResult(res *matching.Result) string {
	names := make([]string, 0, len(res.Rules))
	for name := range res.Rules {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names)+1)
	for _, name := range names {
		rows = append(rows, statsRow(name, res.Rules[name]))
	}
	rows = append(rows, statsRow("total", res.Totals))

	title := "Matching: " + strconv.Itoa(res.Passes) + " passes, unlinked " +
		strconv.Itoa(res.UnlinkedBefore) + " -> " + strconv.Itoa(res.UnlinkedAfter)
	if !res.Converged {
		title += " (pass cap reached)"
	}
	headers := []string{"Rule", "Players", "Chars", "Chat", "Stubs", "Skipped", "Suggested", "Conflicts", "Failed"}
	return renderTable(title, headers, rows, statsAligns)
}

func countsRow(t models.IssueType, c integrity.Counts, resolved int) []string {
	return []string{string(t), strconv.Itoa(c.Found), strconv.Itoa(c.New), strconv.Itoa(c.Failed), strconv.Itoa(resolved)}
}

func renderIntegrityReport(r *integrity.Report) string {
	rows := make([][]string, 0, len(models.AllIssueTypes))
	for _, t := range models.AllIssueTypes {
		c, ok := r.Counts[t]
		resolved := r.AutoResolved[t]
		if !ok && resolved == 0 {
			continue
		}
		rows = append(rows, countsRow(t, c, resolved))
	}
	headers := []string{"Issue type", "Found", "New", "Failed", "Auto-resolved"}
	return renderTable("Integrity check", headers, rows, []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight})
}

func renderBatchResult(res mitigation.BatchResult) string {
	rows := [][]string{{
		strconv.Itoa(res.Processed),
		strconv.Itoa(res.Resolved),
		strconv.Itoa(res.Open),
		strconv.Itoa(res.Failed),
	}}
	headers := []string{"Processed", "Resolved", "Open", "Failed"}
	return renderTable("Auto-mitigation", headers, rows, []columnAlignment{alignRight, alignRight, alignRight, alignRight})
}

func renderDriftReport(r *application.DriftReport) string {
	rows := [][]string{
		countsRow(models.IssueNoteMismatch, r.NoteMismatches, 0),
		countsRow(models.IssueLinkContradictsNote, r.LinkContradictsNote, 0),
		countsRow(models.IssueDuplicateChatLink, r.DuplicateChatLinks, 0),
		countsRow(models.IssueStaleChatLink, r.StaleChatLinks, 0),
	}
	for _, row := range rows {
		row[4] = "-"
	}
	rows[0][4] = strconv.Itoa(r.Mitigations.Resolved)
	headers := []string{"Issue type", "Found", "New", "Failed", "Mitigated"}
	detection := renderTable("Drift scan "+r.RunID, headers, rows, []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight})
	return detection + "\n" + renderBatchResult(r.Mitigations)
}
