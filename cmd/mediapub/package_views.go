package main

import (
	"fmt"
	"strconv"
	"strings"

	"mediapub/internal/api"
	"mediapub/internal/ipc"
)

func packageTable(pkgs []ipc.Package, colorize bool) string {
	rows := make([][]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		rows = append(rows, []string{
			pkg.ID,
			truncate(pkg.Name, 40),
			pkg.Type,
			dashIfEmpty(pkg.Platform),
			colorizeState(pkg.State, colorize),
			strconv.Itoa(len(pkg.MediaIDs)),
			formatListTime(pkg.UpdatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Type", "Platform", "State", "Media", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func packageDetailLines(pkg ipc.Package, colorize bool) []string {
	lines := renderSectionHeader("Package "+pkg.ID, colorize)
	lines = append(lines,
		renderDetailLine("Name", pkg.Name),
		renderDetailLine("Original path", pkg.OriginalPath),
		renderDetailLine("Type", pkg.Type),
		renderDetailLine("Platform", dashIfEmpty(pkg.Platform)),
		renderDetailLine("State", colorizeState(pkg.State, colorize)),
	)
	if pkg.LastState != "" {
		lines = append(lines, renderDetailLine("Failed during", pkg.LastState))
	}
	if pkg.LastTransition != "" {
		lines = append(lines, renderDetailLine("Last transition", pkg.LastTransition))
	}
	if pkg.ErrorName != "" || pkg.ErrorMessage != "" {
		message := pkg.ErrorName
		if pkg.ErrorMessage != "" {
			message = strings.TrimSpace(message + " " + pkg.ErrorMessage)
		}
		lines = append(lines, renderStatusLine("Error", statusError, message, colorize))
	}
	lines = append(lines, renderDetailLine("Published", yesNo(pkg.Published)))
	if len(pkg.MediaIDs) > 0 {
		media := make([]string, len(pkg.MediaIDs))
		for i, id := range pkg.MediaIDs {
			media[i] = id
			if i < len(pkg.MediaHeights) && pkg.MediaHeights[i] > 0 {
				media[i] = fmt.Sprintf("%s (%dp)", id, pkg.MediaHeights[i])
			}
		}
		lines = append(lines, renderDetailLine("Media", strings.Join(media, ", ")))
	}
	if pkg.Timecodes > 0 {
		lines = append(lines, renderDetailLine("Timecodes", strconv.Itoa(pkg.Timecodes)))
	}
	for _, src := range pkg.Sources.Adaptive {
		lines = append(lines, renderDetailLine("Adaptive source", src.URL))
	}
	for _, src := range pkg.Sources.Files {
		label := src.URL
		if src.Height > 0 {
			label = fmt.Sprintf("%s (%dp)", src.URL, src.Height)
		}
		lines = append(lines, renderDetailLine("File source", label))
	}
	lines = append(lines,
		renderDetailLine("Created", formatListTime(pkg.CreatedAt)),
		renderDetailLine("Updated", formatListTime(pkg.UpdatedAt)),
	)
	return lines
}

func formatListTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
