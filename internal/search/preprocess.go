package search

import (
	"bufio"
	"strings"
)

// PrepareSectionText flattens Markdown table rows in extracted section text
// into standalone lines so their cells tokenize and embed as prose.
// Separator rows are dropped. Text without tables is returned unchanged.
func PrepareSectionText(text string) string {
	if !strings.Contains(text, "|") {
		return text
	}

	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	sawTable := false
	wroteBlank := true // no leading blank

	writeLine := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
		wroteBlank = false
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if !wroteBlank {
				b.WriteByte('\n')
				wroteBlank = true
			}
			continue
		}

		// table row: "| ... |"
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && len(line) > 1 {
			sawTable = true
			cols := strings.Split(strings.Trim(line, "|"), "|")

			allSep := true
			cleaned := make([]string, 0, len(cols))
			for _, c := range cols {
				cell := strings.TrimSpace(c)
				if cell != "" {
					cleaned = append(cleaned, cell)
				}
				tmp := strings.ReplaceAll(cell, ":", "")
				tmp = strings.ReplaceAll(tmp, "-", "")
				if strings.TrimSpace(tmp) != "" {
					allSep = false
				}
			}
			if allSep || len(cleaned) == 0 {
				continue
			}
			writeLine(strings.Join(cleaned, " "))
			continue
		}

		writeLine(line)
	}
	if sc.Err() != nil || !sawTable {
		return text
	}
	return strings.TrimRight(b.String(), "\n")
}
