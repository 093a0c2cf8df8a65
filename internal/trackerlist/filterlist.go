package trackerlist

import (
	"bufio"
	"io"
	"strings"
)

// FilterStats counts what ParseFilterList did with each line.
type FilterStats struct {
	Lines      int
	Domains    int
	Duplicates int
	Skipped    int
}

// ParseFilterList extracts blockable domains from an Adblock Plus style list.
// Only plain "||domain^" network rules are kept; comments, exceptions,
// cosmetic rules, path rules, and regex rules are skipped. maxDomains <= 0
// means no limit.
func ParseFilterList(r io.Reader, maxDomains int) ([]string, FilterStats, error) {
	var stats FilterStats
	var domains []string
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.Lines++

		if skipFilterLine(line) {
			stats.Skipped++
			continue
		}
		d := extractFilterDomain(line)
		if d == "" {
			stats.Skipped++
			continue
		}
		if _, ok := seen[d]; ok {
			stats.Duplicates++
			continue
		}
		if maxDomains > 0 && len(domains) >= maxDomains {
			break
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	stats.Domains = len(domains)
	return domains, stats, scanner.Err()
}

func skipFilterLine(line string) bool {
	switch {
	case strings.HasPrefix(line, "!"), strings.HasPrefix(line, "["):
		return true
	case strings.HasPrefix(line, "@@"):
		return true
	case strings.Contains(line, "##"), strings.Contains(line, "#@#"), strings.Contains(line, "#%#"):
		return true
	}
	return false
}

// extractFilterDomain returns the domain of a "||domain^" rule, or "".
func extractFilterDomain(line string) string {
	if !strings.HasPrefix(line, "||") {
		return ""
	}
	rest := line[2:]
	caret := strings.IndexByte(rest, '^')
	if caret <= 0 {
		return ""
	}
	d := strings.ToLower(rest[:caret])
	// Anything after the caret other than options means a path-scoped rule.
	if tail := rest[caret+1:]; tail != "" && !strings.HasPrefix(tail, "$") && tail != "|" {
		return ""
	}
	if strings.ContainsAny(d, "/*?=:") || !strings.Contains(d, ".") {
		return ""
	}
	return d
}
