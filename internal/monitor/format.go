package monitor

import (
	"strings"

	"x402watch/internal/catalog"
)

const (
	missing   = "N/A"
	separator = " | "
)

// FormatMessage renders the announcement for a new origin id of entry. Name,
// description and domain list every origin of the entry, so a multi-origin
// service reads the same whichever of its origins was new.
func FormatMessage(entry catalog.Entry, id, detailURLBase string) string {
	if detailURLBase == "" {
		detailURLBase = DefaultDetailURLBase
	}

	titles := make([]string, 0, len(entry.Origins))
	descs := make([]string, 0, len(entry.Origins))
	domains := make([]string, 0, len(entry.Origins))
	for _, o := range entry.Origins {
		titles = append(titles, orMissing(o.Title))
		descs = append(descs, orMissing(o.Description))
		domains = append(domains, orMissing(o.Origin))
	}

	var b strings.Builder
	b.WriteString("New x402 service listed!\n")
	b.WriteString("Name: " + joinOrMissing(titles) + "\n")
	b.WriteString("Description: " + joinOrMissing(descs) + "\n")
	b.WriteString("Domain: " + joinOrMissing(domains) + "\n")
	b.WriteString("Recipients: " + joinOrMissing(entry.Recipients) + "\n")
	b.WriteString("Link: " + strings.TrimRight(detailURLBase, "/") + "/" + id)
	return b.String()
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return missing
	}
	return s
}

func joinOrMissing(parts []string) string {
	if len(parts) == 0 {
		return missing
	}
	return strings.Join(parts, separator)
}
