package recipients

import (
	"encoding/csv"
	"io"
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Parse extracts unique email addresses from CSV content. Addresses may
// appear in any column; input that does not parse as CSV is scanned line by
// line instead. maxRows caps how many addresses are returned (0 means no cap).
func Parse(r io.Reader, maxRows int) ([]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	content := string(raw)

	var candidates []string
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err == nil {
		for _, record := range records {
			candidates = append(candidates, record...)
		}
	} else {
		// Not well-formed CSV; treat each line as a candidate address.
		candidates = strings.Split(content, "\n")
	}

	seen := make(map[string]struct{})
	emails := make([]string, 0)
	for _, c := range candidates {
		addr := strings.TrimSpace(strings.TrimSuffix(c, "\r"))
		if !emailPattern.MatchString(addr) {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		emails = append(emails, addr)
		if maxRows > 0 && len(emails) >= maxRows {
			break
		}
	}
	return emails, nil
}
