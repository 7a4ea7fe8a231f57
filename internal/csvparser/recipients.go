package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"LeadPulse/internal/models"
)

// ParseSubscribers reads mailing-list subscribers from CSV. The header row
// must contain an "Email" column (case-insensitive); "Name", "Category" and
// "Active" are optional. Category defaults to general and Active to true.
// Rows without an email or with the wrong column count are skipped.
func ParseSubscribers(r io.Reader) ([]models.Subscriber, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("csv header row is missing")
	}
	if err != nil {
		return nil, err
	}

	cols := map[string]int{"email": -1, "name": -1, "category": -1, "active": -1}
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if idx, ok := cols[key]; ok && idx == -1 {
			cols[key] = i
		}
	}
	if cols["email"] == -1 {
		return nil, errors.New("csv must contain an Email column")
	}

	field := func(record []string, name string) string {
		if i := cols[name]; i >= 0 {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	subs := make([]models.Subscriber, 0)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		if len(record) != len(headers) {
			// skip malformed row
			continue
		}

		addr := models.NormalizeEmail(field(record, "email"))
		if addr == "" {
			continue
		}

		sub := models.Subscriber{
			Email:    addr,
			Name:     field(record, "name"),
			Category: strings.ToLower(field(record, "category")),
			Active:   true,
		}
		if sub.Category == "" {
			sub.Category = models.CategoryGeneral
		}
		if v := field(record, "active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid Active value %q", line, v)
			}
			sub.Active = active
		}

		subs = append(subs, sub)
	}

	return subs, nil
}
