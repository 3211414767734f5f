// Package parse turns extracted discharge summary text into structured rows.
//
// The expected layout is a title line naming the hospital, a header line,
// and one row per discharged patient:
//
//	Sacred Heart Hospital Discharges
//	Name  Epic Id  Phone  Attending  Date  PCP  Insurance  Disposition
//	John Smith EP12345 404-727-1234 Dr. Perry Cox 01-15-2024 Dr. Bob Kelso Medicare Home
//
// Rows are recognized by two anchor tokens, the epic identifier and the
// discharge date. Everything else is positional relative to those anchors.
package parse

import (
	"regexp"
	"strings"
)

// Record is one structured discharge row. All fields are raw strings as
// they appeared in the document; validation happens at approval time.
type Record struct {
	Name                string `json:"name"`
	EpicID              string `json:"epic_id"`
	PhoneNumber         string `json:"phone_number"`
	AttendingPhysician  string `json:"attending_physician"`
	Date                string `json:"date"`
	PrimaryCareProvider string `json:"primary_care_provider"`
	Insurance           string `json:"insurance"`
	Disposition         string `json:"disposition"`
	Hospital            string `json:"hospital"`
}

var (
	epicIDRe = regexp.MustCompile(`EP\d+`)
	dateRe   = regexp.MustCompile(`\d{2}-\d{2}-\d{4}`)

	// Phone numbers only count when they directly follow the epic id.
	// Dashes and parentheses are optional.
	phoneAfterEpicRe = regexp.MustCompile(`EP\d+\s+(\(?\d{3}\)?[-\s]?\d{3}[-\s]?\d{4}|\d{10})`)

	phoneRe = regexp.MustCompile(`\(?\d{3}\)?[-\s]?\d{3}[-\s]?\d{4}`)
)

// Hospital derives the hospital name from the document title, taking
// everything before the word "Discharges".
func Hospital(title string) string {
	return strings.TrimSpace(strings.Split(title, "Discharges")[0])
}

// Parse splits text into lines and extracts one Record per row that carries
// both anchor tokens. Rows missing either token are silently dropped. The
// hospital name comes from the title line and is stamped on every record.
func Parse(text string) []Record {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 3 {
		return nil
	}

	hospital := Hospital(strings.TrimSpace(lines[0]))

	var records []Record
	for _, line := range lines[2:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		rec, ok := parseLine(line, hospital)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	return records
}

func parseLine(line, hospital string) (Record, bool) {
	epicID := epicIDRe.FindString(line)
	date := dateRe.FindString(line)
	if epicID == "" || date == "" {
		return Record{}, false
	}

	phone := ""
	if m := phoneAfterEpicRe.FindStringSubmatch(line); m != nil {
		phone = m[1]
	}

	// Name is everything before the first epic id occurrence.
	name := strings.TrimSpace(strings.Split(line, epicID)[0])

	// The remainder after the date holds PCP, insurance, and disposition.
	remaining := strings.TrimSpace(strings.Split(line, date)[1])
	if phone != "" {
		remaining = strings.TrimSpace(strings.ReplaceAll(remaining, phone, ""))
	}

	insurance := UnknownValue
	for _, ins := range insuranceList {
		if strings.Contains(remaining, ins) {
			insurance = ins
			remaining = strings.TrimSpace(strings.ReplaceAll(remaining, ins, ""))
			break
		}
	}

	disposition := UnknownValue
	for _, disp := range dispositionList {
		if strings.Contains(remaining, disp) {
			disposition = disp
			remaining = strings.TrimSpace(strings.ReplaceAll(remaining, disp, ""))
			break
		}
	}

	return Record{
		Name:                name,
		EpicID:              epicID,
		PhoneNumber:         phone,
		AttendingPhysician:  attendingBetween(line, epicID, date),
		Date:                date,
		PrimaryCareProvider: remaining,
		Insurance:           insurance,
		Disposition:         disposition,
		Hospital:            hospital,
	}, true
}

// attendingBetween extracts the text between the epic id and the date,
// with any phone-shaped substring removed.
func attendingBetween(line, epicID, date string) string {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(epicID) + `\s(.*?)\s` + regexp.QuoteMeta(date))
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return stripPhoneNumbers(strings.TrimSpace(m[1]))
}

// stripPhoneNumbers removes every phone-shaped substring. Matched formats
// include 404-727-1234, (404) 727-1234, 404 727 1234, and 4047271234.
func stripPhoneNumbers(s string) string {
	return strings.TrimSpace(phoneRe.ReplaceAllString(s, ""))
}
