// Package mrz parses and validates the ICAO 9303 machine readable zone
// found on passports and visas. Only the TD3 format (two lines of 44
// characters) is supported.
package mrz

import (
	"fmt"
	"strings"
	"time"
)

const (
	// LineLength is the fixed width of a TD3 line.
	LineLength = 44
	// LineCount is the number of lines in a TD3 zone.
	LineCount = 2

	// Alphabet is the full set of characters permitted in an MRZ.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<"

	filler = '<'
)

// Checks records the outcome of each independent check digit.
type Checks struct {
	DocumentNumber bool
	DateOfBirth    bool
	Expiration     bool
	PersonalNumber bool
	Composite      bool
}

// AllValid reports whether every check digit verified.
func (c Checks) AllValid() bool {
	return c.DocumentNumber && c.DateOfBirth && c.Expiration && c.PersonalNumber && c.Composite
}

// Result holds the fields extracted from a TD3 zone. Fields are populated
// even when check digits fail; callers must consult Valid before trusting
// the data.
type Result struct {
	Format         string
	DocumentType   string
	IssuingCountry string
	Surname        string
	GivenNames     string
	DocumentNumber string
	Nationality    string
	DateOfBirth    time.Time
	Sex            string
	ExpirationDate time.Time
	PersonalNumber string
	Checks         Checks
	Valid          bool
	Raw            string
}

// FullName joins given names and surname for display.
func (r Result) FullName() string {
	return strings.TrimSpace(r.GivenNames + " " + r.Surname)
}

// ParseLines validates the line count and delegates to Parse.
func ParseLines(lines []string) (Result, error) {
	if len(lines) != LineCount {
		return Result{}, &LengthError{Lines: len(lines)}
	}
	return Parse(lines[0], lines[1])
}

// Parse extracts the TD3 fields from the two MRZ lines. Structural problems
// (wrong length, characters outside the MRZ alphabet) fail fast; check-digit
// mismatches do not, they are reported through Result.Checks and Result.Valid
// so callers can keep a best-effort extraction.
func Parse(line1, line2 string) (Result, error) {
	if len(line1) != LineLength {
		return Result{}, &LengthError{Line: 1, Got: len(line1)}
	}
	if len(line2) != LineLength {
		return Result{}, &LengthError{Line: 2, Got: len(line2)}
	}
	for _, line := range []string{line1, line2} {
		for _, r := range line {
			if !inAlphabet(r) {
				return Result{}, fmt.Errorf("mrz: invalid character %q", r)
			}
		}
	}

	res := Result{
		Format:         "TD3",
		DocumentType:   trimFiller(line1[0:2]),
		IssuingCountry: trimFiller(line1[2:5]),
		Raw:            line1 + "\n" + line2,
	}
	res.Surname, res.GivenNames = splitName(line1[5:])

	res.DocumentNumber = trimFiller(line2[0:9])
	res.Nationality = trimFiller(line2[10:13])
	res.Sex = parseSex(line2[20])
	res.PersonalNumber = trimFiller(line2[28:42])
	res.DateOfBirth = parseDate(line2[13:19])
	res.ExpirationDate = parseDate(line2[21:27])

	res.Checks = Checks{
		DocumentNumber: verify(line2[0:9], line2[9]),
		DateOfBirth:    verify(line2[13:19], line2[19]),
		Expiration:     verify(line2[21:27], line2[27]),
		PersonalNumber: verifyOptional(line2[28:42], line2[42]),
		Composite:      verify(line2[0:10]+line2[13:20]+line2[21:43], line2[43]),
	}
	res.Valid = res.Checks.AllValid()
	return res, nil
}

// checkDigit computes the ICAO 9303 check digit for s: each character's
// numeric value weighted by the repeating 7,3,1 sequence, summed, mod 10.
func checkDigit(s string) int {
	weights := [3]int{7, 3, 1}
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += charValue(s[i]) * weights[i%3]
	}
	return sum % 10
}

func charValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return 10 + int(c-'A')
	default:
		return 0
	}
}

func verify(field string, check byte) bool {
	if check < '0' || check > '9' {
		return false
	}
	return checkDigit(field) == int(check-'0')
}

// verifyOptional treats an empty personal-number field as valid: the check
// position may then hold either a filler or a zero.
func verifyOptional(field string, check byte) bool {
	if trimFiller(field) == "" && (check == filler || check == '0') {
		return true
	}
	return verify(field, check)
}

// splitName separates surname from given names on the double filler.
func splitName(raw string) (surname, given string) {
	parts := strings.SplitN(raw, "<<", 2)
	surname = trimFiller(parts[0])
	if len(parts) == 2 {
		given = trimFiller(parts[1])
	}
	return surname, given
}

// parseDate converts a YYMMDD field using the ICAO century pivot: two-digit
// years above 50 fall in the 1900s, the rest in the 2000s. Unparseable
// fields yield the zero time.
func parseDate(s string) time.Time {
	t, err := time.Parse("060102", s)
	if err != nil {
		return time.Time{}
	}
	yy := (t.Year()) % 100
	var year int
	if yy > 50 {
		year = 1900 + yy
	} else {
		year = 2000 + yy
	}
	return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseSex(c byte) string {
	switch c {
	case 'F':
		return "F"
	case 'M':
		return "M"
	default:
		return ""
	}
}

func trimFiller(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, string(filler), " "))
}

func inAlphabet(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == filler
}
