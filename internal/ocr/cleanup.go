package ocr

import "strings"

// confusables maps letters Tesseract commonly reads in place of digits.
var confusables = map[byte]byte{
	'O': '0',
	'I': '1',
	'B': '8',
	'S': '5',
	'Z': '2',
}

// CleanLines turns raw recognized text into candidate MRZ lines: uppercased,
// stripped to the MRZ alphabet, with short noise lines dropped and
// digit-adjacent confusable letters corrected.
func CleanLines(text string) []string {
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		line := stripToAlphabet(strings.ToUpper(raw))
		// Anything shorter than this is noise, not an MRZ line.
		if len(line) < 28 {
			continue
		}
		lines = append(lines, correctConfusables(line))
	}
	return lines
}

func stripToAlphabet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '<' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// correctConfusables replaces a confusable letter with its digit twin when
// both neighbors are digits. Names are runs of letters, so a letter boxed in
// by digits is almost certainly a misread numeric field character.
func correctConfusables(line string) string {
	b := []byte(line)
	for i := 1; i < len(b)-1; i++ {
		d, ok := confusables[b[i]]
		if !ok {
			continue
		}
		if isDigit(b[i-1]) && isDigit(b[i+1]) {
			b[i] = d
		}
	}
	return string(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
