package mrz

import "fmt"

// LengthError reports a structurally invalid zone: wrong number of lines or
// a line that is not exactly LineLength characters. These are expected for
// low-quality scans and are not treated as exceptional by callers.
type LengthError struct {
	Lines int // non-zero when the line count was wrong
	Line  int // 1-based index of the offending line
	Got   int
}

func (e *LengthError) Error() string {
	if e.Lines != 0 {
		return fmt.Sprintf("mrz: expected %d lines, got %d", LineCount, e.Lines)
	}
	return fmt.Sprintf("mrz: line %d must be %d characters, got %d", e.Line, LineLength, e.Got)
}
