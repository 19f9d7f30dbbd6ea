package ocr

import (
	"reflect"
	"testing"
)

func TestCleanLinesStripsAndFilters(t *testing.T) {
	text := "p<utoeriksson<<anna<maria<<<<<<<<<<<<<<<<<<<\n" +
		"  noise \n" +
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10\n"

	got := CleanLines(text)
	want := []string{
		"P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<",
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CleanLines = %q, want %q", got, want)
	}
}

func TestCleanLinesDropsNonAlphabetRunes(t *testing.T) {
	got := CleanLines("L898 902C36UTO74!08122F1204159ZE184226B<<<<<10")
	if len(got) != 1 || got[0] != "L898902C36UTO7408122F1204159ZE184226B<<<<<10" {
		t.Fatalf("got %q", got)
	}
}

func TestCorrectConfusables(t *testing.T) {
	cases := []struct{ in, want string }{
		// letter boxed in by digits becomes the digit twin
		{"74O812", "740812"},
		{"12I456", "121456"},
		{"9B3", "983"},
		{"1S1", "151"},
		{"0Z0", "020"},
		// letters inside names stay letters
		{"ERIKSSON", "ERIKSSON"},
		{"UTO740", "UTO740"},
		// digit on one side only is not enough evidence
		{"C36UTO", "C36UTO"},
		{"9ZE", "9ZE"},
	}
	for _, tc := range cases {
		if got := correctConfusables(tc.in); got != tc.want {
			t.Errorf("correctConfusables(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanLinesEmptyInput(t *testing.T) {
	if got := CleanLines(""); got != nil {
		t.Fatalf("got %q, want nil", got)
	}
}
