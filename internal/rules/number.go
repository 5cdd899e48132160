package rules

import (
	"strconv"
	"strings"
)

// CompareNumbers orders two rule numbers the way they appear in the
// rulebook: numbered sections ("1", "12.B.3") come before appendix
// sections ("A.1", "B2.C"), numeric components compare as integers so
// "9.B" sorts before "10.A", alphabetic components compare lexically, and
// a number sorts before any of its own subsections ("2" before "2.A").
// Returns -1, 0 or 1.
func CompareNumbers(a, b string) int {
	aAppendix := leadsWithLetter(a)
	bAppendix := leadsWithLetter(b)
	if aAppendix != bAppendix {
		if aAppendix {
			return 1
		}
		return -1
	}

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareComponent(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

func leadsWithLetter(n string) bool {
	return len(n) > 0 && n[0] >= 'A' && n[0] <= 'Z'
}

// compareComponent compares one dotted component. Components are an
// optional letter prefix plus an optional integer ("3", "A", "B2"); the
// letter part compares lexically and the integer part numerically.
func compareComponent(a, b string) int {
	aAlpha, aNum := splitComponent(a)
	bAlpha, bNum := splitComponent(b)
	if aAlpha != bAlpha {
		if aAlpha < bAlpha {
			return -1
		}
		return 1
	}
	switch {
	case aNum < bNum:
		return -1
	case aNum > bNum:
		return 1
	}
	return 0
}

func splitComponent(c string) (string, int) {
	i := 0
	for i < len(c) && (c[i] < '0' || c[i] > '9') {
		i++
	}
	n, _ := strconv.Atoi(c[i:])
	return c[:i], n
}
