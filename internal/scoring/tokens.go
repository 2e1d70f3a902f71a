package scoring

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// tokenize lower-cases s and splits it into words. '+', '#' and inner dots are
// kept so "c++", "c#" and "node.js" survive as single tokens.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '.')
	})

	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// containsPhrase reports whether phrase occurs in text as a contiguous token run.
func containsPhrase(text, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(text) {
		return false
	}
	for i := 0; i+len(phrase) <= len(text); i++ {
		match := true
		for j, p := range phrase {
			if text[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

var (
	thousandsSep = regexp.MustCompile(`(\d)[.,\s](\d{3})\b`)
	salaryNumber = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([kK])?`)
)

// parseSalary extracts a range from free text such as "$90k - 120k" or
// "R$ 8.000 a 10.000". Bare values below 100 are read as thousands.
func parseSalary(s string) (lo, hi float64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}

	// "8.000", "120,000" and "10 000" all mean whole thousands.
	for thousandsSep.MatchString(s) {
		s = thousandsSep.ReplaceAllString(s, "$1$2")
	}

	for _, m := range salaryNumber.FindAllStringSubmatch(s, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v <= 0 {
			continue
		}
		if m[2] != "" || v < 100 {
			v *= 1000
		}
		if !ok || v < lo {
			lo = v
		}
		if !ok || v > hi {
			hi = v
		}
		ok = true
	}

	return lo, hi, ok
}
