// Package text prepares free text for speech synthesis.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	baseTen          = 10
	baseTwenty       = 20
	baseHundred      = 100
	baseThousand     = 1000
	maxNumberToWords = 999999
)

const (
	urlPattern        = `https?://\S+`
	numberPattern     = `\d+`
	referencePattern  = `\[\d+\]|[\x{00B9}\x{00B2}\x{00B3}\x{2070}-\x{2079}]+`
	whitespacePattern = `\s+`
	markupPattern     = `[*_#~<>{}|\\^` + "`" + `]+`
)

// Normalizer turns announcement text into something a speech engine reads
// naturally: abbreviations spelled out, integers as words, links and
// markup dropped, whitespace collapsed and a closing full stop.
type Normalizer struct {
	url         *regexp.Regexp
	number      *regexp.Regexp
	reference   *regexp.Regexp
	whitespace  *regexp.Regexp
	markup      *regexp.Regexp
	abbreviated *strings.Replacer
	punctuation *strings.Replacer
	maxRunes    int
}

// NewNormalizer builds a Normalizer. maxRunes caps the output length; zero
// means unlimited.
func NewNormalizer(maxRunes int) *Normalizer {
	return &Normalizer{
		url:        regexp.MustCompile(urlPattern),
		number:     regexp.MustCompile(numberPattern),
		reference:  regexp.MustCompile(referencePattern),
		whitespace: regexp.MustCompile(whitespacePattern),
		markup:     regexp.MustCompile(markupPattern),
		abbreviated: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Dr.", "Doctor",
			"St.", "Street",
			"No.", "Number",
			"approx.", "approximately",
			"e.g.", "for example",
			"i.e.", "that is",
			"&", " and ",
			"%", " percent",
		),
		punctuation: strings.NewReplacer(
			"\u2014", ", ",
			"\u2013", "-",
			"\u2026", "...",
			"\u201c", `"`, "\u201d", `"`,
			"\u2018", "'", "\u2019", "'",
		),
		maxRunes: maxRunes,
	}
}

// Normalize returns the spoken form of input. Blank input yields "".
func (n *Normalizer) Normalize(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	out := n.url.ReplaceAllString(input, "")
	out = n.reference.ReplaceAllString(out, "")
	out = n.markup.ReplaceAllString(out, " ")
	out = n.punctuation.Replace(out)
	out = n.abbreviated.Replace(out)
	out = n.number.ReplaceAllStringFunc(out, func(s string) string {
		num, err := strconv.Atoi(s)
		if err != nil {
			return s
		}

		return IntegerToWords(num)
	})
	out = strings.TrimSpace(n.whitespace.ReplaceAllString(out, " "))
	out = collapsePunctuation(out)

	if n.maxRunes > 0 && utf8.RuneCountInString(out) > n.maxRunes {
		out = truncateAtWord(out, n.maxRunes)
	}

	return terminate(out)
}

// collapsePunctuation keeps the first mark of a run ("!!!" -> "!") and
// drops a space left in front of a mark.
func collapsePunctuation(text string) string {
	var b strings.Builder

	b.Grow(len(text))

	lastWasPunct := false

	for _, r := range text {
		isPunct := unicode.IsPunct(r) && r != '\'' && r != '"' && r != '-'
		if isPunct && lastWasPunct {
			continue
		}

		if isPunct && strings.HasSuffix(b.String(), " ") {
			trimmed := strings.TrimRight(b.String(), " ")
			b.Reset()
			b.WriteString(trimmed)
		}

		b.WriteRune(r)

		lastWasPunct = isPunct
	}

	return b.String()
}

func truncateAtWord(text string, limit int) string {
	runes := []rune(text)[:limit]

	cut := strings.LastIndexFunc(string(runes), unicode.IsSpace)
	if cut <= 0 {
		return strings.TrimSpace(string(runes))
	}

	return strings.TrimSpace(string(runes)[:cut])
}

func terminate(text string) string {
	if text == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(text)

	switch last {
	case '.', '!', '?':
		return text
	case ',', ';', ':':
		return strings.TrimRight(text, ",;:") + "."
	default:
		return text + "."
	}
}

var (
	ones = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// IntegerToWords spells out 0..999999 in English. Other values are
// returned as digits.
func IntegerToWords(number int) string {
	if number < 0 || number > maxNumberToWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / baseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
	}

	if rest := number % baseThousand; rest > 0 {
		parts = append(parts, underThousand(rest))
	}

	return strings.Join(parts, " ")
}

func underThousand(num int) string {
	if num < baseHundred {
		return underHundred(num)
	}

	result := ones[num/baseHundred] + " hundred"
	if rest := num % baseHundred; rest > 0 {
		result += " " + underHundred(rest)
	}

	return result
}

func underHundred(num int) string {
	switch {
	case num < baseTen:
		return ones[num]
	case num < baseTwenty:
		return teens[num-baseTen]
	default:
		result := tens[num/baseTen]
		if num%baseTen > 0 {
			result += " " + ones[num%baseTen]
		}

		return result
	}
}
