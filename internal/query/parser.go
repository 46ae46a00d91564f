package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/evebox/evebox-go/internal/errkind"
)

// Parse tokenises s into an ordered element sequence. defaultOffset is used
// to interpret @from/@to values that omit a zone offset, and must be a
// signed "+HHMM"/"-HHMM" string such as "+0000".
func Parse(s string, defaultOffset string) ([]Element, error) {
	var elements []Element
	runes := []rune(s)
	i := 0
	n := len(runes)

	skipSpace := func() {
		for i < n && runes[i] == ' ' {
			i++
		}
	}

	for {
		skipSpace()
		if i >= n {
			break
		}

		negated := false
		if runes[i] == '!' || runes[i] == '-' {
			negated = true
			i++
		}

		if i < n && runes[i] == '"' {
			i++
			start := i
			var sb strings.Builder
			for i < n && runes[i] != '"' {
				if runes[i] == '\\' && i+1 < n && runes[i+1] == '"' {
					sb.WriteRune('"')
					i += 2
					continue
				}
				sb.WriteRune(runes[i])
				i++
			}
			_ = start
			if i < n {
				i++ // consume closing quote
			}
			elements = append(elements, Element{Negated: negated, Kind: KindString, Str: sb.String()})
			continue
		}

		// bareword, possibly followed by ':' value
		start := i
		for i < n && runes[i] != ' ' && runes[i] != ':' {
			i++
		}
		bareword := string(runes[start:i])

		if i < n && runes[i] == ':' {
			i++ // consume ':'
			var value string
			if i < n && runes[i] == '"' {
				i++
				var sb strings.Builder
				for i < n && runes[i] != '"' {
					if runes[i] == '\\' && i+1 < n && runes[i+1] == '"' {
						sb.WriteRune('"')
						i += 2
						continue
					}
					sb.WriteRune(runes[i])
					i++
				}
				if i < n {
					i++
				}
				value = sb.String()
			} else {
				vstart := i
				for i < n && runes[i] != ' ' {
					i++
				}
				value = string(runes[vstart:i])
			}

			lower := strings.ToLower(bareword)
			switch lower {
			case "@from":
				t, err := parseTimestamp(value, defaultOffset)
				if err != nil {
					return nil, errkind.Wrapf(errkind.BadRequest, err, "invalid @from value %q", value)
				}
				elements = append(elements, Element{Negated: negated, Kind: KindFrom, Time: t})
			case "@to":
				t, err := parseTimestamp(value, defaultOffset)
				if err != nil {
					return nil, errkind.Wrapf(errkind.BadRequest, err, "invalid @to value %q", value)
				}
				elements = append(elements, Element{Negated: negated, Kind: KindTo, Time: t})
			default:
				elements = append(elements, Element{Negated: negated, Kind: KindKeyValue, Key: bareword, Value: value})
			}
			continue
		}

		if bareword != "" {
			elements = append(elements, Element{Negated: negated, Kind: KindString, Str: bareword})
		}
	}

	return elements, nil
}

// offsetPattern recognises a trailing zone designator: "Z", "+HHMM",
// "-HHMM", or "+HH:MM"/"-HH:MM".
var offsetPattern = regexp.MustCompile(`(Z|[+-]\d{2}:?\d{2})$`)

// partialLayouts pairs each accepted partial-ISO prefix with the layout
// used to parse it once a normalised "+HHMM"-style offset has been
// appended.
var partialLayouts = []struct {
	prefixLen int
	layout    string
}{
	{19, "2006-01-02T15:04:05-0700"},
	{16, "2006-01-02T15:04-0700"},
	{13, "2006-01-02T15-0700"},
	{10, "2006-01-02-0700"},
	{7, "2006-01-0700"},
	{4, "2006-0700"},
}

// parseTimestamp accepts partial ISO-8601 forms (YYYY, YYYY-MM, ...,
// YYYY-MM-DDTHH:MM:SS.sss±HHMM), defaulting missing components to their
// earliest value and a missing offset to defaultOffset.
func parseTimestamp(s string, defaultOffset string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	body := s
	offset := ""
	if m := offsetPattern.FindString(s); m != "" {
		body = s[:len(s)-len(m)]
		if m == "Z" {
			offset = "+0000"
		} else {
			offset = strings.Replace(m, ":", "", 1)
		}
	} else {
		offset = defaultOffset
	}

	// Fractional seconds: parse with a variable-precision nanosecond layout
	// against the reconstructed string since the fixed-width layouts below
	// don't cover variable-precision fractions.
	if strings.Contains(body, ".") {
		if t, err := time.Parse("2006-01-02T15:04:05.999999999-0700", body+offset); err == nil {
			return t.UTC(), nil
		}
	}

	for _, pl := range partialLayouts {
		if len(body) != pl.prefixLen {
			continue
		}
		if t, err := time.Parse(pl.layout, body+offset); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
