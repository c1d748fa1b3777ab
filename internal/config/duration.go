package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationTermPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)([a-zµ]+)`)

// parseDurationExtended parses Go-style duration strings and adds support for:
// - bare numbers, read as seconds ("1.2" = 1.2s), the unit delays were historically given in
// - d (days) where 1d = 24h
// - w (weeks) where 1w = 7d
//
// Examples: "60", "1.2", "90s", "7d", "1w2d", "-2w".
func parseDurationExtended(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("duration is required")
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	if !strings.ContainsAny(raw, "dw") {
		return time.ParseDuration(raw)
	}

	sign := ""
	body := raw
	if body[0] == '+' || body[0] == '-' {
		sign, body = body[:1], body[1:]
	}
	// Every byte must belong to a term, otherwise "2d3x" or "d" would slip through.
	if durationTermPattern.ReplaceAllString(body, "") != "" || body == "" {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	var b strings.Builder
	b.WriteString(sign)
	for _, m := range durationTermPattern.FindAllStringSubmatch(body, -1) {
		num, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		switch m[2] {
		case "d":
			b.WriteString(strconv.FormatFloat(num*24, 'f', -1, 64) + "h")
		case "w":
			b.WriteString(strconv.FormatFloat(num*7*24, 'f', -1, 64) + "h")
		default:
			b.WriteString(m[1] + m[2])
		}
	}
	return time.ParseDuration(b.String())
}
