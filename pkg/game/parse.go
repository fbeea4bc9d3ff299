package game

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var ErrNoLevel = errors.New("failed to parse JSON from response")

var (
	fencedJSON = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*\\})\\s*```")
	bareObject = regexp.MustCompile(`(\{[\s\S]*\})`)
	hexNumber  = regexp.MustCompile(`:\s*0[xX]([0-9a-fA-F]+)`)
)

// Models copy the prompt's 0xff4444 color literally, which is not JSON.
func decimalizeHex(s string) string {
	return hexNumber.ReplaceAllStringFunc(s, func(m string) string {
		sub := hexNumber.FindStringSubmatch(m)
		n, err := strconv.ParseInt(sub[1], 16, 64)
		if err != nil {
			return m
		}
		return ": " + strconv.FormatInt(n, 10)
	})
}

// ParseLevel reads a level out of model output. The content may be plain
// JSON, a fenced markdown block, or prose around a single JSON object.
func ParseLevel(content string) (Level, error) {
	var lvl Level
	content = decimalizeHex(strings.TrimSpace(content))
	if content == "" {
		return lvl, ErrNoLevel
	}
	if err := json.Unmarshal([]byte(content), &lvl); err == nil {
		return lvl, nil
	}

	m := fencedJSON.FindStringSubmatch(content)
	if m == nil {
		m = bareObject.FindStringSubmatch(content)
	}
	if m == nil {
		return lvl, ErrNoLevel
	}
	lvl = Level{}
	if err := json.Unmarshal([]byte(m[1]), &lvl); err != nil {
		return lvl, err
	}
	return lvl, nil
}
