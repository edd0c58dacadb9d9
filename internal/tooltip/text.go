package tooltip

import (
	"encoding/json"
	"strings"
)

// Tooltip lines arrive in one of two encodings: legacy text with inline
// "§x" formatting markers, or structured chat-component JSON objects carrying
// explicit color fields. Both are normalized here into plain text plus the
// ordered list of color markers seen on the line.

var legacyColorNames = map[byte]string{
	'0': "black",
	'1': "dark_blue",
	'2': "dark_green",
	'3': "dark_aqua",
	'4': "dark_red",
	'5': "dark_purple",
	'6': "gold",
	'7': "gray",
	'8': "dark_gray",
	'9': "blue",
	'a': "green",
	'b': "aqua",
	'c': "red",
	'd': "light_purple",
	'e': "yellow",
	'f': "white",
}

type chatComponent struct {
	Text  string          `json:"text"`
	Color string          `json:"color"`
	Extra []chatComponent `json:"extra"`
}

// NormalizeLine decodes a raw tooltip line into plain text and the colors
// encountered, in order of appearance.
func NormalizeLine(raw string) (string, []string) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "\"") {
		var comp chatComponent
		if err := json.Unmarshal([]byte(trimmed), &comp); err == nil {
			text, colors := flattenComponent(comp)
			return strings.TrimSpace(text), colors
		}
	}
	return stripLegacy(raw)
}

func flattenComponent(c chatComponent) (string, []string) {
	var sb strings.Builder
	var colors []string
	var walk func(chatComponent)
	walk = func(c chatComponent) {
		if c.Color != "" {
			colors = append(colors, c.Color)
		}
		sb.WriteString(c.Text)
		for _, e := range c.Extra {
			walk(e)
		}
	}
	walk(c)
	return sb.String(), colors
}

func stripLegacy(s string) (string, []string) {
	var sb strings.Builder
	var colors []string
	for i := 0; i < len(s); i++ {
		// The section sign is two bytes in UTF-8: 0xC2 0xA7.
		if s[i] == 0xC2 && i+2 < len(s) && s[i+1] == 0xA7 {
			code := lowerByte(s[i+2])
			if name, ok := legacyColorNames[code]; ok {
				colors = append(colors, name)
			}
			i += 2
			continue
		}
		sb.WriteByte(s[i])
	}
	return strings.TrimSpace(sb.String()), colors
}

func lowerByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// CleanLines normalizes every raw tooltip line to plain text, dropping lines
// that are empty after stripping.
func CleanLines(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		text, _ := NormalizeLine(line)
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}

// IsSelectedLine reports whether a sort-option line is the currently selected
// one. Selection is conveyed purely by markup: the last color marker on a
// selected option is anything but white.
func IsSelectedLine(raw string) bool {
	_, colors := NormalizeLine(raw)
	if len(colors) == 0 {
		return false
	}
	return colors[len(colors)-1] != "white"
}
