package dispatcher

import (
	"regexp"
	"strings"
)

// reKey matches the KEY: markers of a reply such as
// "INI:2019/7/22 7:22 RTC:2019/7/22 7:53 RST:2" or "DI1:1 DI2:0".
var reKey = regexp.MustCompile(`(?:^|\s)([A-Za-z][A-Za-z0-9_]*):`)

// ParseFields splits a command reply into KEY -> value. A value runs until
// the next KEY: marker, so values may hold spaces and colons.
func ParseFields(text string) map[string]string {
	idx := reKey.FindAllStringSubmatchIndex(text, -1)
	if len(idx) == 0 {
		return nil
	}
	out := make(map[string]string, len(idx))
	for i, m := range idx {
		key := text[m[2]:m[3]]
		end := len(text)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		out[key] = strings.TrimSpace(text[m[1]:end])
	}
	return out
}
