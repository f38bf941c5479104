package identity

import "strings"

var honorifics = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "miss": {},
}

// Normalize produces the comparison key for a person's name: ASCII case
// folded, leading honorifics removed, whitespace collapsed. A lone
// honorific is kept so a name never normalizes to empty by accident.
//
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(name string) string {
	fields := strings.Fields(foldASCII(name))
	for len(fields) > 1 && isHonorific(fields[0]) {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func isHonorific(token string) bool {
	_, ok := honorifics[strings.TrimSuffix(token, ".")]
	return ok
}

func foldASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}
