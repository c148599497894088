package payment

import "strings"

// surname particles that belong with the family name rather than the
// given name: "Maria van den Berg" splits as given "Maria", family
// "van den Berg". Lowercase on purpose; matching is case-insensitive
// but capitalized particles ("Van") usually are part of the given
// portion in practice, so only lowercase tokens glue.
var surnameParticles = map[string]bool{
	"van": true, "von": true, "der": true, "den": true, "de": true,
	"del": true, "della": true, "da": true, "di": true, "dos": true,
	"la": true, "le": true, "bin": true, "binti": true, "binte": true,
	"al": true, "el": true, "abu": true, "ibn": true, "st.": true,
}

// SplitFullName breaks a full name into given and family components
// using locale-aware heuristics. It tolerates missing middle or
// secondary names:
//
//   - "Ana" -> ("Ana", "")
//   - "Ana Souza" -> ("Ana", "Souza")
//   - "Ana Maria Souza" -> ("Ana Maria", "Souza")
//   - "Maria van den Berg" -> ("Maria", "van den Berg")
//   - "Souza, Ana" -> ("Ana", "Souza")
func SplitFullName(full string) (given, family string) {
	full = strings.Join(strings.Fields(full), " ")
	if full == "" {
		return "", ""
	}
	// "Family, Given" form used on some booking forms.
	if comma := strings.Index(full, ","); comma >= 0 {
		family = strings.TrimSpace(full[:comma])
		given = strings.TrimSpace(full[comma+1:])
		if given == "" {
			return family, ""
		}
		return given, family
	}
	tokens := strings.Split(full, " ")
	if len(tokens) == 1 {
		return tokens[0], ""
	}
	// Walk backwards from the family name collecting particles.
	split := len(tokens) - 1
	for split > 1 && surnameParticles[tokens[split-1]] {
		split--
	}
	return strings.Join(tokens[:split], " "), strings.Join(tokens[split:], " ")
}
