package signature

import "strings"

// condense extracts a C++ function name from a full signature string and
// collapses its template parameters to "<T>":
//
//	std::vector<int>::push_back(const int&) -> std::vector<T>::push_back
//	MyClass::operator==(const MyClass&)     -> MyClass::operator==
func condense(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	name, ok := extractFunctionName(s)
	if !ok {
		name = s
	}

	return collapseTemplates(strings.TrimSpace(name))
}

// extractFunctionName locates the last ')' and its matching '(' (respecting
// parenthesis nesting), then walks leftward from the matching '(' to find
// where the function name token begins, respecting balanced <...> template
// brackets and `...' anonymous-namespace quote pairs, with a special case
// for "operator..." forms.
func extractFunctionName(s string) (string, bool) {
	lastClose := strings.LastIndex(s, ")")
	if lastClose == -1 {
		return "", false
	}

	openIdx := matchingOpenParen(s, lastClose)
	if openIdx == -1 {
		return "", false
	}

	start := walkNameStart(s, openIdx)
	if opStart := operatorPrefixStart(s, start); opStart >= 0 {
		start = opStart
	}

	return s[start:openIdx], true
}

// matchingOpenParen scans backward from closeIdx (a ')') counting paren
// depth, returning the index of the '(' that balances it, or -1.
func matchingOpenParen(s string, closeIdx int) int {
	depth := 0
	for i := closeIdx; i >= 0; i-- {
		switch s[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// walkNameStart walks leftward from openIdx (exclusive) and returns the
// index where the function-name token starts.
func walkNameStart(s string, openIdx int) int {
	start := openIdx
	templateDepth := 0
	inQuote := false

	for i := openIdx - 1; i >= 0; i-- {
		c := s[i]

		if inQuote {
			start = i
			if c == '`' {
				inQuote = false
			}
			continue
		}

		switch {
		case c == '\'':
			inQuote = true
			start = i
		case c == '>':
			templateDepth++
			start = i
		case c == '<':
			if templateDepth > 0 {
				templateDepth--
			}
			start = i
		case c == ' ' || c == '\t':
			if templateDepth > 0 {
				start = i
				continue
			}
			return start
		default:
			start = i
		}
	}

	return start
}

// operatorPrefixStart checks whether the text immediately before start is
// the whole word "operator" separated only by whitespace (the "operator
// bool" / "operator std::string" case); if so it returns the index where
// "operator" begins, extending the captured name to include it.
func operatorPrefixStart(s string, start int) int {
	before := strings.TrimRight(s[:start], " \t")
	if !strings.HasSuffix(before, "operator") {
		return -1
	}

	idx := len(before) - len("operator")
	if idx > 0 && isIdentByte(before[idx-1]) {
		return -1
	}

	return idx
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// collapseTemplates replaces every balanced <...> (recursively, via depth
// tracking) with the literal "<T>".
func collapseTemplates(s string) string {
	var sb strings.Builder
	depth := 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			if depth == 0 {
				sb.WriteString("<T>")
			}
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				sb.WriteByte(s[i])
			}
		}
	}

	return sb.String()
}
