package http1

// tchar marks the bytes allowed in a token such as a header name or method.
var tchar = func() (t [256]bool) {
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
		t[c-'a'+'A'] = true
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		t[c] = true
	}
	return t
}()

// ValidToken reports whether s is a non-empty token.
func ValidToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !tchar[s[i]] {
			return false
		}
	}
	return true
}

// CleanHeaderValue drops CR, LF, DEL and every other control byte except
// HTAB, so a value can never end its header line early. Bytes >= 0x80 are
// kept as they are.
func CleanHeaderValue(v string) string {
	var out []byte
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == 0x7f || (c < 0x20 && c != '\t') {
			if out == nil {
				out = append(make([]byte, 0, len(v)), v[:i]...)
			}
			continue
		}
		if out != nil {
			out = append(out, c)
		}
	}
	if out == nil {
		return v
	}
	return string(out)
}
