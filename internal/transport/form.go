package transport

import (
	"net/url"
	"strings"
)

type field struct {
	key   string
	value string
}

// Form is URL-encoded form data that keeps insertion order.
// The upstream validates parameter order, so url.Values (sorted) can't be used.
type Form []field

// NewForm builds a form from alternating key, value pairs
func NewForm(pairs ...string) Form {
	f := make(Form, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		f = f.Add(pairs[i], pairs[i+1])
	}
	return f
}

// Add appends a key/value pair
func (f Form) Add(key, value string) Form {
	return append(f, field{key: key, value: value})
}

// Encode renders the form as key=value pairs joined by &
func (f Form) Encode() string {
	var b strings.Builder
	for i, kv := range f {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.value))
	}
	return b.String()
}
