// Package stoplist decides whether a phone number or sender domain belongs to
// the operator and must be left out of contact mining.
package stoplist

import (
	"strings"

	"github.com/sells-group/contact-enricher/internal/model"
)

// Filter answers stop-list membership questions. The zero value excludes
// nothing.
type Filter struct {
	phones  map[string]struct{}
	compact map[string]struct{}
	domains []string
}

// New builds a Filter from configured lists. Empty entries are ignored.
func New(lists model.StopLists) *Filter {
	f := &Filter{
		phones:  make(map[string]struct{}, len(lists.Phones)),
		compact: make(map[string]struct{}, len(lists.Phones)),
	}
	for _, p := range lists.Phones {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f.phones[p] = struct{}{}
		f.compact[Compact(p)] = struct{}{}
	}
	for _, d := range lists.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "@")
		if d == "" {
			continue
		}
		f.domains = append(f.domains, d)
	}
	return f
}

// HasPhone reports whether number, once trimmed, is one of the operator's
// numbers. Numbers also match when they differ from a stop-list entry only
// by separators, so "+33 7 60 76 98 72" is caught by "+33760769872".
func (f *Filter) HasPhone(number string) bool {
	if f == nil {
		return false
	}
	number = strings.TrimSpace(number)
	if _, ok := f.phones[number]; ok {
		return true
	}
	_, ok := f.compact[Compact(number)]
	return ok
}

// HasDomain reports whether the domain of address is a stop-listed domain or
// one of its subdomains. Comparison is case-insensitive.
func (f *Filter) HasDomain(address string) bool {
	if f == nil || len(f.domains) == 0 {
		return false
	}
	domain := Domain(address)
	if domain == "" {
		return false
	}
	for _, d := range f.domains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// Domains returns the normalized domain entries.
func (f *Filter) Domains() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.domains...)
}

// Domain returns the lowercased part after the last '@' of address, or ""
// when address has none.
func Domain(address string) string {
	i := strings.LastIndex(address, "@")
	if i < 0 || i == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.Trim(address[i+1:], " >"))
}

// Compact strips everything but digits and a leading '+'.
func Compact(number string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(number) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
