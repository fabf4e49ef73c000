// Package classification maps participant addresses to internal, personal or business domains.
package classification

import (
	"strings"

	"crm_server/core/domain"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// personalDomains are consumer mailbox providers. They never yield a company.
var personalDomains = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"yahoo.com":      {},
	"hotmail.com":    {},
	"outlook.com":    {},
	"live.com":       {},
	"msn.com":        {},
	"icloud.com":     {},
	"me.com":         {},
	"mac.com":        {},
	"protonmail.com": {},
	"pm.me":          {},
	"aol.com":        {},
	"yandex.com":     {},
	"mail.com":       {},
}

// Classifier is stateless apart from the organization's own domains.
type Classifier struct {
	internal map[string]struct{}
}

func NewClassifier(internalDomains []string) *Classifier {
	c := &Classifier{
		internal: make(map[string]struct{}, len(internalDomains)),
	}
	for _, d := range internalDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			c.internal[d] = struct{}{}
		}
	}
	return c
}

// Classify never fails; malformed input is reported as ClassUnknown.
func (c *Classifier) Classify(email string) domain.Classification {
	email = domain.NormalizeEmail(email)
	result := domain.Classification{Email: email, Class: domain.ClassUnknown}

	if strings.Count(email, "@") != 1 {
		return result
	}
	local, host, _ := strings.Cut(email, "@")
	if local == "" || !validDomain(host) {
		return result
	}
	result.Domain = host

	switch {
	case c.IsInternal(host):
		result.Class = domain.ClassInternal
	case IsPersonalDomain(host):
		result.Class = domain.ClassPersonal
		result.IsPersonal = true
		result.CompanyNameHint = domain.IndividualContactHint
	default:
		result.Class = domain.ClassBusiness
		result.CompanyNameHint = c.DeriveCompanyName(host)
	}
	return result
}

func (c *Classifier) IsInternal(host string) bool {
	_, ok := c.internal[strings.ToLower(host)]
	return ok
}

func IsPersonalDomain(host string) bool {
	_, ok := personalDomains[strings.ToLower(host)]
	return ok
}

// DeriveCompanyName turns "sales.example.com" into "Example" and
// "my-startup.io" into "My Startup".
func (c *Classifier) DeriveCompanyName(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")

	name := host
	if suffix, _ := publicsuffix.PublicSuffix(host); suffix != "" && suffix != host {
		name = strings.TrimSuffix(host, "."+suffix)
	} else if i := strings.LastIndexByte(host, '.'); i > 0 {
		name = host[:i]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}

	// Casers carry state; one per call.
	titler := cases.Title(language.Und)
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = titler.String(w)
	}
	if len(words) == 0 {
		return host
	}
	return strings.Join(words, " ")
}

func validDomain(host string) bool {
	if len(host) > 253 || !strings.Contains(host, ".") {
		return false
	}
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if l == "" || len(l) > 63 || l[0] == '-' || l[len(l)-1] == '-' {
			return false
		}
		for i := 0; i < len(l); i++ {
			ch := l[i]
			if !(ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_') {
				return false
			}
		}
	}
	tld := labels[len(labels)-1]
	return strings.IndexFunc(tld, func(r rune) bool { return r < '0' || r > '9' }) >= 0
}
