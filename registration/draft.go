package registration

import (
	"slices"
	"strings"
)

// Draft is the in-progress registration. Customer drafts only use the identity fields.
type Draft struct {
	Variant Variant

	FullName        string
	Email           string
	CountryCode     string
	Phone           string // digits only, at most 10
	Password        string
	ConfirmPassword string
	Sex             string
	ProfilePhoto    *Attachment

	Service    string
	Experience string
	Skills     []string
	Bio        string

	Province     string
	District     string
	Municipality string
	Ward         string

	IDType    string
	IDFile    *Attachment
	CV        *Attachment
	Portfolio []*Attachment
	// Certificates are upload slots; a nil entry is an empty slot.
	Certificates []*Attachment
}

func newDraft(v Variant) *Draft {
	d := &Draft{Variant: v, CountryCode: DefaultCountryCode}
	if v == VariantProvider {
		d.Certificates = []*Attachment{nil}
	}
	return d
}

// Clone returns a copy whose slices do not alias the original.
func (d *Draft) Clone() Draft {
	c := *d
	c.Skills = slices.Clone(d.Skills)
	c.Portfolio = slices.Clone(d.Portfolio)
	c.Certificates = slices.Clone(d.Certificates)
	return c
}

// SubmitEmail is the trimmed, lowercased address sent to the backend and used for OTP calls.
func (d *Draft) SubmitEmail() string {
	return NormalizeEmail(d.Email)
}

// NormalizeEmail trims and lowercases an address the way the backend stores it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SubmitPhone is the country code followed by the phone digits.
func (d *Draft) SubmitPhone() string {
	return d.CountryCode + d.Phone
}

// SkillsString joins the skills with ", ".
func (d *Draft) SkillsString() string {
	return strings.Join(d.Skills, ", ")
}

// FilledCertificates returns the certificate slots that hold a file.
func (d *Draft) FilledCertificates() []*Attachment {
	out := make([]*Attachment, 0, len(d.Certificates))
	for _, c := range d.Certificates {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// NormalizePhone strips every non-digit and keeps at most the first 10 digits.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			if b.Len() == 10 {
				break
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseSkills splits comma-separated input into trimmed, non-empty tokens.
func ParseSkills(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
