package registration

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Form is the controller both registration variants expose to the submission flow.
// Forms are not safe for concurrent use.
type Form interface {
	Variant() Variant
	// Draft returns a snapshot of the current draft.
	Draft() Draft
	// Submit validates for submission and returns the draft to send.
	// Validation failures are returned as *ValidationError.
	Submit() (Draft, error)
	Errors() map[Field]string
	FormError() string
	// Reject records errors reported by the backend after a submission.
	Reject(fields map[Field]string, formMessage string)
	// Reset discards the draft and starts over.
	Reset()
}

var (
	_ Form = (*CustomerForm)(nil)
	_ Form = (*ProviderWizard)(nil)
)

// base holds the draft and error state shared by both controllers.
type base struct {
	draft     *Draft
	errors    map[Field]string
	formError string
}

func newBase(v Variant) base {
	return base{draft: newDraft(v), errors: make(map[Field]string)}
}

// Variant reports which flow the form drives.
func (b *base) Variant() Variant { return b.draft.Variant }

// Draft returns a snapshot of the draft.
func (b *base) Draft() Draft { return b.draft.Clone() }

// Errors returns a copy of the current field errors.
func (b *base) Errors() map[Field]string { return maps.Clone(b.errors) }

// FormError returns the form-level message, if any.
func (b *base) FormError() string { return b.formError }

// Reject replaces the displayed errors with those reported by the backend.
func (b *base) Reject(fields map[Field]string, formMessage string) {
	b.errors = make(map[Field]string, len(fields))
	maps.Copy(b.errors, fields)
	b.formError = formMessage
}

func (b *base) clear(f Field) { delete(b.errors, f) }

// SetFullName sets the full name.
func (b *base) SetFullName(v string) { b.draft.FullName = v; b.clear(FieldFullName) }

// SetEmail sets the email as typed. It is trimmed and lowercased on submission.
func (b *base) SetEmail(v string) { b.draft.Email = v; b.clear(FieldEmail) }

// SetPhone keeps only the digits of v, capped at 10.
func (b *base) SetPhone(v string) { b.draft.Phone = NormalizePhone(v); b.clear(FieldPhone) }

// SetPassword sets the password.
func (b *base) SetPassword(v string) { b.draft.Password = v; b.clear(FieldPassword) }

// SetConfirmPassword sets the password confirmation.
func (b *base) SetConfirmPassword(v string) {
	b.draft.ConfirmPassword = v
	b.clear(FieldConfirmPassword)
}

// SetCountryCode selects one of CountryCodes().
func (b *base) SetCountryCode(code string) error {
	code = strings.TrimSpace(code)
	if !slices.Contains(countryCodes, code) {
		return fmt.Errorf("%w: country code %q", ErrInvalidOption, code)
	}
	b.draft.CountryCode = code
	b.clear(FieldCountryCode)
	return nil
}

func (b *base) checkCountry() string {
	if b.draft.CountryCode != DefaultCountryCode {
		return NepalOnlyMessage
	}
	return ""
}

// CustomerForm is the single-page customer registration form.
type CustomerForm struct {
	base
}

// NewCustomerForm returns an empty customer form with +977 preselected.
func NewCustomerForm() *CustomerForm {
	return &CustomerForm{base: newBase(VariantCustomer)}
}

// SetProfilePhoto attaches an optional photo. A file that is not an image or exceeds
// 5 MB is refused: the field error is set and the previous photo is kept.
func (f *CustomerForm) SetProfilePhoto(a *Attachment) error {
	if a == nil {
		f.draft.ProfilePhoto = nil
		f.clear(FieldProfilePhoto)
		return nil
	}
	if msg := checkCustomerPhoto(a); msg != "" {
		f.errors[FieldProfilePhoto] = msg
		return &ValidationError{Fields: map[Field]string{FieldProfilePhoto: msg}}
	}
	f.draft.ProfilePhoto = a
	f.clear(FieldProfilePhoto)
	return nil
}

// Validate checks every field, replacing the displayed field errors.
func (f *CustomerForm) Validate() bool {
	f.errors = validateCustomer(f.draft)
	return len(f.errors) == 0
}

// Submit validates the whole form and then the country code.
func (f *CustomerForm) Submit() (Draft, error) {
	f.formError = ""
	if !f.Validate() {
		return Draft{}, &ValidationError{Fields: maps.Clone(f.errors)}
	}
	if msg := f.checkCountry(); msg != "" {
		f.formError = msg
		return Draft{}, &ValidationError{Form: msg}
	}
	return f.draft.Clone(), nil
}

// Reset clears the form.
func (f *CustomerForm) Reset() { f.base = newBase(VariantCustomer) }
