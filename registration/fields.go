// Package registration holds the client-side registration draft for customers and
// service providers, the field validation rules, and the controllers that gate
// submission: a single-page customer form and a four-step provider wizard.
package registration

import "slices"

// Variant selects which registration flow a draft belongs to.
type Variant string

const (
	VariantCustomer Variant = "customer"
	VariantProvider Variant = "provider"
)

// String implements fmt.Stringer.
func (v Variant) String() string { return string(v) }

// Field names a draft field. Field errors are keyed by these names.
type Field string

const (
	FieldFullName        Field = "fullName"
	FieldEmail           Field = "email"
	FieldCountryCode     Field = "countryCode"
	FieldPhone           Field = "phone"
	FieldSex             Field = "sex"
	FieldPassword        Field = "password"
	FieldConfirmPassword Field = "confirmPassword"
	FieldProfilePhoto    Field = "profilePhoto"
	FieldService         Field = "service"
	FieldExperience      Field = "experience"
	FieldSkills          Field = "skills"
	FieldBio             Field = "bio"
	FieldProvince        Field = "province"
	FieldDistrict        Field = "district"
	FieldMunicipality    Field = "municipality"
	FieldWard            Field = "wardNo"
	FieldIDType          Field = "idType"
	FieldIDFile          Field = "idFile"
	FieldCV              Field = "cvFile"
	FieldPortfolio       Field = "portfolio"
	FieldCertificates    Field = "extraCert"
)

// DefaultCountryCode is preselected on every new draft.
const DefaultCountryCode = "+977"

// NepalOnlyMessage is the form-level error for any country code other than +977.
const NepalOnlyMessage = "Currently, only Nepali phone numbers (+977) are supported for registration."

var countryCodes = []string{"+977", "+91", "+880", "+94", "+95", "+86", "+81", "+82", "+1", "+44", "+971"}

var services = []string{
	"Plumber", "Electrician", "Home Tutors", "Painter", "House Help", "Babysitters",
	"Beauty & Salon", "Event Decorators", "Carpenter", "Photographer", "Band Baja",
	"Private Chef", "Locksmith", "Boutiques", "Movers & Packers", "Catering Server",
}

var idTypes = []string{"Citizenship", "National ID", "Passport"}

var sexes = []string{"Male", "Female", "Other"}

// CountryCodes lists the dialing codes offered by the selector.
func CountryCodes() []string { return slices.Clone(countryCodes) }

// Services lists the provider service catalog.
func Services() []string { return slices.Clone(services) }

// IDTypes lists the accepted identity document types.
func IDTypes() []string { return slices.Clone(idTypes) }

// Sexes lists the sex options of the provider form.
func Sexes() []string { return slices.Clone(sexes) }

// FieldStep returns the wizard step a provider field belongs to, or 0 for fields
// outside the wizard.
func FieldStep(f Field) int {
	switch f {
	case FieldFullName, FieldEmail, FieldCountryCode, FieldPhone, FieldSex,
		FieldPassword, FieldConfirmPassword, FieldProfilePhoto:
		return 1
	case FieldService, FieldExperience, FieldSkills, FieldBio:
		return 2
	case FieldProvince, FieldDistrict, FieldMunicipality, FieldWard:
		return 3
	case FieldIDType, FieldIDFile, FieldCV, FieldPortfolio, FieldCertificates:
		return 4
	}
	return 0
}
