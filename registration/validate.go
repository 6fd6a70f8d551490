package registration

import (
	"errors"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/c360studio/proconnect/location"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// RE2 has no lookahead, so each character class is its own pattern.
	lowerPattern  = regexp.MustCompile(`[a-z]`)
	upperPattern  = regexp.MustCompile(`[A-Z]`)
	digitPattern  = regexp.MustCompile(`[0-9]`)
	symbolPattern = regexp.MustCompile(`[^A-Za-z0-9]`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their draft field name, not the Go struct field.
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		if name := sf.Tag.Get("field"); name != "" && name != "-" {
			return name
		}
		return sf.Name
	})

	rules := map[string]func(string) bool{
		"proemail":       func(s string) bool { return emailPattern.MatchString(s) },
		"strongpassword": hasPasswordClasses,
		"service":        func(s string) bool { return slices.Contains(services, s) },
		"idtype":         func(s string) bool { return slices.Contains(idTypes, s) },
		"sex":            func(s string) bool { return slices.Contains(sexes, s) },
		"skills":         func(s string) bool { return len(ParseSkills(s)) > 0 },
	}
	for tag, fn := range rules {
		err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return fn(fl.Field().String())
		})
		if err != nil {
			panic("registration: register validation " + tag + ": " + err.Error())
		}
	}
	return v
}

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidPassword reports whether pw has at least 8 characters and contains a lowercase
// letter, an uppercase letter, a digit and a symbol (anything outside [A-Za-z0-9]).
func ValidPassword(pw string) bool {
	return len([]rune(pw)) >= 8 && hasPasswordClasses(pw)
}

func hasPasswordClasses(pw string) bool {
	return lowerPattern.MatchString(pw) &&
		upperPattern.MatchString(pw) &&
		digitPattern.MatchString(pw) &&
		symbolPattern.MatchString(pw)
}

type customerInput struct {
	FullName        string `field:"fullName" validate:"required,min=2"`
	Email           string `field:"email" validate:"required,proemail"`
	Phone           string `field:"phone" validate:"required,number,len=10"`
	Password        string `field:"password" validate:"required,min=8,strongpassword"`
	ConfirmPassword string `field:"confirmPassword" validate:"required,eqfield=Password"`
}

type providerIdentityInput struct {
	FullName        string `field:"fullName" validate:"required"`
	Email           string `field:"email" validate:"required,proemail"`
	Phone           string `field:"phone" validate:"required,number,len=10"`
	Sex             string `field:"sex" validate:"required,sex"`
	Password        string `field:"password" validate:"required,min=8,strongpassword"`
	ConfirmPassword string `field:"confirmPassword" validate:"eqfield=Password"`
}

type providerProfessionalInput struct {
	Service    string `field:"service" validate:"required,service"`
	Experience string `field:"experience" validate:"required,number"`
	Skills     string `field:"skills" validate:"required,skills"`
}

type providerLocationInput struct {
	Province     string `field:"province" validate:"required"`
	District     string `field:"district" validate:"required"`
	Municipality string `field:"municipality" validate:"required"`
	Ward         string `field:"wardNo" validate:"required"`
}

type providerDocumentsInput struct {
	IDType string `field:"idType" validate:"required,idtype"`
}

const fallbackMessage = "Invalid value"

// messages maps variant → field → failed tag → user-facing message. The "*" tag
// covers every tag of the field not listed explicitly.
var messages = map[Variant]map[Field]map[string]string{
	VariantCustomer: {
		FieldFullName: {"required": "Full name is required", "min": "Name must be at least 2 characters"},
		FieldEmail:    {"required": "Email is required", "*": "Invalid email format"},
		FieldPhone:    {"required": "Phone number is required", "*": "Phone must be 10 digits"},
		FieldPassword: {
			"required":       "Password is required",
			"min":            "Password must be at least 8 characters",
			"strongpassword": "Password must include uppercase, lowercase, number, and special character",
		},
		FieldConfirmPassword: {"required": "Please confirm your password", "*": "Passwords do not match"},
		FieldProfilePhoto:    {"image": "Please select an image file", "size": "Maximum file size is 5 MB"},
	},
	VariantProvider: {
		FieldFullName: {"*": "Full name required"},
		FieldEmail:    {"required": "Email required", "*": "Invalid email format"},
		FieldPhone:    {"required": "Phone required", "*": "Phone must be 10 digits"},
		FieldSex:      {"*": "Sex required"},
		FieldPassword: {
			"required":       "Password required",
			"min":            "Min. 8 characters",
			"strongpassword": "Password must include uppercase, lowercase, number, and special character",
		},
		FieldConfirmPassword: {"*": "Password mismatch"},
		FieldProfilePhoto: {
			"required": "Profile photo required",
			"size":     "Max size 5 MB",
			"image":    "Please select an image file",
		},
		FieldService:      {"*": "Choose your service"},
		FieldExperience:   {"required": "Experience required", "*": "Experience must be a whole number of years"},
		FieldSkills:       {"*": "Enter at least one skill"},
		FieldProvince:     {"*": "Province required"},
		FieldDistrict:     {"*": "District required"},
		FieldMunicipality: {"*": "Municipality required"},
		FieldWard:         {"*": "Ward number required"},
		FieldIDType:       {"*": "Select your ID type"},
		FieldIDFile:       {"required": "Upload ID", "size": "Max size 5 MB", "image": "ID must be a JPG or PNG image"},
		FieldCV:           {"required": "Upload CV", "size": "Max size 5 MB", "pdf": "CV must be a PDF"},
		FieldPortfolio:    {"size": "Each image must be under 5 MB", "type": "Portfolio files must be images or PDFs"},
		FieldCertificates: {"*": "Each certificate must be under 5 MB"},
	},
}

func message(v Variant, f Field, tag string) string {
	byTag := messages[v][f]
	if m, ok := byTag[tag]; ok {
		return m
	}
	if m, ok := byTag["*"]; ok {
		return m
	}
	return fallbackMessage
}

// check runs struct validation and converts failures into draft field messages.
func check(v Variant, in any, into map[Field]string) {
	err := validate.Struct(in)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// Only returned for non-struct input, which is a programming error here.
		panic("registration: " + err.Error())
	}
	for _, fe := range verrs {
		f := Field(fe.Field())
		into[f] = message(v, f, fe.Tag())
	}
}

func validateCustomer(d *Draft) map[Field]string {
	errs := make(map[Field]string)
	check(VariantCustomer, customerInput{
		FullName:        strings.TrimSpace(d.FullName),
		Email:           strings.TrimSpace(d.Email),
		Phone:           d.Phone,
		Password:        d.Password,
		ConfirmPassword: d.ConfirmPassword,
	}, errs)
	// The customer photo is optional; a selected one must still be an image within the limit.
	if d.ProfilePhoto != nil {
		if msg := checkCustomerPhoto(d.ProfilePhoto); msg != "" {
			errs[FieldProfilePhoto] = msg
		}
	}
	return errs
}

func checkLocation(d *Draft, c *location.Catalog, errs map[Field]string) {
	levels := []struct {
		field   Field
		value   string
		options func() []string
	}{
		{FieldProvince, d.Province, c.Provinces},
		{FieldDistrict, d.District, func() []string { return c.Districts(d.Province) }},
		{FieldMunicipality, d.Municipality, func() []string { return c.Municipalities(d.Province, d.District) }},
		{FieldWard, d.Ward, func() []string { return c.Wards(d.Province, d.District, d.Municipality) }},
	}
	for _, l := range levels {
		if _, failed := errs[l.field]; failed || l.value == "" {
			continue
		}
		if !slices.Contains(l.options(), l.value) {
			errs[l.field] = message(VariantProvider, l.field, "oneof")
		}
	}
}

func checkCustomerPhoto(a *Attachment) string {
	switch {
	case !a.IsImage():
		return message(VariantCustomer, FieldProfilePhoto, "image")
	case a.TooLarge():
		return message(VariantCustomer, FieldProfilePhoto, "size")
	}
	return ""
}

// validateProviderStep checks one wizard step. Locations are checked against
// catalog, which may have been reloaded since the options were chosen.
func validateProviderStep(d *Draft, step int, catalog *location.Catalog) map[Field]string {
	errs := make(map[Field]string)
	switch step {
	case 1:
		check(VariantProvider, providerIdentityInput{
			FullName:        d.FullName,
			Email:           strings.TrimSpace(d.Email),
			Phone:           d.Phone,
			Sex:             d.Sex,
			Password:        d.Password,
			ConfirmPassword: d.ConfirmPassword,
		}, errs)
		switch p := d.ProfilePhoto; {
		case p == nil:
			errs[FieldProfilePhoto] = message(VariantProvider, FieldProfilePhoto, "required")
		case p.TooLarge():
			errs[FieldProfilePhoto] = message(VariantProvider, FieldProfilePhoto, "size")
		case !p.IsImage():
			errs[FieldProfilePhoto] = message(VariantProvider, FieldProfilePhoto, "image")
		}

	case 2:
		check(VariantProvider, providerProfessionalInput{
			Service:    d.Service,
			Experience: d.Experience,
			Skills:     d.SkillsString(),
		}, errs)

	case 3:
		check(VariantProvider, providerLocationInput{
			Province:     d.Province,
			District:     d.District,
			Municipality: d.Municipality,
			Ward:         d.Ward,
		}, errs)
		checkLocation(d, catalog, errs)

	case 4:
		check(VariantProvider, providerDocumentsInput{IDType: d.IDType}, errs)

		switch id := d.IDFile; {
		case id == nil:
			errs[FieldIDFile] = message(VariantProvider, FieldIDFile, "required")
		case id.TooLarge():
			errs[FieldIDFile] = message(VariantProvider, FieldIDFile, "size")
		case !id.IsImage():
			errs[FieldIDFile] = message(VariantProvider, FieldIDFile, "image")
		}

		switch cv := d.CV; {
		case cv == nil:
			errs[FieldCV] = message(VariantProvider, FieldCV, "required")
		case cv.TooLarge():
			errs[FieldCV] = message(VariantProvider, FieldCV, "size")
		case !cv.IsPDF():
			errs[FieldCV] = message(VariantProvider, FieldCV, "pdf")
		}

		for _, a := range d.Portfolio {
			if a.TooLarge() {
				errs[FieldPortfolio] = message(VariantProvider, FieldPortfolio, "size")
				break
			}
			if !a.IsImage() && !a.IsPDF() {
				errs[FieldPortfolio] = message(VariantProvider, FieldPortfolio, "type")
			}
		}

		for _, c := range d.FilledCertificates() {
			if c.TooLarge() {
				errs[FieldCertificates] = message(VariantProvider, FieldCertificates, "size")
				break
			}
		}
	}
	return errs
}
