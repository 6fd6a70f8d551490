package registration

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/c360studio/proconnect/location"
)

// Wizard steps.
const (
	StepIdentity     = 1
	StepProfessional = 2
	StepLocation     = 3
	StepDocuments    = 4
)

// StepCount is the number of wizard steps.
const StepCount = StepDocuments

// ProviderWizard is the four-step service provider form. The location options are
// derived from the catalog on every call, so a reloaded catalog takes effect immediately.
type ProviderWizard struct {
	base
	step      int
	locations location.Source
}

// NewProviderWizard returns a wizard on step 1. A nil source uses the built-in catalog.
func NewProviderWizard(locations location.Source) *ProviderWizard {
	if locations == nil {
		locations = location.NewStaticSource(nil)
	}
	return &ProviderWizard{base: newBase(VariantProvider), step: StepIdentity, locations: locations}
}

// Step returns the current step, 1 through 4.
func (w *ProviderWizard) Step() int { return w.step }

// Next validates the current step and advances when it passes. The field errors
// are replaced by the current step's errors either way.
func (w *ProviderWizard) Next() bool {
	w.errors = validateProviderStep(w.draft, w.step, w.locations.Catalog())
	if len(w.errors) > 0 {
		return false
	}
	if w.step < StepCount {
		w.step++
	}
	return true
}

// Previous moves back one step without validating.
func (w *ProviderWizard) Previous() {
	if w.step > StepIdentity {
		w.step--
	}
}

// Submit is only available on step 4. It validates step 4 and then every earlier
// step; the first failing step becomes current and its errors are shown.
func (w *ProviderWizard) Submit() (Draft, error) {
	if w.step != StepDocuments {
		return Draft{}, ErrNotFinalStep
	}
	w.formError = ""

	w.errors = validateProviderStep(w.draft, StepDocuments, w.locations.Catalog())
	if len(w.errors) > 0 {
		return Draft{}, &ValidationError{Fields: maps.Clone(w.errors)}
	}
	for step := StepIdentity; step < StepDocuments; step++ {
		if errs := validateProviderStep(w.draft, step, w.locations.Catalog()); len(errs) > 0 {
			w.step = step
			w.errors = errs
			return Draft{}, &ValidationError{Fields: maps.Clone(errs)}
		}
	}

	if msg := w.checkCountry(); msg != "" {
		w.formError = msg
		return Draft{}, &ValidationError{Form: msg}
	}
	return w.draft.Clone(), nil
}

// Reject records backend errors and moves to the earliest step holding a field error.
func (w *ProviderWizard) Reject(fields map[Field]string, formMessage string) {
	w.base.Reject(fields, formMessage)
	earliest := 0
	for f := range fields {
		if s := FieldStep(f); s > 0 && (earliest == 0 || s < earliest) {
			earliest = s
		}
	}
	if earliest > 0 {
		w.step = earliest
	}
}

// Reset clears the draft and returns to step 1.
func (w *ProviderWizard) Reset() {
	w.base = newBase(VariantProvider)
	w.step = StepIdentity
}

// SetSex selects one of Sexes().
func (w *ProviderWizard) SetSex(v string) error {
	if v != "" && !slices.Contains(sexes, v) {
		return fmt.Errorf("%w: sex %q", ErrInvalidOption, v)
	}
	w.draft.Sex = v
	w.clear(FieldSex)
	return nil
}

// SetProfilePhoto sets the required profile photo. It is checked by Next.
func (w *ProviderWizard) SetProfilePhoto(a *Attachment) {
	w.draft.ProfilePhoto = a
	w.clear(FieldProfilePhoto)
}

// SetService selects one of Services().
func (w *ProviderWizard) SetService(v string) error {
	if v != "" && !slices.Contains(services, v) {
		return fmt.Errorf("%w: service %q", ErrInvalidOption, v)
	}
	w.draft.Service = v
	w.clear(FieldService)
	return nil
}

// SetExperience sets the years of experience as entered.
func (w *ProviderWizard) SetExperience(v string) {
	w.draft.Experience = strings.TrimSpace(v)
	w.clear(FieldExperience)
}

// AddSkill adds each comma-separated token of raw, skipping blanks and duplicates.
// It reports how many skills were added.
func (w *ProviderWizard) AddSkill(raw string) int {
	added := 0
	for _, s := range ParseSkills(raw) {
		if slices.Contains(w.draft.Skills, s) {
			continue
		}
		w.draft.Skills = append(w.draft.Skills, s)
		added++
	}
	if added > 0 {
		w.clear(FieldSkills)
	}
	return added
}

// RemoveSkill removes the skill at index i. Out of range indexes are ignored.
func (w *ProviderWizard) RemoveSkill(i int) {
	if i < 0 || i >= len(w.draft.Skills) {
		return
	}
	w.draft.Skills = slices.Delete(w.draft.Skills, i, i+1)
}

// SetBio sets the optional short bio.
func (w *ProviderWizard) SetBio(v string) { w.draft.Bio = v }

// ProvinceOptions lists the selectable provinces.
func (w *ProviderWizard) ProvinceOptions() []string {
	return w.locations.Catalog().Provinces()
}

// DistrictOptions lists the districts of the selected province.
func (w *ProviderWizard) DistrictOptions() []string {
	return w.locations.Catalog().Districts(w.draft.Province)
}

// MunicipalityOptions lists the municipalities of the selected district.
func (w *ProviderWizard) MunicipalityOptions() []string {
	return w.locations.Catalog().Municipalities(w.draft.Province, w.draft.District)
}

// WardOptions lists the wards of the selected municipality.
func (w *ProviderWizard) WardOptions() []string {
	return w.locations.Catalog().Wards(w.draft.Province, w.draft.District, w.draft.Municipality)
}

// SetProvince selects a province and clears district, municipality and ward.
// An empty value clears the selection.
func (w *ProviderWizard) SetProvince(v string) error {
	if err := choose(v, w.ProvinceOptions(), "province"); err != nil {
		return err
	}
	w.draft.Province = v
	w.draft.District, w.draft.Municipality, w.draft.Ward = "", "", ""
	w.clear(FieldProvince)
	return nil
}

// SetDistrict selects a district of the current province and clears municipality and ward.
func (w *ProviderWizard) SetDistrict(v string) error {
	if err := choose(v, w.DistrictOptions(), "district"); err != nil {
		return err
	}
	w.draft.District = v
	w.draft.Municipality, w.draft.Ward = "", ""
	w.clear(FieldDistrict)
	return nil
}

// SetMunicipality selects a municipality of the current district and clears the ward.
func (w *ProviderWizard) SetMunicipality(v string) error {
	if err := choose(v, w.MunicipalityOptions(), "municipality"); err != nil {
		return err
	}
	w.draft.Municipality = v
	w.draft.Ward = ""
	w.clear(FieldMunicipality)
	return nil
}

// SetWard selects a ward of the current municipality.
func (w *ProviderWizard) SetWard(v string) error {
	if err := choose(v, w.WardOptions(), "ward"); err != nil {
		return err
	}
	w.draft.Ward = v
	w.clear(FieldWard)
	return nil
}

func choose(v string, options []string, what string) error {
	if v == "" || slices.Contains(options, v) {
		return nil
	}
	return fmt.Errorf("%w: %s %q", ErrInvalidOption, what, v)
}

// SetIDType selects one of IDTypes().
func (w *ProviderWizard) SetIDType(v string) error {
	if v != "" && !slices.Contains(idTypes, v) {
		return fmt.Errorf("%w: ID type %q", ErrInvalidOption, v)
	}
	w.draft.IDType = v
	w.clear(FieldIDType)
	return nil
}

// SetIDFile sets the government ID scan.
func (w *ProviderWizard) SetIDFile(a *Attachment) { w.draft.IDFile = a; w.clear(FieldIDFile) }

// SetCV sets the CV document.
func (w *ProviderWizard) SetCV(a *Attachment) { w.draft.CV = a; w.clear(FieldCV) }

// SetPortfolio replaces the portfolio files.
func (w *ProviderWizard) SetPortfolio(files []*Attachment) {
	w.draft.Portfolio = slices.DeleteFunc(slices.Clone(files), func(a *Attachment) bool { return a == nil })
	w.clear(FieldPortfolio)
}

// AddCertificateSlot appends an empty certificate slot and returns its index.
func (w *ProviderWizard) AddCertificateSlot() int {
	w.draft.Certificates = append(w.draft.Certificates, nil)
	return len(w.draft.Certificates) - 1
}

// SetCertificate fills (or with nil, empties) certificate slot i.
func (w *ProviderWizard) SetCertificate(i int, a *Attachment) error {
	if i < 0 || i >= len(w.draft.Certificates) {
		return fmt.Errorf("certificate slot %d out of range (have %d)", i, len(w.draft.Certificates))
	}
	w.draft.Certificates[i] = a
	w.clear(FieldCertificates)
	return nil
}
