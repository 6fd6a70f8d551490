package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/c360studio/proconnect/flow"
	"github.com/c360studio/proconnect/gateway"
	"github.com/c360studio/proconnect/otp"
	"github.com/c360studio/proconnect/registration"
)

// ErrAbandoned is returned when the user leaves email verification before
// the code is accepted.
var ErrAbandoned = errors.New("email verification abandoned")

// identityFlags are the fields both registration variants share.
type identityFlags struct {
	fullName        string
	email           string
	countryCode     string
	phone           string
	password        string
	confirmPassword string
	photo           string
	noVerify        bool
}

func (f *identityFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.fullName, "name", "", "Full name")
	cmd.Flags().StringVar(&f.email, "email", "", "Email address")
	cmd.Flags().StringVar(&f.countryCode, "country-code", registration.DefaultCountryCode, "Phone country code")
	cmd.Flags().StringVar(&f.phone, "phone", "", "Phone number without country code")
	cmd.Flags().StringVar(&f.password, "password", "", "Password")
	cmd.Flags().StringVar(&f.confirmPassword, "confirm-password", "", "Password again")
	cmd.Flags().StringVar(&f.photo, "photo", "", "Profile photo file")
	cmd.Flags().BoolVar(&f.noVerify, "no-verify", false, "Stop after the code is sent; verify later with 'proconnect verify'")
}

// identitySetter is the part of both forms the identity flags fill.
type identitySetter interface {
	SetFullName(string)
	SetEmail(string)
	SetPhone(string)
	SetPassword(string)
	SetConfirmPassword(string)
	SetCountryCode(string) error
}

func (f *identityFlags) apply(form identitySetter) error {
	form.SetFullName(f.fullName)
	form.SetEmail(f.email)
	form.SetPhone(f.phone)
	form.SetPassword(f.password)
	form.SetConfirmPassword(f.confirmPassword)
	if err := form.SetCountryCode(f.countryCode); err != nil {
		return fmt.Errorf("--country-code: %w", err)
	}
	return nil
}

func newRegisterCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a customer or service provider account",
	}
	cmd.AddCommand(newRegisterCustomerCmd(g), newRegisterProviderCmd(g))
	return cmd
}

func newRegisterCustomerCmd(g *globals) *cobra.Command {
	var id identityFlags
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Register a customer and verify the email address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, app *App) error {
				form := registration.NewCustomerForm()
				if err := id.apply(form); err != nil {
					return err
				}
				photo, err := loadAttachment(id.photo)
				if err != nil {
					return fmt.Errorf("--photo: %w", err)
				}
				if err := form.SetProfilePhoto(photo); err != nil {
					return reportValidation(cmd.ErrOrStderr(), err)
				}
				return runRegistration(ctx, cmd, app, form, id.noVerify)
			})
		},
	}
	id.bind(cmd)
	return cmd
}

type providerFlags struct {
	identityFlags
	sex          string
	service      string
	experience   string
	skills       []string
	bio          string
	province     string
	district     string
	municipality string
	ward         string
	idType       string
	idFile       string
	cv           string
	portfolio    []string
	certificates []string
}

func newRegisterProviderCmd(g *globals) *cobra.Command {
	var p providerFlags
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Register a service provider and verify the email address",
		Long: `Register a service provider. The four wizard steps (identity, professional
details, location, documents) are validated in order and the first failing
step is reported.

--portfolio and --certificate accept files or glob patterns such as
'work/**/*.jpg' and may be repeated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, app *App) error {
				w := registration.NewProviderWizard(app.locations)
				if err := p.apply(w); err != nil {
					return err
				}
				for w.Step() < registration.StepCount {
					step := w.Step()
					if !w.Next() {
						fmt.Fprintf(cmd.ErrOrStderr(), "Step %d of %d is incomplete\n", step, registration.StepCount)
						return reportValidation(cmd.ErrOrStderr(), &registration.ValidationError{Fields: w.Errors()})
					}
				}
				return runRegistration(ctx, cmd, app, w, p.noVerify)
			})
		},
	}
	p.bind(cmd)
	cmd.Flags().StringVar(&p.sex, "sex", "", "One of: Male, Female, Other")
	cmd.Flags().StringVar(&p.service, "service", "", "Service category (see 'proconnect locations --services')")
	cmd.Flags().StringVar(&p.experience, "experience", "", "Years of experience")
	cmd.Flags().StringSliceVar(&p.skills, "skills", nil, "Skills, comma separated or repeated")
	cmd.Flags().StringVar(&p.bio, "bio", "", "Short bio")
	cmd.Flags().StringVar(&p.province, "province", "", "Province")
	cmd.Flags().StringVar(&p.district, "district", "", "District")
	cmd.Flags().StringVar(&p.municipality, "municipality", "", "Municipality")
	cmd.Flags().StringVar(&p.ward, "ward", "", "Ward number")
	cmd.Flags().StringVar(&p.idType, "id-type", "", "One of: Citizenship, National ID, Passport")
	cmd.Flags().StringVar(&p.idFile, "id-file", "", "Scan of the ID document (image)")
	cmd.Flags().StringVar(&p.cv, "cv", "", "CV (PDF)")
	cmd.Flags().StringArrayVar(&p.portfolio, "portfolio", nil, "Portfolio images, files or globs")
	cmd.Flags().StringArrayVar(&p.certificates, "certificate", nil, "Extra certificates, files or globs")
	return cmd
}

func (p *providerFlags) apply(w *registration.ProviderWizard) error {
	if err := p.identityFlags.apply(w); err != nil {
		return err
	}
	photo, err := loadAttachment(p.photo)
	if err != nil {
		return fmt.Errorf("--photo: %w", err)
	}
	w.SetProfilePhoto(photo)

	// Empty choices are left unset so the step validation reports them.
	choices := []struct {
		flag  string
		value string
		set   func(string) error
	}{
		{"--sex", p.sex, w.SetSex},
		{"--service", p.service, w.SetService},
		{"--province", p.province, w.SetProvince},
		{"--district", p.district, w.SetDistrict},
		{"--municipality", p.municipality, w.SetMunicipality},
		{"--ward", p.ward, w.SetWard},
		{"--id-type", p.idType, w.SetIDType},
	}
	for _, c := range choices {
		if c.value == "" {
			continue
		}
		if err := c.set(c.value); err != nil {
			return fmt.Errorf("%s: %w", c.flag, err)
		}
	}

	w.SetExperience(p.experience)
	for _, s := range p.skills {
		w.AddSkill(s)
	}
	w.SetBio(p.bio)

	idFile, err := loadAttachment(p.idFile)
	if err != nil {
		return fmt.Errorf("--id-file: %w", err)
	}
	w.SetIDFile(idFile)
	cv, err := loadAttachment(p.cv)
	if err != nil {
		return fmt.Errorf("--cv: %w", err)
	}
	w.SetCV(cv)

	portfolio, err := loadAttachments(p.portfolio)
	if err != nil {
		return fmt.Errorf("--portfolio: %w", err)
	}
	w.SetPortfolio(portfolio)

	certs, err := loadAttachments(p.certificates)
	if err != nil {
		return fmt.Errorf("--certificate: %w", err)
	}
	for i, c := range certs {
		// The draft starts with one empty slot.
		if i > 0 {
			w.AddCertificateSlot()
		}
		if err := w.SetCertificate(i, c); err != nil {
			return err
		}
	}
	return nil
}

// runRegistration submits the form and, when a code was sent, runs the
// verification prompt until the code is accepted or the user backs out.
func runRegistration(ctx context.Context, cmd *cobra.Command, app *App, form registration.Form, noVerify bool) error {
	out := cmd.OutOrStdout()

	verified := make(chan struct{})
	var once sync.Once
	cfg := app.cfg.OTP
	reg := flow.New(form, gateway.New(app.client, gateway.WithLogger(app.logger), gateway.WithObserver(app.metrics)), app.client,
		flow.WithLogger(app.logger),
		flow.WithPublisher(app.publisher),
		flow.WithOTPObserver(app.metrics),
		flow.WithNavigator(func() { once.Do(func() { close(verified) }) }),
		flow.WithSessionOptions(
			otp.WithTiming(cfg.Countdown, cfg.ResendLock, cfg.RedirectDelay),
			otp.WithLogger(app.logger),
		),
	)
	defer reg.Close()

	outcome, err := reg.Submit(ctx)
	if err != nil {
		return reportValidation(cmd.ErrOrStderr(), err)
	}

	switch {
	case outcome.Kind == gateway.OutcomeAuthenticated:
		fmt.Fprintln(out, "Registration complete.")
		return nil
	case !outcome.OpensVerification():
		return reportValidation(cmd.ErrOrStderr(), &registration.ValidationError{
			Fields: form.Errors(),
			Form:   form.FormError(),
		})
	}

	fmt.Fprintln(out, outcome.Message)
	if noVerify {
		sess := reg.Session()
		fmt.Fprintf(out, "Verify with: %s verify --variant %s --email %s --code <code>\n", appName, sess.Variant(), sess.Email())
		reg.BackOut(ctx)
		return nil
	}
	return promptOTP(ctx, cmd.InOrStdin(), out, reg, verified)
}

// reportValidation prints field errors one per line, sorted by field name.
func reportValidation(w io.Writer, err error) error {
	var ve *registration.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	if ve.Form != "" {
		fmt.Fprintln(w, ve.Form)
	}
	fields := make([]string, 0, len(ve.Fields))
	for f := range ve.Fields {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(w, "  %s: %s\n", f, ve.Fields[registration.Field(f)])
	}
	if ve.Form == "" && len(ve.Fields) == 0 {
		return errors.New("registration failed")
	}
	return fmt.Errorf("registration not accepted: %w", registration.ErrInvalid)
}
