// Package gateway turns a validated registration draft into the backend payload,
// submits it once, and classifies the answer into an Outcome.
package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/c360studio/proconnect/registration"
)

// Payload is an encoded registration request body.
type Payload struct {
	ContentType string
	Body        []byte
}

// Reader returns a fresh reader over the body.
func (p *Payload) Reader() io.Reader { return bytes.NewReader(p.Body) }

// PayloadBuilder encodes a draft for one registration variant.
type PayloadBuilder interface {
	Build(d registration.Draft) (*Payload, error)
}

// BuilderFor returns the builder matching the draft variant.
func BuilderFor(v registration.Variant, logger *slog.Logger) PayloadBuilder {
	if v == registration.VariantProvider {
		return ProviderPayload{}
	}
	return CustomerPayload{Logger: logger}
}

// CustomerPayload encodes the customer draft as a flat JSON object. The optional
// profile photo is inlined as a data URL.
type CustomerPayload struct {
	Logger *slog.Logger
}

type customerBody struct {
	FullName        string `json:"Full Name"`
	Email           string `json:"Email"`
	Phone           string `json:"Phone"`
	Password        string `json:"Password"`
	ConfirmPassword string `json:"Confirm Password"`
	ProfilePhoto    string `json:"Profile Photo"`
}

// Build implements PayloadBuilder. A photo that cannot be read is dropped and
// the payload is sent without it.
func (b CustomerPayload) Build(d registration.Draft) (*Payload, error) {
	body := customerBody{
		FullName:        strings.TrimSpace(d.FullName),
		Email:           d.SubmitEmail(),
		Phone:           d.SubmitPhone(),
		Password:        d.Password,
		ConfirmPassword: d.ConfirmPassword,
	}
	if d.ProfilePhoto != nil {
		dataURL, err := DataURL(d.ProfilePhoto)
		if err != nil {
			logger := b.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("Profile photo conversion failed, continuing without it",
				"file", d.ProfilePhoto.Name, "error", err)
		} else {
			body.ProfilePhoto = dataURL
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal customer payload: %w", err)
	}
	return &Payload{ContentType: "application/json", Body: data}, nil
}

// DataURL encodes an attachment as data:<type>;base64,<content>.
func DataURL(a *registration.Attachment) (string, error) {
	data, err := a.ReadAll()
	if err != nil {
		return "", err
	}
	return "data:" + a.MediaType() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// ProviderPayload encodes the provider draft as multipart/form-data.
type ProviderPayload struct{}

type filePart struct {
	field string
	file  *registration.Attachment
}

// Build implements PayloadBuilder.
func (ProviderPayload) Build(d registration.Draft) (*Payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"Full Name", strings.TrimSpace(d.FullName)},
		{"Email", d.SubmitEmail()},
		{"Phone", d.SubmitPhone()},
		{"Password", d.Password},
		{"Confirm Password", d.ConfirmPassword},
		{"Sex", d.Sex},
		{"Service", d.Service},
		{"Year of Experience", d.Experience},
		{"Skills / Expertise", d.SkillsString()},
		{"Short Bio", d.Bio},
		{"Province", d.Province},
		{"District", d.District},
		{"Municipality", d.Municipality},
		{"Ward No", d.Ward},
		{"ID type", d.IDType},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("write field %q: %w", f.name, err)
		}
	}

	files := []filePart{
		{"Profile Photo", d.ProfilePhoto},
		{"Upload ID", d.IDFile},
		{"Upload CV", d.CV},
	}
	for _, p := range d.Portfolio {
		files = append(files, filePart{"Portfolio", p})
	}
	// Empty certificate slots are skipped
	for _, c := range d.FilledCertificates() {
		files = append(files, filePart{"Extra Certificate", c})
	}
	for _, f := range files {
		if f.file == nil {
			continue
		}
		if err := writeFile(w, f.field, f.file); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}
	return &Payload{ContentType: w.FormDataContentType(), Body: buf.Bytes()}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// writeFile adds a file part carrying the sniffed content type rather than
// the application/octet-stream that CreateFormFile would use.
func writeFile(w *multipart.Writer, field string, a *registration.Attachment) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(a.Name)))
	h.Set("Content-Type", a.MediaType())

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %q: %w", field, err)
	}
	src, err := a.Open()
	if err != nil {
		return fmt.Errorf("attach %s: %w", a.Name, err)
	}
	defer src.Close()
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", a.Name, err)
	}
	return nil
}
