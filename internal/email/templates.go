package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
}

type viewingConfirmationEmailData struct {
	baseEmailData
	ViewingConfirmation
}

func renderViewingConfirmation(viewing ViewingConfirmation) (string, error) {
	if viewing.TenantName == "" {
		viewing.TenantName = "there"
	}
	return renderEmailTemplate("viewing_confirmation.html", viewingConfirmationEmailData{
		baseEmailData: baseEmailData{
			Title:   "Viewing confirmed",
			Heading: "Your viewing is booked",
		},
		ViewingConfirmation: viewing,
	})
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
