package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"LeadPulse/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = template.Must(
		template.New("mail").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/*.html"),
	)
	textTemplates = texttemplate.Must(
		texttemplate.New("mail").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/*.txt"),
	)
)

// Content is a rendered subject with its HTML and plain-text bodies.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

type formCopy struct {
	label    string
	headline string
	intro    string
}

var formCopies = map[models.FormType]formCopy{
	models.FormDemo: {
		label:    "Demo request",
		headline: "Confirm your demo request",
		intro:    "Enter this code on the demo request form to confirm your email address.",
	},
	models.FormContact: {
		label:    "Contact request",
		headline: "Confirm your message",
		intro:    "Enter this code on the contact form to confirm your email address.",
	},
	models.FormCareers: {
		label:    "Job application",
		headline: "Confirm your application",
		intro:    "Enter this code on the careers form to confirm your email address.",
	},
}

func copyFor(ft models.FormType) formCopy {
	if c, ok := formCopies[ft]; ok {
		return c
	}
	return formCopy{label: "Request", headline: "Confirm your email", intro: "Enter this code to confirm your email address."}
}

type CodeMailParams struct {
	SiteName         string
	FormType         models.FormType
	Code             string
	ExpiresInMinutes int
}

func RenderVerificationCode(p CodeMailParams) (Content, error) {
	c := copyFor(p.FormType)
	data := struct {
		CodeMailParams
		Headline string
		Intro    string
	}{p, c.headline, c.intro}

	return render("verification_code", fmt.Sprintf("%s: your verification code %s", p.SiteName, p.Code), data)
}

type LeadMailParams struct {
	SiteName      string
	Lead          models.Lead
	RecipientName string
	ReceivedAt    time.Time
}

func (p LeadMailParams) FormLabel() string {
	return copyFor(p.Lead.FormType).label
}

// RenderConfirmation renders the acknowledgement sent to the submitter.
func RenderConfirmation(p LeadMailParams) (Content, error) {
	return render("confirmation", fmt.Sprintf("%s: we received your %s", p.SiteName, strings.ToLower(p.FormLabel())), p)
}

// RenderLeadNotification renders the mailing-list notice about a new lead.
func RenderLeadNotification(p LeadMailParams) (Content, error) {
	who := p.Lead.Name
	if who == "" {
		who = p.Lead.Email
	}
	return render("lead_notification", fmt.Sprintf("[%s] New %s from %s", p.SiteName, strings.ToLower(p.FormLabel()), who), p)
}

func render(name, subject string, data any) (Content, error) {
	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Content{}, fmt.Errorf("render %s html: %w", name, err)
	}
	if err := textTemplates.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return Content{}, fmt.Errorf("render %s text: %w", name, err)
	}
	return Content{Subject: subject, HTML: html.String(), Text: text.String()}, nil
}
