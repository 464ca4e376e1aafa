package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

type emailTemplate struct {
	subject *template.Template
	html    *htmltemplate.Template
}

var (
	emailTemplates = map[Kind]emailTemplate{
		KindQueueJoined: {
			subject: template.Must(template.New("joined_subject").Parse(`Vous êtes dans la file d'attente - {{.CompanyName}}`)),
			html: htmltemplate.Must(htmltemplate.New("joined_html").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #2563eb;">Ajouté à la file d'attente</h2>
  <p>Bonjour <strong>{{.Name}}</strong>,</p>
  <p>Vous êtes maintenant en position <strong style="color: #dc2626;">{{.Position}}</strong>
  dans la file "{{.QueueName}}" chez {{.CompanyName}}.</p>
  <div style="background: #f3f4f6; padding: 15px; border-radius: 8px; margin: 20px 0;">
    <p><strong>Temps d'attente estimé : {{.EstimatedTime}} minutes</strong></p>
  </div>
  <p>Nous vous notifierons dès que ce sera votre tour !</p>
  <p style="color: #6b7280; font-size: 14px;">Merci d'utiliser SkipLine</p>
</div>`)),
		},
		KindQueueCalled: {
			subject: template.Must(template.New("called_subject").Parse(`C'est votre tour ! - {{.CompanyName}}`)),
			html: htmltemplate.Must(htmltemplate.New("called_html").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #059669;">Votre tour est arrivé !</h2>
  <p>Bonjour <strong>{{.Name}}</strong>,</p>
  <div style="background: #dcfce7; border-left: 4px solid #059669; padding: 15px; margin: 20px 0;">
    <p><strong>Vous êtes appelé(e) pour la file "{{.QueueName}}" chez {{.CompanyName}} !</strong></p>
    <p style="font-size: 18px; color: #059669;"><strong>Présentez-vous maintenant au comptoir !</strong></p>
  </div>
</div>`)),
		},
		KindPositionUpdated: {
			subject: template.Must(template.New("updated_subject").Parse(`Mise à jour de votre position - {{.CompanyName}}`)),
			html: htmltemplate.Must(htmltemplate.New("updated_html").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #2563eb;">Mise à jour de votre file</h2>
  <p>Bonjour <strong>{{.Name}}</strong>,</p>
  <p>Mise à jour pour la file "{{.QueueName}}" chez {{.CompanyName}} :</p>
  <div style="background: #dbeafe; padding: 15px; border-radius: 8px; margin: 20px 0;">
    <p><strong>Nouvelle position : {{.Position}}</strong></p>
    <p><strong>Temps d'attente estimé : {{.EstimatedTime}} minutes</strong></p>
  </div>
</div>`)),
		},
	}

	smsTemplates = map[Kind]*template.Template{
		KindQueueJoined: template.Must(template.New("joined_sms").Parse(
			`SkipLine: Vous êtes en position {{.Position}} chez {{.CompanyName}}. Temps estimé: {{.EstimatedTime}}min. Nous vous préviendrons !`)),
		KindQueueCalled: template.Must(template.New("called_sms").Parse(
			`SkipLine: C'est votre tour chez {{.CompanyName}} ! Présentez-vous au comptoir maintenant.`)),
		KindPositionUpdated: template.Must(template.New("updated_sms").Parse(
			`SkipLine: Nouvelle position {{.Position}} chez {{.CompanyName}}. Temps estimé: {{.EstimatedTime}}min.`)),
	}
)

// Email is a rendered email message
type Email struct {
	Subject string
	HTML    string
}

// RenderEmail renders the email for a notification kind
func RenderEmail(kind Kind, data Data) (Email, error) {
	tmpl, ok := emailTemplates[kind]
	if !ok {
		return Email{}, fmt.Errorf("no email template for %q", kind)
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Email{}, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := tmpl.html.Execute(&body, data); err != nil {
		return Email{}, fmt.Errorf("failed to render body: %w", err)
	}
	return Email{Subject: subject.String(), HTML: body.String()}, nil
}

// RenderSMS renders the text message for a notification kind
func RenderSMS(kind Kind, data Data) (string, error) {
	tmpl, ok := smsTemplates[kind]
	if !ok {
		return "", fmt.Errorf("no sms template for %q", kind)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render sms: %w", err)
	}
	return buf.String(), nil
}
