// Package digest renders the collated approval digest sent to one recipient.
package digest

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/rs/zerolog"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/models"
)

// DefaultCurrencySymbol prefixes amounts unless configured otherwise.
const DefaultCurrencySymbol = "₹"

// Digest is a rendered message.
type Digest struct {
	Subject string
	HTML    string
	Text    string

	// Template names the store template used for the HTML body, if any.
	Template string
}

// Options configures a Renderer.
type Options struct {
	Store          TemplateStore
	CurrencySymbol string
}

// Renderer builds digests. Render never fails: store templates that are
// missing or broken fall back to the built-in layout.
type Renderer struct {
	store  TemplateStore
	format formatter
	logger zerolog.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(opts Options) *Renderer {
	currency := opts.CurrencySymbol
	if currency == "" {
		currency = DefaultCurrencySymbol
	}
	store := opts.Store
	if store == nil {
		store = MapStore{}
	}
	return &Renderer{
		store:  store,
		format: formatter{currency: currency},
		logger: logging.Component("digest"),
	}
}

// Render builds the digest for recipient from buckets.
func (r *Renderer) Render(buckets []Bucket, recipient models.Recipient, instance, linkBase string) Digest {
	view := r.View(buckets, recipient, instance, linkBase)
	digest := Digest{Subject: view.Subject}

	if html, ok := r.renderStoreHTML(view); ok {
		digest.HTML = html
		digest.Template = HTMLTemplateName
	} else {
		digest.HTML = r.fallback(func(buf *bytes.Buffer) error { return fallbackHTML.Execute(buf, view) }, view)
	}

	if text, ok := r.renderStoreText(view); ok {
		digest.Text = text
	} else {
		digest.Text = r.fallback(func(buf *bytes.Buffer) error { return fallbackText.Execute(buf, view) }, view)
	}

	return digest
}

// View builds the template data for buckets.
func (r *Renderer) View(buckets []Bucket, recipient models.Recipient, instance, linkBase string) View {
	view := View{
		Subject:       Subject(buckets),
		RecipientName: recipient.Name(),
		Recipient:     recipient,
		Instance:      instance,
	}
	for _, b := range buckets {
		view.Total += len(b.Rows)
		view.Sections = append(view.Sections, r.format.section(b, instance, linkBase))
	}
	return view
}

func (r *Renderer) renderStoreHTML(view View) (string, bool) {
	src, ok := r.lookup(HTMLTemplateName)
	if !ok {
		return "", false
	}
	tmpl, err := htmltemplate.New(HTMLTemplateName).Parse(src)
	if err != nil {
		r.logger.Warn().Err(err).Str("template", HTMLTemplateName).Msg("template parse failed, using built-in layout")
		return "", false
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		r.logger.Warn().Err(err).Str("template", HTMLTemplateName).Msg("template execution failed, using built-in layout")
		return "", false
	}
	return buf.String(), true
}

func (r *Renderer) renderStoreText(view View) (string, bool) {
	src, ok := r.lookup(TextTemplateName)
	if !ok {
		return "", false
	}
	tmpl, err := texttemplate.New(TextTemplateName).Parse(src)
	if err != nil {
		r.logger.Warn().Err(err).Str("template", TextTemplateName).Msg("template parse failed, using built-in layout")
		return "", false
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		r.logger.Warn().Err(err).Str("template", TextTemplateName).Msg("template execution failed, using built-in layout")
		return "", false
	}
	return buf.String(), true
}

func (r *Renderer) lookup(name string) (string, bool) {
	src, ok, err := r.store.Lookup(name)
	if err != nil {
		r.logger.Warn().Err(err).Str("template", name).Msg("template lookup failed")
		return "", false
	}
	return src, ok
}

func (r *Renderer) fallback(exec func(*bytes.Buffer) error, view View) string {
	var buf bytes.Buffer
	if err := exec(&buf); err != nil {
		r.logger.Error().Err(err).Msg("built-in digest layout failed")
		return fmt.Sprintf("%s\n\n%d items are waiting for your approval in %s.\n", view.Subject, view.Total, view.Instance)
	}
	return buf.String()
}
