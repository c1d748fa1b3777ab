package notify

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"os"
	"strings"

	"github.com/bakkerme/marketwatch/internal/core"
)

// Placeholder stands in for any missing caption value.
const Placeholder = "N/A"

// DefaultCaptionTemplate renders Telegram HTML. Fields are HTML-escaped by html/template.
const DefaultCaptionTemplate = `<b>{{.Title}}</b>
<b>💴 Price: {{.Amount}} {{.Currency}}</b>{{if .Details}}
{{.Details}}{{end}}{{if .URL}}
{{.URL}}{{end}}`

// CaptionData is what caption templates are executed against.
type CaptionData struct {
	ID       string
	Title    string
	Amount   string
	Currency string
	Brand    string
	Size     string
	// Details is "Brand · Size", or whichever of the two is known.
	Details string
	URL     string
}

// Formatter turns listings into notification payloads.
type Formatter struct {
	tmpl     *template.Template
	maxMedia int
}

// NewFormatter parses a caption template; an empty text selects DefaultCaptionTemplate.
func NewFormatter(text string) (*Formatter, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultCaptionTemplate
	}
	tmpl, err := template.New("caption").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse caption template: %w", err)
	}
	return &Formatter{tmpl: tmpl, maxMedia: core.MaxMedia}, nil
}

// NewFormatterFromFile reads a caption template from path. An empty path means the default template.
func NewFormatterFromFile(path string) (*Formatter, error) {
	if strings.TrimSpace(path) == "" {
		return NewFormatter("")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read caption template: %w", err)
	}
	return NewFormatter(string(raw))
}

// Format never fails: missing fields become Placeholder and a broken
// template falls back to the plain default layout.
func (f *Formatter) Format(listing core.Listing) core.Payload {
	data := captionData(listing)
	payload := core.Payload{
		ItemID: listing.ID,
		Media:  listing.PhotoURLs(f.maxMedia),
	}

	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, data); err != nil {
		payload.Caption = fallbackCaption(data)
		return payload
	}
	payload.Caption = strings.TrimSpace(buf.String())
	return payload
}

func captionData(l core.Listing) CaptionData {
	data := CaptionData{
		ID:       l.ID,
		Title:    orPlaceholder(l.Title),
		Amount:   Placeholder,
		Currency: Placeholder,
		Brand:    strings.TrimSpace(l.Brand),
		Size:     strings.TrimSpace(l.Size),
		URL:      strings.TrimSpace(l.URL),
	}
	if l.Price != nil {
		data.Amount = orPlaceholder(l.Price.Amount)
		data.Currency = orPlaceholder(l.Price.CurrencyCode)
	}
	var details []string
	if data.Brand != "" {
		details = append(details, data.Brand)
	}
	if data.Size != "" {
		details = append(details, data.Size)
	}
	data.Details = strings.Join(details, " · ")
	return data
}

func fallbackCaption(d CaptionData) string {
	lines := []string{
		fmt.Sprintf("<b>%s</b>", html.EscapeString(d.Title)),
		fmt.Sprintf("<b>💴 Price: %s %s</b>", html.EscapeString(d.Amount), html.EscapeString(d.Currency)),
	}
	if d.Details != "" {
		lines = append(lines, html.EscapeString(d.Details))
	}
	if d.URL != "" {
		lines = append(lines, html.EscapeString(d.URL))
	}
	return strings.Join(lines, "\n")
}

func orPlaceholder(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return Placeholder
}
