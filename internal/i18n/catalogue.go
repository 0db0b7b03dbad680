// Package i18n holds the user-facing reply catalogue of the conversation.
package i18n

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

// Catalogue is one reply per branch of the conversation table plus the
// pipeline results. Success understands the {store}, {total}, {currency},
// {date} and {ticket} placeholders; Rejected understands {reason}.
type Catalogue struct {
	Welcome           string `yaml:"welcome"`
	SendImage         string `yaml:"send_image"`
	StillProcessing   string `yaml:"still_processing"`
	ProcessingStarted string `yaml:"processing_started"`
	ProcessingAnother string `yaml:"processing_another"`
	SucceededFollowUp string `yaml:"succeeded_follow_up"`
	FailedFollowUp    string `yaml:"failed_follow_up"`
	Success           string `yaml:"success"`
	Rejected          string `yaml:"rejected"`
	ProcessingError   string `yaml:"processing_error"`
	Apology           string `yaml:"apology"`
	Unsupported       string `yaml:"unsupported"`
	Unavailable       string `yaml:"unavailable"`
}

var english = Catalogue{
	Welcome: "👋 Welcome to the receipt processing service!\n\n" +
		"Please send a clear photo of your purchase receipt.\n\n" +
		"Make sure it shows:\n✓ Store name\n✓ Total amount\n✓ Purchase date\n✓ Ticket number",
	SendImage:         "📸 Please send a photo of your receipt (not text).",
	StillProcessing:   "⚙️ Your previous receipt is still being processed. Please wait a moment.",
	ProcessingStarted: "⏳ Processing your receipt... This can take a few seconds.",
	ProcessingAnother: "⏳ Processing your new receipt...",
	SucceededFollowUp: "Want to process another receipt? Send a new photo or type \"menu\" to start over.",
	FailedFollowUp:    "❌ The previous receipt could not be processed.\n\nWant to try another one? Send a new photo or type \"menu\".",
	Success: "✅ Receipt processed successfully!\n\n" +
		"🏪 Store: {store}\n💰 Total: {currency} {total}\n📅 Date: {date}\n🎫 Number: {ticket}\n\n" +
		"Your receipt has been recorded.",
	Rejected:        "❌ The receipt could not be processed.\n\nReason: {reason}\n\nPlease send a clear photo of a valid purchase receipt.",
	ProcessingError: "❌ Something went wrong while processing your receipt. Please try again with a clearer photo.",
	Apology:         "❌ Sorry, something went wrong. Please try again later.",
	Unsupported:     "⚠️ I can only handle text messages and images. Please send a photo of your receipt.",
	Unavailable:     "not available",
}

var spanish = Catalogue{
	Welcome: "👋 ¡Bienvenido al sistema de procesamiento de tickets!\n\n" +
		"Por favor, envía una foto clara de tu ticket de compra para procesarlo.\n\n" +
		"La foto debe mostrar claramente:\n✓ Nombre de la tienda\n✓ Monto total\n✓ Fecha de compra\n✓ Número de ticket",
	SendImage:         "📸 Por favor, envía una foto de tu ticket de compra (no texto).",
	StillProcessing:   "⚙️ Tu ticket anterior aún se está procesando. Por favor, espera un momento.",
	ProcessingStarted: "⏳ Procesando tu ticket... Esto puede tomar unos segundos.",
	ProcessingAnother: "⏳ Procesando tu nuevo ticket...",
	SucceededFollowUp: "¿Deseas procesar otro ticket? Envía una nueva foto o escribe \"menu\" para volver al inicio.",
	FailedFollowUp:    "❌ El ticket anterior no pudo ser procesado.\n\n¿Deseas intentar con otro ticket? Envía una nueva foto.",
	Success: "✅ ¡Ticket procesado exitosamente!\n\n" +
		"🏪 Tienda: {store}\n💰 Total: {currency} {total}\n📅 Fecha: {date}\n🎫 Número: {ticket}\n\n" +
		"Tu ticket ha sido registrado correctamente.",
	Rejected:        "❌ El ticket no pudo ser procesado.\n\nRazón: {reason}\n\nPor favor, envía una foto clara de un ticket de compra válido.",
	ProcessingError: "❌ Ocurrió un error al procesar tu ticket. Por favor, intenta de nuevo con otra foto más clara.",
	Apology:         "❌ Lo siento, ocurrió un error. Por favor, intenta de nuevo más tarde.",
	Unsupported:     "⚠️ Solo puedo procesar mensajes de texto e imágenes. Por favor, envía una foto de tu ticket.",
	Unavailable:     "No disponible",
}

// Default returns the built-in catalogue for locale, falling back to English.
func Default(locale string) Catalogue {
	switch strings.ToLower(strings.TrimSpace(locale)) {
	case "es", "es-es", "es-mx", "spanish":
		return spanish
	default:
		return english
	}
}

// LoadFile overlays the entries of the YAML file at path onto the default
// catalogue for locale. The file maps locale codes to catalogues; an empty
// path returns the defaults unchanged.
func LoadFile(path, locale string) (Catalogue, error) {
	base := Default(locale)
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalogue{}, fmt.Errorf("read replies file: %w", err)
	}
	return Parse(raw, locale, base)
}

// Parse overlays the catalogue for locale found in raw onto base.
func Parse(raw []byte, locale string, base Catalogue) (Catalogue, error) {
	var byLocale map[string]Catalogue
	if err := yaml.Unmarshal(raw, &byLocale); err != nil {
		return Catalogue{}, fmt.Errorf("parse replies file: %w", err)
	}
	override, ok := byLocale[strings.ToLower(strings.TrimSpace(locale))]
	if !ok {
		return base, nil
	}
	return base.merge(override), nil
}

func (c Catalogue) merge(o Catalogue) Catalogue {
	pick := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	out := c
	pick(&out.Welcome, o.Welcome)
	pick(&out.SendImage, o.SendImage)
	pick(&out.StillProcessing, o.StillProcessing)
	pick(&out.ProcessingStarted, o.ProcessingStarted)
	pick(&out.ProcessingAnother, o.ProcessingAnother)
	pick(&out.SucceededFollowUp, o.SucceededFollowUp)
	pick(&out.FailedFollowUp, o.FailedFollowUp)
	pick(&out.Success, o.Success)
	pick(&out.Rejected, o.Rejected)
	pick(&out.ProcessingError, o.ProcessingError)
	pick(&out.Apology, o.Apology)
	pick(&out.Unsupported, o.Unsupported)
	pick(&out.Unavailable, o.Unavailable)
	return out
}

// SuccessMessage renders the success reply for the extracted fields.
func (c Catalogue) SuccessMessage(fields domain.ReceiptFields) string {
	total := c.Unavailable
	if fields.TotalAmount != nil {
		total = strconv.FormatFloat(*fields.TotalAmount, 'f', 2, 64)
	}
	currency := ""
	if fields.Currency != nil {
		currency = *fields.Currency
	}
	replacer := strings.NewReplacer(
		"{store}", c.orUnavailable(fields.StoreName),
		"{total}", total,
		"{currency}", currency,
		"{date}", c.orUnavailable(fields.Date),
		"{ticket}", c.orUnavailable(fields.TicketNumber),
	)
	return strings.ReplaceAll(replacer.Replace(c.Success), ":  ", ": ")
}

func (c Catalogue) RejectedMessage(reason string) string {
	return strings.ReplaceAll(c.Rejected, "{reason}", reason)
}

func (c Catalogue) orUnavailable(v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return c.Unavailable
	}
	return *v
}
