package chatinit

import (
	"fmt"
	"strings"

	"github.com/aushilfapp/chatsync/internal/meta"
)

// DefaultLocale is used when a request names none or an unknown one.
const DefaultLocale = "de"

var greetings = map[string]string{
	"de": "Hallo %s! Ich habe deinen Beitrag gesehen und würde dir gerne helfen.",
	"en": "Hi %s! I saw your post and would be happy to help.",
}

// Greeting returns the seeded first message for partner in locale.
func Greeting(locale string, partner meta.PartnerSnapshot) string {
	tmpl, ok := greetings[normalizeLocale(locale)]
	if !ok {
		tmpl = greetings[DefaultLocale]
	}
	name := partner.Vorname
	if name == "" {
		name = partner.DisplayName()
	}
	return fmt.Sprintf(tmpl, name)
}

// normalizeLocale reduces "de-DE" or "en_US" to the language tag.
func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if _, ok := greetings[locale]; !ok {
		return DefaultLocale
	}
	return locale
}
