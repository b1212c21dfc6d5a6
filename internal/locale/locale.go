// internal/locale/locale.go
// Package locale selects the report language and provides the localised
// strings used in generated reports.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Supported lists the report languages in preference order.
var Supported = []string{"en", "ta", "hi"}

// Catalog holds the message bundle and the language matcher.
type Catalog struct {
	bundle   *i18n.Bundle
	matcher  language.Matcher
	fallback string
}

// New loads the embedded messages. defaultLang must be one of Supported.
func New(defaultLang string) (*Catalog, error) {
	tags := make([]language.Tag, len(Supported))
	valid := false
	for i, s := range Supported {
		tags[i] = language.Make(s)
		valid = valid || s == defaultLang
	}
	if !valid {
		return nil, fmt.Errorf("unsupported default language %q (supported: %s)", defaultLang, strings.Join(Supported, ", "))
	}

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	for _, s := range Supported {
		if _, err := bundle.LoadMessageFileFS(localeFS, "locales/active."+s+".json"); err != nil {
			return nil, fmt.Errorf("failed to load %s messages: %w", s, err)
		}
	}
	return &Catalog{bundle: bundle, matcher: language.NewMatcher(tags), fallback: defaultLang}, nil
}

// Default is the language used when nothing matches.
func (c *Catalog) Default() string { return c.fallback }

// Select returns the supported language for the first candidate that names
// one. Candidates may be plain codes, BCP 47 tags or Accept-Language values;
// empty and unmatched candidates are skipped.
func (c *Catalog) Select(candidates ...string) string {
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(raw)
		if err != nil || len(tags) == 0 {
			continue
		}
		if _, idx, conf := c.matcher.Match(tags...); conf != language.No {
			return Supported[idx]
		}
	}
	return c.fallback
}

// Localizer returns a Localizer for lang, falling back to English messages.
func (c *Catalog) Localizer(lang string) *Localizer {
	return &Localizer{l: i18n.NewLocalizer(c.bundle, lang, "en")}
}

// Localizer renders message ids in one language.
type Localizer struct {
	l *i18n.Localizer
}

// T returns the message for id, or id itself when no language defines it.
func (l *Localizer) T(id string) string {
	msg, err := l.l.Localize(&i18n.LocalizeConfig{MessageID: id})
	if err != nil {
		return id
	}
	return msg
}
