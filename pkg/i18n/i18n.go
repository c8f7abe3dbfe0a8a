// Package i18n renders the user-visible notification texts of the agent.
//
// Each supported language is one nested JSON file under locales/, flattened
// to dot keys at load time: {"notify": {"authFailed": "..."}} becomes
// "notify.authFailed". Lookups fall back to English, then to the key itself.
//
//	cat, _ := i18n.LoadEmbedded()
//	loc := cat.Localizer("tr")
//	msg := loc.TWithParams("notify.offerClaimed", map[string]string{"customer": "Ali"})
package i18n

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"strings"
)

// SupportedLanguages lists the language codes with a locale file.
var SupportedLanguages = []string{"en", "tr"}

// DefaultLanguage is used when a requested language is not supported.
const DefaultLanguage = "en"

// Catalog holds the flattened translations of every supported language.
// It is read-only after Load and safe for concurrent use.
type Catalog struct {
	translations map[string]map[string]string
}

// Load reads <lang>.json for every supported language from localesFS.
func Load(localesFS fs.FS) (*Catalog, error) {
	cat := &Catalog{translations: make(map[string]map[string]string)}

	for _, lang := range SupportedLanguages {
		fileName := lang + ".json"

		data, err := fs.ReadFile(localesFS, fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to read translation file %s: %w", fileName, err)
		}

		var nested map[string]any
		if err := json.Unmarshal(data, &nested); err != nil {
			return nil, fmt.Errorf("failed to parse translation file %s: %w", fileName, err)
		}

		flat := make(map[string]string)
		flattenMap("", nested, flat)
		cat.translations[lang] = flat

		log.Printf("[i18n] loaded %d keys for language: %s", len(flat), lang)
	}

	return cat, nil
}

// LoadEmbedded loads the locale files compiled into the binary.
func LoadEmbedded() (*Catalog, error) {
	sub, err := fs.Sub(EmbeddedLocales, "locales")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded locales: %w", err)
	}
	return Load(sub)
}

// Localizer translates keys for one language.
type Localizer struct {
	catalog *Catalog
	lang    string
}

// Localizer returns a translator for lang, falling back to DefaultLanguage
// when lang is not supported.
func (c *Catalog) Localizer(lang string) *Localizer {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if !isSupported(lang) {
		lang = DefaultLanguage
	}
	return &Localizer{catalog: c, lang: lang}
}

// Lang returns the effective language code.
func (l *Localizer) Lang() string { return l.lang }

// T returns the text for key.
func (l *Localizer) T(key string) string {
	if l == nil || l.catalog == nil {
		return key
	}
	if msg, ok := l.catalog.translations[l.lang][key]; ok {
		return msg
	}
	if msg, ok := l.catalog.translations[DefaultLanguage][key]; ok {
		return msg
	}
	return key
}

// TWithParams replaces {{name}} placeholders with params after lookup.
func (l *Localizer) TWithParams(key string, params map[string]string) string {
	msg := l.T(key)
	for k, v := range params {
		msg = strings.ReplaceAll(msg, "{{"+k+"}}", v)
	}
	return msg
}

func isSupported(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

func flattenMap(prefix string, src map[string]any, dst map[string]string) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch val := v.(type) {
		case string:
			dst[key] = val
		case map[string]any:
			flattenMap(key, val, dst)
		}
	}
}
