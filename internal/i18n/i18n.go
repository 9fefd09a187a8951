// Package i18n provides localized string lookup for user-facing replies.
// Translations are loaded once at startup from a YAML file with one
// top-level section per language code.
package i18n

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
)

// DefaultLanguage is the fallback section consulted when a key is missing
// from the configured language.
const DefaultLanguage = "en"

// Translator resolves message keys to localized text with a two-level
// fallback: configured language, then the default language, then the
// raw key itself. Lookup is a pure read; the table is immutable after Load.
type Translator struct {
	language string
	table    map[string]map[string]string
	logger   *slog.Logger
}

// Load reads the translations file and returns a Translator bound to the
// given language code.
func Load(path, language string, logger *slog.Logger) (*Translator, error) {
	if language == "" {
		return nil, fmt.Errorf("translation language cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read translations file %q: %w", path, err)
	}

	table := make(map[string]map[string]string)
	for lang, section := range v.AllSettings() {
		entries, ok := section.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("translations section %q is not a mapping", lang)
		}
		table[lang] = make(map[string]string, len(entries))
		for key, val := range entries {
			text, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("translation %s.%s is not a string", lang, key)
			}
			table[lang][key] = text
		}
	}

	log := logger.With("component", "i18n")
	log.Info("Translations loaded", "path", path, "language", language, "languages", len(table))

	return &Translator{
		language: language,
		table:    table,
		logger:   log,
	}, nil
}

// Lookup returns the text for key in the configured language, falling back
// to the default language and finally to the raw key when absent.
func (t *Translator) Lookup(key string) string {
	if text, ok := t.table[t.language][key]; ok {
		return text
	}
	t.logger.Warn("No translation available", "language", t.language, "key", key)

	if text, ok := t.table[DefaultLanguage][key]; ok {
		return text
	}
	t.logger.Warn("No default-language translation available", "key", key)

	return key
}

// Language returns the configured language code.
func (t *Translator) Language() string {
	return t.language
}
