// Package locale loads the embedded translations and renders reminder messages
// in the configured language.
package locale

import (
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

const (
	localeDir    = "locales"
	localePrefix = "active."
	localeSuffix = ".json"
)

// Catalog is the loaded translation bundle.
type Catalog struct {
	bundle    *i18n.Bundle
	languages []string
	matcher   language.Matcher
}

// Load reads every locales/active.<lang>.json file. A file that fails to parse is
// logged and skipped; only an unreadable embed directory is an error.
func Load() (*Catalog, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal)

	entries, err := localeFS.ReadDir(localeDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrLocalesAccess, err)
	}

	log := slog.With(config.LogKeyComponent, config.CompLocale)
	var langs []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, localePrefix) || !strings.HasSuffix(name, localeSuffix) {
			log.Debug(config.MsgLocaleSkip, config.LogKeyFile, name)
			continue
		}
		code := strings.TrimSuffix(strings.TrimPrefix(name, localePrefix), localeSuffix)
		if code == "" {
			log.Warn(config.MsgLocaleBadName, config.LogKeyFile, name)
			continue
		}

		if _, err := bundle.LoadMessageFileFS(localeFS, localeDir+"/"+name); err != nil {
			log.Error(config.ErrLocaleLoad, config.LogKeyFile, name, config.LogKeyError, err)
			continue
		}
		langs = append(langs, code)
		log.Debug(config.MsgLocaleLoaded, config.LogKeyLang, code, config.LogKeyFile, name)
	}

	return &Catalog{
		bundle:    bundle,
		languages: langs,
		matcher:   language.NewMatcher(bundle.LanguageTags()),
	}, nil
}

// Languages lists the language codes found in the embedded files.
func (c *Catalog) Languages() []string {
	return append([]string(nil), c.languages...)
}

// Messages returns a formatter for lang (a BCP 47 tag or Accept-Language value).
// Unknown languages fall back to English.
func (c *Catalog) Messages(lang string) *Messages {
	tag, _ := language.MatchStrings(c.matcher, lang)
	base, _ := tag.Base()
	return &Messages{
		lang:      base.String(),
		localizer: i18n.NewLocalizer(c.bundle, base.String(), config.DefaultLanguage),
	}
}

// Messages renders reminder texts in one language. It implements
// engine.MessageFormatter; a missing translation yields "" so the engine falls
// back to its built-in English text.
type Messages struct {
	lang      string
	localizer *i18n.Localizer
}

var _ engine.MessageFormatter = (*Messages)(nil)

// Lang is the resolved language code.
func (m *Messages) Lang() string {
	return m.lang
}

func (m *Messages) Communication(c engine.Contact, daysOverdue int, neverContacted bool) string {
	data := map[string]any{"Name": c.DisplayName()}
	switch {
	case neverContacted:
		return m.localize(&i18n.LocalizeConfig{MessageID: config.TKeyMsgCommNever, TemplateData: data})
	case daysOverdue > 0:
		data["Count"] = daysOverdue
		return m.localize(&i18n.LocalizeConfig{
			MessageID:    config.TKeyMsgCommOverdue,
			TemplateData: data,
			PluralCount:  daysOverdue,
		})
	default:
		return m.localize(&i18n.LocalizeConfig{MessageID: config.TKeyMsgCommunication, TemplateData: data})
	}
}

func (m *Messages) BirthdayWeek(c engine.Contact, birthday time.Time) string {
	return m.localize(&i18n.LocalizeConfig{
		MessageID: config.TKeyMsgBirthdayWeek,
		TemplateData: map[string]any{
			"Name": c.DisplayName(),
			"Date": birthday.Format(m.dateLayout()),
		},
	})
}

func (m *Messages) BirthdayDay(c engine.Contact) string {
	return m.localize(&i18n.LocalizeConfig{
		MessageID:    config.TKeyMsgBirthdayDay,
		TemplateData: map[string]any{"Name": c.DisplayName()},
	})
}

// CalendarName is the translated display name of the ICS feed.
func (m *Messages) CalendarName() string {
	if name := m.localize(&i18n.LocalizeConfig{MessageID: config.TKeyCalName}); name != "" {
		return name
	}
	return config.ICalCalName
}

func (m *Messages) dateLayout() string {
	if layout := m.localize(&i18n.LocalizeConfig{MessageID: config.TKeyFormatDate}); layout != "" {
		return layout
	}
	return config.FallbackDateFormat
}

func (m *Messages) localize(cfg *i18n.LocalizeConfig) string {
	msg, err := m.localizer.Localize(cfg)
	if err != nil {
		slog.Debug(config.MsgTransMissing,
			config.LogKeyComponent, config.CompLocale,
			config.LogKeyLang, m.lang,
			config.LogKeyKey, cfg.MessageID,
			config.LogKeyError, err)
		return ""
	}
	return msg
}
