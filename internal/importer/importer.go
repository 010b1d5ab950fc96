// Package importer loads contacts and their birthdays from a vCard source (a local
// file or a CardDAV/WebDAV export URL) into the contact store.
package importer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
)

// Source describes where the vCards come from.
type Source struct {
	Mode      string // config.SourceModeLocal or config.SourceModeWeb
	LocalPath string
	WebURL    string
	WebUser   string
	WebPass   string
}

// SourceFromSettings maps the import section of the settings file.
func SourceFromSettings(s config.ImportSettings) Source {
	return Source{
		Mode:      s.Mode,
		LocalPath: s.LocalPath,
		WebURL:    s.WebURL,
		WebUser:   s.WebUser,
		WebPass:   s.WebPass,
	}
}

// Result counts what an import did.
type Result struct {
	Processed int `json:"processed"`
	Imported  int `json:"imported"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
}

// Importer upserts vCard contacts. Scheduling fields of existing contacts
// (frequency, last contact date, pause) are never overwritten.
type Importer struct {
	Store   engine.ContactStore
	Fetcher VCardFetcher
	Clock   engine.Clock
	Source  Source

	// DefaultFrequency is given to contacts seen for the first time.
	DefaultFrequency engine.Frequency
}

// Run reads the configured source and saves every card that has a name.
func (im *Importer) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	log := slog.With(
		config.LogKeyComponent, config.CompImporter,
		config.LogKeyMode, im.Source.Mode,
	)
	log.InfoContext(ctx, config.MsgImportStarted)

	reader, err := im.acquireStream(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%s: %w", config.ErrVCardParse, err)
	}
	defer func() { _ = reader.Close() }()

	res, err := im.importCards(ctx, reader)
	if err != nil {
		return res, err
	}

	log.InfoContext(ctx, config.MsgImportFinished,
		slog.Group(config.LogKeyStats,
			slog.Int(config.LogKeyProcessed, res.Processed),
			slog.Int(config.LogKeyImported, res.Imported),
			slog.Int(config.LogKeyUpdated, res.Updated),
			slog.Int(config.LogKeySkipped, res.Skipped),
		),
		config.LogKeyDuration, time.Since(start).Milliseconds())
	return res, nil
}

func (im *Importer) acquireStream(ctx context.Context) (io.ReadCloser, error) {
	switch im.Source.Mode {
	case config.SourceModeLocal:
		if im.Source.LocalPath == "" {
			return nil, errors.New(config.ErrLocalPathEmpty)
		}
		return os.Open(im.Source.LocalPath)
	case config.SourceModeWeb:
		if im.Source.WebURL == "" {
			return nil, errors.New(config.ErrWebURLEmpty)
		}
		if im.Fetcher == nil {
			return nil, errors.New(config.ErrFetcherMissing)
		}
		return im.Fetcher.Fetch(ctx, im.Source.WebURL, im.Source.WebUser, im.Source.WebPass)
	default:
		return nil, fmt.Errorf("%s: %q", config.ErrModeUnsupport, im.Source.Mode)
	}
}

func (im *Importer) importCards(ctx context.Context, r io.Reader) (Result, error) {
	var res Result
	now := time.Now()
	if im.Clock != nil {
		now = im.Clock.Now()
	}

	decoder := vcard.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		card, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.WarnContext(ctx, config.MsgSkippedCard,
				config.LogKeyComponent, config.CompImporter,
				config.LogKeyError, err)
			// A broken stream cannot be resynchronized.
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			res.Skipped++
			continue
		}
		res.Processed++

		name := cardName(card)
		if name == "" {
			res.Skipped++
			continue
		}
		birthday := cardBirthday(ctx, card)

		created, err := im.upsert(ctx, contactID(card, name), name, birthday, now)
		if err != nil {
			return res, err
		}
		if created {
			res.Imported++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// upsert saves the card's name and birthday, reporting whether the contact is new.
func (im *Importer) upsert(ctx context.Context, id, name string, birthday *engine.MonthDay, now time.Time) (bool, error) {
	existing, err := im.Store.GetContact(ctx, id)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		c := engine.Contact{
			ID:                     id,
			Name:                   name,
			CommunicationFrequency: im.DefaultFrequency,
			Birthday:               birthday,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if _, err := im.Store.SaveContact(ctx, c); err != nil {
			return false, fmt.Errorf("%s: %w", config.ErrSaveContact, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("%s: %w", config.ErrGetContact, err)
	}

	existing.Name = name
	if birthday != nil {
		existing.Birthday = birthday
	}
	existing.UpdatedAt = now
	if _, err := im.Store.SaveContact(ctx, existing); err != nil {
		return false, fmt.Errorf("%s: %w", config.ErrSaveContact, err)
	}
	return false, nil
}

// cardName prefers FN (formatted) over N (structured).
func cardName(card vcard.Card) string {
	if fn := card.Get(config.VCardFN); fn != nil && strings.TrimSpace(fn.Value) != "" {
		return strings.TrimSpace(fn.Value)
	}
	if n := card.Name(); n != nil {
		parts := []string{n.HonorificPrefix, n.GivenName, n.AdditionalName, n.FamilyName, n.HonorificSuffix}
		return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	}
	return ""
}

// cardBirthday returns nil when BDAY is absent or unparseable.
func cardBirthday(ctx context.Context, card vcard.Card) *engine.MonthDay {
	bday := card.Get(config.VCardBDAY)
	if bday == nil || bday.Value == "" {
		return nil
	}
	md, err := parseBirthday(bday.Value)
	if err != nil {
		slog.DebugContext(ctx, config.MsgSkippedDate,
			config.LogKeyComponent, config.CompImporter,
			config.LogKeyValue, bday.Value)
		return nil
	}
	return &md
}

// contactID is stable across imports: derived from the card UID when present,
// otherwise from the name.
func contactID(card vcard.Card, name string) string {
	key := name
	if uid := card.Value(config.VCardUID); uid != "" {
		key = uid
	}
	input := fmt.Sprintf(config.FormatHashInput, config.VCardUID, key, config.UIDSalt)
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash[:config.UIDHashLength])
}

// parseBirthday handles the vCard date forms: full dates (year is discarded) and
// the truncated "--MMDD" / "--MM-DD" forms.
func parseBirthday(value string) (engine.MonthDay, error) {
	formatsWithYear := []string{
		config.DateFormatFullDash,
		config.DateFormatFullBasic,
		config.DateFormatRFC3339,
		config.DateFormatFullT,
	}
	for _, f := range formatsWithYear {
		if t, err := time.Parse(f, value); err == nil {
			return engine.NewMonthDay(t.Month(), t.Day())
		}
	}

	md, err := engine.ParseMonthDay(value)
	if err != nil {
		return engine.MonthDay{}, fmt.Errorf("%s: %w", config.ErrDateParse, err)
	}
	return md, nil
}
