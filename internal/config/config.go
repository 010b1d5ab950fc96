package config

import (
	"io/fs"
	"time"
)

// -----------------------------------------------------------------------------
// Build Information
// -----------------------------------------------------------------------------

// Build variables are injected via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// UserAgent identifies the HTTP client.
var UserAgent = "Go-KeepInTouch/" + Version

// -----------------------------------------------------------------------------
// Application Constants
// -----------------------------------------------------------------------------

const (
	AppName        = "Go KeepInTouch"
	AppID          = "com.github.tartampluch.go-keepintouch"
	KeyringService = "com.github.tartampluch.go-keepintouch"
	LogFileName    = "app.log"
	EnvPrefix      = "KEEPINTOUCH_"
)

// -----------------------------------------------------------------------------
// Exit Codes
// -----------------------------------------------------------------------------

const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	ExitCodeUsage   = 2
)

// -----------------------------------------------------------------------------
// System & File Permissions
// -----------------------------------------------------------------------------

const (
	// FilePermUserRW represents -rw------- (Read/Write for owner only).
	// Used for sensitive files like logs.
	FilePermUserRW fs.FileMode = 0600

	// DirPermUserRWX represents drwx------ (Read/Write/Exec for owner only).
	DirPermUserRWX fs.FileMode = 0700

	// ChannelBufferSize defines the standard buffer size for internal signaling channels.
	ChannelBufferSize = 1
)

// -----------------------------------------------------------------------------
// CLI Flags, Commands & Descriptions
// -----------------------------------------------------------------------------

const (
	FlagVersion      = "version"
	FlagDebug        = "debug"
	FlagConfig       = "config"
	FlagDescVersion  = "Show application version and exit"
	FlagDescDebug    = "Enable debug logging to stdout"
	FlagDescConfig   = "Path to the YAML settings file"
	MsgVersionOutput = "%s version %s (%s/%s)\n"
	MsgUsage         = "usage: keepintouch [flags] [serve|generate|refresh|import]\n"

	CmdServe    = "serve"
	CmdGenerate = "generate"
	CmdRefresh  = "refresh"
	CmdImport   = "import"
)

// -----------------------------------------------------------------------------
// Scheduling Business Logic
// -----------------------------------------------------------------------------

const (
	// Cadence day counts. These are fixed day counts, "monthly" is exactly 30 days.
	DaysWeekly     = 7
	DaysMonthly    = 30
	DaysQuarterly  = 90
	DaysBiannually = 180
	DaysAnnually   = 365

	// BirthdayWeekLead is how many days before the birthday the week reminder fires.
	BirthdayWeekLead = 7

	// DefaultLeapYear is used to validate month-day values such as 02-29.
	DefaultLeapYear = 2000

	MessageMinLen = 1
	MessageMaxLen = 200

	HoursPerDay = 24
)

// -----------------------------------------------------------------------------
// Default Values
// -----------------------------------------------------------------------------

const (
	DefaultListenAddr    = "127.0.0.1:18080"
	DefaultLanguage      = "en"
	DefaultSweepInterval = 1 * time.Hour
	DefaultUpcomingDays  = 14
	DefaultLockTTL       = 30 * time.Second
	LockRetryInterval    = 50 * time.Millisecond
	LockKeyPrefix        = "keepintouch:lock:contact:"
	MaxUpcomingDays      = 366

	SourceModeWeb   = "web"
	SourceModeLocal = "local"

	UIDSalt       = "go-keepintouch-v1-" // Salt for deterministic contact ids from vCards
	UIDHashLength = 16
)

// SupportedLanguages defines the list of available message languages (ISO 639-1).
var SupportedLanguages = []string{"en", "fr"}

// -----------------------------------------------------------------------------
// Translation Keys (I18n)
// -----------------------------------------------------------------------------

const (
	TKeyMsgCommunication = "reminder_communication"         // Requires Name
	TKeyMsgCommOverdue   = "reminder_communication_overdue" // Requires Name, Count
	TKeyMsgCommNever     = "reminder_communication_never"   // Requires Name
	TKeyMsgBirthdayWeek  = "reminder_birthday_week"         // Requires Name, Date
	TKeyMsgBirthdayDay   = "reminder_birthday_day"          // Requires Name
	TKeyFormatDate       = "format_date_short"              // Date layout (e.g., "Jan 2")
	TKeyCalName          = "calendar_name"
)

// -----------------------------------------------------------------------------
// Standards: iCalendar & vCard
// -----------------------------------------------------------------------------

const (
	ICalVersion   = "2.0"
	ICalProdid    = "-//Go KeepInTouch//Reminders//EN"
	ICalCalName   = "Keep in touch"
	ICalMethod    = "PUBLISH"
	ICalScale     = "GREGORIAN"
	ICalComponent = "VALARM"
	ICalAction    = "DISPLAY"
	ICalDomain    = "keepintouch"
	ICalTrigger   = "PT0S"

	PropUID         = "UID"
	PropSummary     = "SUMMARY"
	PropDTStart     = "DTSTART"
	PropDTStamp     = "DTSTAMP"
	PropRefresh     = "REFRESH-INTERVAL"
	PropAction      = "ACTION"
	PropDescription = "DESCRIPTION"
	PropTrigger     = "TRIGGER"
	PropVersion     = "VERSION"
	PropProdid      = "PRODID"
	PropXWRCalName  = "X-WR-CALNAME"
	PropCalScale    = "CALSCALE"
	PropMethod      = "METHOD"
	PropCategories  = "CATEGORIES"

	VCardBDAY = "BDAY"
	VCardFN   = "FN"
	VCardUID  = "UID"

	DefaultICalRefresh = 1 * time.Hour

	// StubVCalendar is the minimal valid iCalendar object used when no events are found.
	StubVCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + ICalProdid + "\r\nEND:VCALENDAR\r\n"
)

// -----------------------------------------------------------------------------
// Data Formats & Limits
// -----------------------------------------------------------------------------

const (
	// Date layouts used for parsing vCard BDAY fields
	DateFormatFullDash  = "2006-01-02"
	DateFormatFullBasic = "20060102"
	DateFormatRFC3339   = time.RFC3339
	DateFormatFullT     = "2006-01-02T15:04:05Z"
	DateFormatNoYearD   = "--01-02"
	DateFormatNoYearB   = "--0102"
	DateFormatMonthDay  = "01-02"

	FormatMonthDay  = "%02d-%02d"
	FormatHashInput = "%s|%s|%s"
	FormatUID       = "%s@%s"

	ExtVCF = ".vcf"
)

// -----------------------------------------------------------------------------
// Network & Timeouts
// -----------------------------------------------------------------------------

const (
	HTTPTimeout         = 30 * time.Second
	ShutdownTimeout     = 5 * time.Second
	ServerReadTimeout   = 10 * time.Second
	ServerWriteTimeout  = 30 * time.Second
	ServerIdleTimeout   = 60 * time.Second
	RequestTimeout      = 30 * time.Second
	RetryAfterSeconds   = "10"
	AllowedMethods      = "GET, HEAD"
	MaxHTTPResponseSize = 256 * 1024 * 1024 // 256MB
	SchemeHTTP          = "http"
	SchemeHTTPS         = "https"

	RouteCalendar  = "/calendar.ics"
	RouteAPI       = "/api"
	RouteGenerate  = "/reminders/generate"
	RouteRefresh   = "/reminders/refresh"
	RouteUpcoming  = "/reminders/upcoming"
	RouteAgenda    = "/reminders/agenda"
	RouteDismiss   = "/reminders/{id}/dismiss"
	RouteContacted = "/contacts/{id}/contacted"
	RouteImport    = "/contacts/import"
	URLParamID     = "id"
	QueryParamDays = "days"
)

// -----------------------------------------------------------------------------
// HTTP Headers & MIME Types
// -----------------------------------------------------------------------------

const (
	HeaderContentType     = "Content-Type"
	HeaderCacheControl    = "Cache-Control"
	HeaderETag            = "ETag"
	HeaderLastModified    = "Last-Modified"
	HeaderRetryAfter      = "Retry-After"
	HeaderAllow           = "Allow"
	HeaderXContentType    = "X-Content-Type-Options"
	HeaderUserAgent       = "User-Agent"
	HeaderIfNoneMatch     = "If-None-Match"
	HeaderIfModifiedSince = "If-Modified-Since"

	MimeTextCalendar    = "text/calendar; charset=utf-8"
	MimeJSON            = "application/json"
	MimeNoSniff         = "nosniff"
	CacheControlPrivate = "private, no-cache"

	// FormatETag expects a string argument.
	FormatETag = `"%s"`
)

// -----------------------------------------------------------------------------
// Error Messages (Technical/Logs)
// -----------------------------------------------------------------------------

const (
	ErrLocalPathEmpty    = "configuration error: local path is empty"
	ErrWebURLEmpty       = "configuration error: web URL is empty"
	ErrFetcherMissing    = "internal error: network fetcher is not initialized"
	ErrModeUnsupport     = "configuration error: unsupported source mode"
	ErrSettingsRead      = "failed to read settings file"
	ErrSettingsParse     = "failed to parse settings file"
	ErrSettingsInvalid   = "invalid settings"
	ErrSecretLookup      = "failed to read secret from keyring"
	ErrServerStartup     = "server startup failed"
	ErrServerShutdown    = "server shutdown failed"
	ErrAddrRequired      = "server listen address is required"
	ErrInvalidURL        = "invalid URL structure"
	ErrProtocol          = "unsupported protocol scheme (http/https only)"
	ErrVCardParse        = "failed to parse vCard stream"
	ErrICalEncode        = "failed to encode iCalendar data"
	ErrDateParse         = "unable to parse date"
	ErrLogFile           = "failed to open log file"
	ErrCacheDir          = "could not determine user cache dir"
	ErrCreateDir         = "could not create app cache dir"
	ErrAppFailed         = "application failed unexpectedly"
	ErrWriteResp         = "failed to write response body"
	ErrLocalesAccess     = "failed to access embedded locales"
	ErrLocaleLoad        = "failed to load locale file"
	ErrDatabaseOpen      = "failed to open database"
	ErrDatabasePing      = "failed to ping database"
	ErrMigrate           = "failed to apply database schema"
	ErrRedisURL          = "invalid redis URL"
	ErrListContacts      = "failed to list contacts"
	ErrListReminders     = "failed to list reminders"
	ErrGetContact        = "failed to load contact"
	ErrGetReminder       = "failed to load reminder"
	ErrSaveContact       = "failed to save contact"
	ErrCreateReminder    = "failed to create reminder"
	ErrUpdateReminder    = "failed to update reminder"
	ErrDeleteReminder    = "failed to delete reminder"
	ErrAcquireLock       = "failed to acquire contact lock"
	ErrBeginTx           = "failed to begin transaction"
	ErrCommitTx          = "failed to commit transaction"
	ErrUnknownCommand    = "unknown command"
	ErrImporterMissing   = "contact import is not configured"
	ErrInvalidDays       = "days must be an integer between 0 and 366"
	ErrScanRow           = "failed to scan row"
	ErrBirthdayParse     = "failed to parse birthday"
	ErrMessageValidation = "reminder message failed validation"
	ErrRequestCreate     = "failed to create request"
	ErrNetwork           = "network error during fetch"
	ErrHTTPStatus        = "server returned unexpected status"
)

// -----------------------------------------------------------------------------
// HTTP Server Responses
// -----------------------------------------------------------------------------

const (
	HTTPMsgInitializing = "Calendar initializing, please try again shortly."
	HTTPMsgMethodNotAll = "Method Not Allowed"
	HTTPMsgInternalErr  = "Internal Server Error"
	HTTPMsgNotFound     = "not found"
)

// -----------------------------------------------------------------------------
// Fallbacks & Messages
// -----------------------------------------------------------------------------

const (
	FallbackMsgCommunication = "Time to catch up with %s"
	FallbackMsgCommOverdue   = "Time to catch up with %s (%d days overdue)"
	FallbackMsgCommNever     = "You have not been in touch with %s yet"
	FallbackMsgBirthdayWeek  = "%s's birthday is coming up on %s"
	FallbackMsgBirthdayDay   = "Today is %s's birthday"
	FallbackName             = "Unknown"
	FallbackDateFormat       = "Jan 2"

	MsgAppStarting     = "Starting application"
	MsgAppStop         = "Application stopped gracefully"
	MsgServerListen    = "HTTP server listening"
	MsgServerStop      = "Shutting down HTTP server..."
	MsgCacheUpdated    = "Calendar cache updated"
	MsgWorkerStart     = "Background worker started"
	MsgWorkerStop      = "Worker stopping due to context cancellation"
	MsgWorkerDisabled  = "Background worker disabled (interval is zero)"
	MsgSweepStarted    = "Reminder sweep started"
	MsgSweepFinished   = "Reminder sweep finished"
	MsgSweepFailed     = "Reminder sweep failed"
	MsgContactFailed   = "Reconciliation failed for contact, continuing"
	MsgReminderCreated = "Reminder created"
	MsgReminderPurged  = "Stale reminder purged"
	MsgDuplicateRace   = "Pending reminder already exists, skipping"
	MsgOrphanPurged    = "Orphaned reminder purged"
	MsgRefreshStarted  = "Refreshing all reminders"
	MsgRefreshDeleted  = "Pending reminders deleted"
	MsgDismissed       = "Reminder dismissed"
	MsgDismissNoop     = "Reminder already dismissed"
	MsgMarkedSent      = "Reminder marked as sent"
	MsgMarkedContacted = "Contact marked as contacted"
	MsgImportStarted   = "Contact import started"
	MsgImportFinished  = "Contact import finished"
	MsgSkippedCard     = "Skipping malformed vCard"
	MsgSkippedDate     = "Skipping invalid date format"
	MsgLocaleSkip      = "Skipping non-locale file"
	MsgLocaleBadName   = "Skipping malformed locale filename"
	MsgLocaleLoaded    = "Locale loaded successfully"
	MsgTransMissing    = "Missing translation key"
	MsgPassFail        = "Password retrieval failed (might be empty)"
	MsgLogWarning      = "Warning: %s at %s: %v\n"
	MsgSchemaApplied   = "Database schema applied"
	MsgFetchStart      = "Initiating vCard download"
	MsgFetchBadStatus  = "Server returned error status"
	MsgFetchDownload   = "vCards downloading"
	MsgRequest         = "HTTP request"
	MsgLockReleaseFail = "Failed to release contact lock"
	MsgStoreMemory     = "Using in-memory store (no database URL configured)"
	MsgLockRedis       = "Using Redis contact locks"
)

// -----------------------------------------------------------------------------
// Structured Logging Keys (slog)
// -----------------------------------------------------------------------------

const (
	LogKeyComponent = "component"
	LogKeyError     = "error"
	LogKeyURL       = "url"
	LogKeyStatus    = "status_code"
	LogKeyFile      = "file"
	LogKeyLang      = "lang"
	LogKeyKey       = "key"
	LogKeyAddr      = "addr"
	LogKeyMode      = "mode"
	LogKeyInterval  = "interval"
	LogKeyUser      = "user"
	LogKeySizeBytes = "size_bytes"
	LogKeyETag      = "etag"
	LogKeyValue     = "value"
	LogKeyStats     = "stats"
	LogKeyCount     = "count"
	LogKeyDuration  = "duration_ms"
	LogKeyContactID = "contact_id"
	LogKeyReminder  = "reminder_id"
	LogKeyType      = "type"
	LogKeyScheduled = "scheduled_for"
	LogKeyCreated   = "created"
	LogKeySkipped   = "skipped"
	LogKeyPurged    = "purged"
	LogKeyDeleted   = "deleted"
	LogKeyFailed    = "failed"
	LogKeyContacts  = "contacts"
	LogKeyProcessed = "processed"
	LogKeyImported  = "imported"
	LogKeyUpdated   = "updated"
	LogKeyMethod    = "method"
	LogKeyPath      = "path"
	LogKeyBytes     = "bytes"
	LogKeyCommand   = "command"
	LogKeyLength    = "content_length"

	// Startup Info Keys
	LogKeyBuild   = "build"
	LogKeyApp     = "app"
	LogKeyVersion = "version"
	LogKeyGoVer   = "go_version"
	LogKeyEnv     = "env"
	LogKeyOS      = "os"
	LogKeyArch    = "arch"
	LogKeyPID     = "pid"
)

// -----------------------------------------------------------------------------
// Log Components
// -----------------------------------------------------------------------------

const (
	CompEngine   = "engine"
	CompStore    = "store"
	CompLock     = "lock"
	CompServer   = "server"
	CompFetcher  = "fetcher"
	CompImporter = "importer"
	CompWorker   = "worker"
	CompMain     = "main"
	CompLocale   = "locale"
	CompCalendar = "calendar"
)
