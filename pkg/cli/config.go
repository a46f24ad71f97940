package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/citation"
	"github.com/m-mizutani/matins/pkg/contact"
	"github.com/m-mizutani/matins/pkg/locale"
	"github.com/m-mizutani/matins/pkg/repository"
	"github.com/m-mizutani/matins/pkg/usecase/conversation"
	"github.com/m-mizutani/matins/pkg/usecase/devotional"
	"github.com/m-mizutani/matins/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Storage
	dataDir          string
	historyFile      string
	conversationsDir string
	retentionDays    int64
	messageLimit     int64

	// LLM
	geminiProject  string
	geminiLocation string
	geminiAPIKey   string
	geminiModel    string
	temperature    float64
	genTimeout     time.Duration

	// Generation
	maxAttempts   int64
	windowDays    int64
	minLength     int64
	diversityStep float64
	poolFile      string
	localeName    string
	accentFolding bool

	// Schedule
	at         string
	timezone   string
	retryDelay time.Duration

	// Transport
	gatewayURL   string
	gatewayToken string
	listenAddr   string
	webhookToken string
	presenceIdle time.Duration
	maxAge       time.Duration

	// Contacts
	contactsFile       string
	firestoreProject   string
	firestoreDatabase  string
	contactsCollection string

	// Knowledge
	knowledgeDir    string
	knowledgeBucket string
	knowledgePrefix string

	// Logging
	logLevel  string
	logFormat string
}

// storageFlags returns flags for the local persistence layout
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory holding history and conversation files",
			Value:       "./data",
			Sources:     cli.EnvVars("MATINS_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "History file path (default: <data-dir>/history/history.json)",
			Sources:     cli.EnvVars("MATINS_HISTORY_FILE"),
			Destination: &cfg.historyFile,
		},
		&cli.StringFlag{
			Name:        "conversations-dir",
			Usage:       "Conversation directory (default: <data-dir>/conversations)",
			Sources:     cli.EnvVars("MATINS_CONVERSATIONS_DIR"),
			Destination: &cfg.conversationsDir,
		},
		&cli.IntFlag{
			Name:        "retention-days",
			Usage:       "Days a send event is kept in history",
			Value:       90,
			Sources:     cli.EnvVars("MATINS_RETENTION_DAYS"),
			Destination: &cfg.retentionDays,
		},
		&cli.IntFlag{
			Name:        "message-limit",
			Usage:       "Messages kept per conversation",
			Value:       repository.DefaultMessageLimit,
			Sources:     cli.EnvVars("MATINS_MESSAGE_LIMIT"),
			Destination: &cfg.messageLimit,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key, used instead of Vertex AI when set",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       adapter.DefaultGeminiModel,
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Usage:       "Base sampling temperature",
			Value:       devotional.DefaultTemperature,
			Sources:     cli.EnvVars("MATINS_TEMPERATURE"),
			Destination: &cfg.temperature,
		},
		&cli.DurationFlag{
			Name:        "generation-timeout",
			Usage:       "Timeout of one generation call",
			Value:       devotional.DefaultTimeout,
			Sources:     cli.EnvVars("MATINS_GENERATION_TIMEOUT"),
			Destination: &cfg.genTimeout,
		},
	}
}

// generationFlags returns flags for the retry loop and its fallback
func generationFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-attempts",
			Usage:       "Generation attempts before falling back to the static pool",
			Value:       devotional.DefaultMaxAttempts,
			Sources:     cli.EnvVars("MATINS_MAX_ATTEMPTS"),
			Destination: &cfg.maxAttempts,
		},
		&cli.IntFlag{
			Name:        "window-days",
			Usage:       "Days a citation may not be repeated",
			Value:       devotional.DefaultWindowDays,
			Sources:     cli.EnvVars("MATINS_WINDOW_DAYS"),
			Destination: &cfg.windowDays,
		},
		&cli.IntFlag{
			Name:        "min-length",
			Usage:       "Minimum devotional length in characters",
			Value:       devotional.DefaultMinLength,
			Sources:     cli.EnvVars("MATINS_MIN_LENGTH"),
			Destination: &cfg.minLength,
		},
		&cli.FloatFlag{
			Name:        "diversity-step",
			Usage:       "Temperature added per retry",
			Value:       devotional.DefaultDiversityStep,
			Sources:     cli.EnvVars("MATINS_DIVERSITY_STEP"),
			Destination: &cfg.diversityStep,
		},
		&cli.StringFlag{
			Name:        "pool-file",
			Usage:       "YAML file with fallback devotionals and canned replies",
			Sources:     cli.EnvVars("MATINS_POOL_FILE"),
			Destination: &cfg.poolFile,
		},
		&cli.StringFlag{
			Name:        "locale",
			Usage:       "Locale of date labels (pt-BR, en)",
			Value:       locale.PortugueseBR,
			Sources:     cli.EnvVars("MATINS_LOCALE"),
			Destination: &cfg.localeName,
		},
		&cli.BoolFlag{
			Name:        "accent-insensitive",
			Usage:       "Treat citations differing only by accents as the same",
			Sources:     cli.EnvVars("MATINS_ACCENT_INSENSITIVE"),
			Destination: &cfg.accentFolding,
		},
	}
}

// scheduleFlags returns flags for the daily broadcast trigger
func scheduleFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "at",
			Usage:       "Daily broadcast time (HH:MM)",
			Value:       "07:00",
			Sources:     cli.EnvVars("MATINS_SCHEDULE"),
			Destination: &cfg.at,
		},
		&cli.StringFlag{
			Name:        "timezone",
			Usage:       "IANA time zone of the schedule and date labels",
			Value:       "America/Sao_Paulo",
			Sources:     cli.EnvVars("MATINS_TIMEZONE", "TZ"),
			Destination: &cfg.timezone,
		},
		&cli.DurationFlag{
			Name:        "retry-delay",
			Usage:       "Delay before retrying a broadcast whose transport was not ready",
			Value:       5 * time.Minute,
			Sources:     cli.EnvVars("MATINS_RETRY_DELAY"),
			Destination: &cfg.retryDelay,
		},
	}
}

// transportFlags returns flags for the messaging gateway and the inbound webhook
func transportFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gateway-url",
			Usage:       "Base URL of the messaging gateway (console output when empty)",
			Sources:     cli.EnvVars("MATINS_GATEWAY_URL"),
			Destination: &cfg.gatewayURL,
		},
		&cli.StringFlag{
			Name:        "gateway-token",
			Usage:       "Bearer token sent to the gateway",
			Sources:     cli.EnvVars("MATINS_GATEWAY_TOKEN"),
			Destination: &cfg.gatewayToken,
		},
		&cli.StringFlag{
			Name:        "listen",
			Usage:       "Listen address of the inbound webhook",
			Value:       ":8080",
			Sources:     cli.EnvVars("MATINS_LISTEN"),
			Destination: &cfg.listenAddr,
		},
		&cli.StringFlag{
			Name:        "webhook-token",
			Usage:       "Bearer token required on inbound webhook calls",
			Sources:     cli.EnvVars("MATINS_WEBHOOK_TOKEN"),
			Destination: &cfg.webhookToken,
		},
		&cli.DurationFlag{
			Name:        "presence-idle",
			Usage:       "Idle time before going offline to a contact",
			Value:       time.Minute,
			Sources:     cli.EnvVars("MATINS_PRESENCE_IDLE"),
			Destination: &cfg.presenceIdle,
		},
		&cli.DurationFlag{
			Name:        "max-age",
			Usage:       "Inbound messages older than this are ignored",
			Value:       conversation.DefaultMaxAge,
			Sources:     cli.EnvVars("MATINS_MAX_AGE"),
			Destination: &cfg.maxAge,
		},
	}
}

// contactFlags returns flags for the contact source
func contactFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "contacts-file",
			Usage:       "CSV or XLSX contact list (default: <data-dir>/contacts.csv)",
			Sources:     cli.EnvVars("MATINS_CONTACTS_FILE"),
			Destination: &cfg.contactsFile,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of the Firestore contact list, used instead of CSV when set",
			Sources:     cli.EnvVars("FIRESTORE_PROJECT_ID"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "contacts-collection",
			Usage:       "Firestore collection of contacts",
			Value:       contact.DefaultCollection,
			Sources:     cli.EnvVars("MATINS_CONTACTS_COLLECTION"),
			Destination: &cfg.contactsCollection,
		},
	}
}

// knowledgeFlags returns flags for the knowledge base
func knowledgeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "knowledge-dir",
			Usage:       "Directory of .txt, .md and .json knowledge files",
			Sources:     cli.EnvVars("MATINS_KNOWLEDGE_DIR"),
			Destination: &cfg.knowledgeDir,
		},
		&cli.StringFlag{
			Name:        "knowledge-bucket",
			Usage:       "Cloud Storage bucket of knowledge files, used instead of the directory when set",
			Sources:     cli.EnvVars("MATINS_KNOWLEDGE_BUCKET"),
			Destination: &cfg.knowledgeBucket,
		},
		&cli.StringFlag{
			Name:        "knowledge-prefix",
			Usage:       "Object prefix inside the knowledge bucket",
			Value:       "knowledge/",
			Sources:     cli.EnvVars("MATINS_KNOWLEDGE_PREFIX"),
			Destination: &cfg.knowledgePrefix,
		},
	}
}

// loggingFlags returns flags for log output
func loggingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MATINS_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("MATINS_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// withLogger installs the configured logger as default and into ctx
func (cfg *config) withLogger(ctx context.Context) context.Context {
	logger := logging.NewWithFormat(cfg.logLevel, logging.Format(cfg.logFormat), os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

func (cfg *config) historyPath() string {
	if cfg.historyFile != "" {
		return cfg.historyFile
	}
	return filepath.Join(cfg.dataDir, "history", "history.json")
}

func (cfg *config) conversationsPath() string {
	if cfg.conversationsDir != "" {
		return cfg.conversationsDir
	}
	return filepath.Join(cfg.dataDir, "conversations")
}

func (cfg *config) contactsPath() string {
	if cfg.contactsFile != "" {
		return cfg.contactsFile
	}
	return filepath.Join(cfg.dataDir, "contacts.csv")
}

// ensureDirs proves the persistence directories are usable. Failure is fatal.
func (cfg *config) ensureDirs() error {
	for _, dir := range []string{filepath.Dir(cfg.historyPath()), cfg.conversationsPath()} {
		if err := repository.EnsureWritable(dir); err != nil {
			return goerr.Wrap(err, "persistence directory is not usable")
		}
	}
	return nil
}

func (cfg *config) storeOptions(guard *repository.Guard) []repository.Option {
	return []repository.Option{
		repository.WithGuard(guard),
		repository.WithRetention(time.Duration(cfg.retentionDays) * 24 * time.Hour),
		repository.WithMessageLimit(int(cfg.messageLimit)),
	}
}

// newStores creates the history and conversation stores sharing one guard
func (cfg *config) newStores() (*repository.History, *repository.Conversations) {
	opts := cfg.storeOptions(repository.NewGuard())
	return repository.NewHistory(cfg.historyPath(), opts...),
		repository.NewConversations(cfg.conversationsPath(), opts...)
}

// newHistory creates a history store on its own
func (cfg *config) newHistory() *repository.History {
	return repository.NewHistory(cfg.historyPath(), cfg.storeOptions(repository.NewGuard())...)
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	opts := []adapter.GeminiOption{adapter.WithGenerativeModel(cfg.geminiModel)}

	if cfg.geminiAPIKey != "" {
		return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, opts...)
	}
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project or gemini-api-key is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newService creates the generation service backed by Gemini
func (cfg *config) newService(ctx context.Context) (devotional.Service, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}
	return devotional.NewGeminiService(gemini,
		devotional.WithTemperature(cfg.temperature),
		devotional.WithTimeout(cfg.genTimeout),
	), nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context, bucketName string) (adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

func (cfg *config) newKnowledge(ctx context.Context) (devotional.Knowledge, error) {
	switch {
	case cfg.knowledgeBucket != "":
		storage, err := cfg.newStorage(ctx, cfg.knowledgeBucket)
		if err != nil {
			return nil, err
		}
		return devotional.NewStorageKnowledge(storage, cfg.knowledgePrefix), nil
	case cfg.knowledgeDir != "":
		return devotional.NewDirKnowledge(cfg.knowledgeDir), nil
	default:
		return devotional.StaticKnowledge(""), nil
	}
}

func (cfg *config) newPool() (*devotional.Pool, error) {
	if cfg.poolFile == "" {
		return devotional.DefaultPool(), nil
	}
	return devotional.LoadPool(cfg.poolFile)
}

func (cfg *config) newReplies() (*conversation.Replies, error) {
	if cfg.poolFile == "" {
		return conversation.DefaultReplies(), nil
	}
	return conversation.LoadReplies(cfg.poolFile)
}

func (cfg *config) normalizer() citation.Normalizer {
	if cfg.accentFolding {
		return citation.AccentInsensitive
	}
	return citation.Strict
}

// newGenerator wires the retry loop to the history, the generation service and
// the knowledge base
func (cfg *config) newGenerator(ctx context.Context, history citation.RecentSource, service devotional.Service) (*devotional.Generator, error) {
	knowledge, err := cfg.newKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := cfg.newPool()
	if err != nil {
		return nil, err
	}

	return devotional.NewGenerator(history, service,
		devotional.WithKnowledge(knowledge),
		devotional.WithPool(pool),
		devotional.WithMaxAttempts(int(cfg.maxAttempts)),
		devotional.WithWindowDays(int(cfg.windowDays)),
		devotional.WithMinLength(int(cfg.minLength)),
		devotional.WithDiversityStep(cfg.diversityStep),
		devotional.WithNormalizer(cfg.normalizer()),
	), nil
}

// newContacts returns the contact source and a function releasing it
func (cfg *config) newContacts(ctx context.Context) (contact.Source, func(), error) {
	if cfg.firestoreProject == "" {
		return contact.Open(cfg.contactsPath()), func() {}, nil
	}

	fs, err := contact.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase,
		contact.WithCollection(cfg.contactsCollection))
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {
		if err := fs.Close(); err != nil {
			logging.From(ctx).Warn("failed to close firestore client", "error", err)
		}
	}, nil
}

// newTransport returns the gateway transport, or a console transport writing to
// w when no gateway is configured
func (cfg *config) newTransport(w io.Writer) adapter.Transport {
	if cfg.gatewayURL == "" {
		return adapter.NewConsoleTransport(w)
	}
	var opts []adapter.WebhookOption
	if cfg.gatewayToken != "" {
		opts = append(opts, adapter.WithWebhookToken(cfg.gatewayToken))
	}
	return adapter.NewWebhookTransport(cfg.gatewayURL, opts...)
}

func (cfg *config) location() (*time.Location, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(cfg.timezone))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid timezone", goerr.V("timezone", cfg.timezone))
	}
	return loc, nil
}

func (cfg *config) formatter() (locale.Formatter, error) {
	return locale.Lookup(cfg.localeName)
}
