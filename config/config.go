package config

type AppConfig struct {
	APIPort string `env:"PORT" envDefault:"11000"`
	APIKey  string `env:"API_KEY,required"`
}

type DatabaseConfig struct {
	Host            string `env:"DOCSTACK_POSTGRES_HOST,required"`
	Port            string `env:"DOCSTACK_POSTGRES_PORT,required"`
	User            string `env:"DOCSTACK_POSTGRES_USER,required"`
	DBName          string `env:"DOCSTACK_POSTGRES_DB_NAME,required"`
	Password        string `env:"DOCSTACK_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"DOCSTACK_POSTGRES_DB_MAX_CONN" envDefault:"20"`
	MaxIdleConn     int    `env:"DOCSTACK_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"5"`
	ConnMaxLifetime int    `env:"DOCSTACK_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"DOCSTACK_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"DOCSTACK_POSTGRES_SSL_MODE" envDefault:"require"`
}

type StorageConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	DocumentBucket  string `env:"BUCKET_NAME_INVOICE_DOCUMENT" envDefault:"invoice-documents"`
	CDNDomain       string `env:"INVOICE_DOCUMENT_CDN_DOMAIN"`
}

// MailboxConfig describes the single watched inbox. Every operation gets an
// independent timeout so one slow step never hides which phase is degraded.
type MailboxConfig struct {
	Mailbox      string `env:"INGEST_MAILBOX" envDefault:"inbox"`
	ImapServer   string `env:"INGEST_IMAP_SERVER"`
	ImapPort     int    `env:"INGEST_IMAP_PORT" envDefault:"993"`
	ImapTLS      bool   `env:"INGEST_IMAP_TLS" envDefault:"true"`
	ImapUsername string `env:"INGEST_IMAP_USERNAME"`
	ImapPassword string `env:"INGEST_IMAP_PASSWORD"`
	ImapFolder   string `env:"INGEST_IMAP_FOLDER" envDefault:"INBOX"`

	ConnectTimeoutSeconds  int `env:"INGEST_IMAP_CONNECT_TIMEOUT_SECONDS" envDefault:"30"`
	LoginTimeoutSeconds    int `env:"INGEST_IMAP_LOGIN_TIMEOUT_SECONDS" envDefault:"30"`
	SearchTimeoutSeconds   int `env:"INGEST_IMAP_SEARCH_TIMEOUT_SECONDS" envDefault:"30"`
	MetadataTimeoutSeconds int `env:"INGEST_IMAP_METADATA_TIMEOUT_SECONDS" envDefault:"30"`
	FetchTimeoutSeconds    int `env:"INGEST_IMAP_FETCH_TIMEOUT_SECONDS" envDefault:"60"`
}

type IngestConfig struct {
	OwnerCategory      string `env:"INGEST_OWNER_CATEGORY" envDefault:"invoice"`
	ScanLimit          int    `env:"INGEST_SCAN_LIMIT" envDefault:"25"`
	MaxAttempts        int    `env:"INGEST_MAX_ATTEMPTS" envDefault:"10"`
	MaxCycleFailures   int    `env:"INGEST_MAX_CYCLE_FAILURES" envDefault:"10"`
	CycleBudgetSeconds int    `env:"INGEST_CYCLE_BUDGET_SECONDS" envDefault:"120"`
	MaxAttachmentBytes int64  `env:"INGEST_MAX_ATTACHMENT_BYTES" envDefault:"26214400"`

	// Manual trigger surface, for operational debugging only
	TriggerEnabled bool   `env:"INGEST_TRIGGER_ENABLED" envDefault:"false"`
	TriggerSecret  string `env:"INGEST_TRIGGER_SECRET"`
}

type RecordsAPIConfig struct {
	Url    string `env:"RECORDS_API_URL"`
	ApiKey string `env:"RECORDS_API_KEY"`
}

type EventsConfig struct {
	RabbitMQURL string `env:"RABBITMQ_URL"`
	Exchange    string `env:"INGEST_EVENTS_EXCHANGE" envDefault:"docstack-events"`
}
