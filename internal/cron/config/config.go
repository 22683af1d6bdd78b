package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Mailbox ingestion cycle, every 5 minutes
	CronScheduleIngestCycle string `env:"CRON_SCHEDULE_INGEST_CYCLE" envDefault:"0 */5 * * * *"`
}
