package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/tracing"
)

type Config struct {
	AppConfig        *AppConfig
	Logger           *logger.Config
	Tracing          *tracing.JaegerConfig
	DatabaseConfig   *DatabaseConfig
	StorageConfig    *StorageConfig
	MailboxConfig    *MailboxConfig
	IngestConfig     *IngestConfig
	RecordsAPIConfig *RecordsAPIConfig
	EventsConfig     *EventsConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:        &AppConfig{},
		Logger:           &logger.Config{},
		Tracing:          &tracing.JaegerConfig{},
		DatabaseConfig:   &DatabaseConfig{},
		StorageConfig:    &StorageConfig{},
		MailboxConfig:    &MailboxConfig{},
		IngestConfig:     &IngestConfig{},
		RecordsAPIConfig: &RecordsAPIConfig{},
		EventsConfig:     &EventsConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading docstack config: %v", err)
	}

	return config, nil
}
