package services

import (
	"github.com/invoiceos/docstack/config"
	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/repository"
	"github.com/invoiceos/docstack/services/events"
	"github.com/invoiceos/docstack/services/imapsession"
	"github.com/invoiceos/docstack/services/ingestion"
	"github.com/invoiceos/docstack/services/records"
	"github.com/invoiceos/docstack/services/storage"
	"github.com/invoiceos/docstack/services/storage/aws_client"
)

type Services struct {
	EventPublisher  interfaces.EventPublisher
	DocumentStorage interfaces.DocumentStorage
	RecordService   interfaces.RecordService
	BatchProcessor  *ingestion.BatchProcessor
	CycleScheduler  *ingestion.CycleScheduler
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	var publisher interfaces.EventPublisher
	if cfg.EventsConfig.RabbitMQURL != "" {
		p, err := events.NewRabbitMQPublisher(cfg.EventsConfig.RabbitMQURL, cfg.EventsConfig.Exchange, log)
		if err != nil {
			return nil, err
		}
		publisher = p
	} else {
		publisher = events.NewNoopPublisher(log)
	}

	r2Client := aws_client.NewR2Client(aws_client.R2Config{
		AccountID:       cfg.StorageConfig.AccountID,
		AccessKeyID:     cfg.StorageConfig.AccessKeyID,
		AccessKeySecret: cfg.StorageConfig.AccessKeySecret,
		BucketName:      cfg.StorageConfig.DocumentBucket,
	})
	documentStorage := storage.NewDocumentStorage(r2Client, storage.StorageConfig{
		BucketName: cfg.StorageConfig.DocumentBucket,
		CDNDomain:  cfg.StorageConfig.CDNDomain,
	})

	recordService := records.NewRecordService(cfg.RecordsAPIConfig, log)

	dialer := imapsession.NewDialer(cfg.MailboxConfig, log)
	processor := ingestion.NewBatchProcessor(
		dialer,
		repos.LedgerRepository,
		repos.DedupIndexRepository,
		documentStorage,
		recordService,
		publisher,
		cfg.IngestConfig,
		cfg.MailboxConfig.Mailbox,
		log,
	)
	scheduler := ingestion.NewCycleScheduler(
		repos.IngestStateRepository,
		processor,
		cfg.IngestConfig,
		cfg.MailboxConfig.Mailbox,
		log,
	)

	services := Services{
		EventPublisher:  publisher,
		DocumentStorage: documentStorage,
		RecordService:   recordService,
		BatchProcessor:  processor,
		CycleScheduler:  scheduler,
	}

	return &services, nil
}
