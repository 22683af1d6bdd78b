package repository

import (
	"gorm.io/gorm"

	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/models"
)

type Repositories struct {
	IngestStateRepository interfaces.IngestStateRepository
	LedgerRepository      interfaces.LedgerRepository
	DedupIndexRepository  interfaces.DedupIndexRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		IngestStateRepository: NewIngestStateRepository(db),
		LedgerRepository:      NewLedgerRepository(db),
		DedupIndexRepository:  NewDedupIndexRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.IngestState{},
		&models.LedgerEntry{},
		&models.StoredDocument{},
	)
}
