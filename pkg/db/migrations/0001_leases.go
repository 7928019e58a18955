package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upLeases, downLeases)
}

type Lease struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Address      string            `gorm:"type:text;uniqueIndex;not null"`
	Client       string            `gorm:"type:text;not null;index"`
	State        string            `gorm:"type:text;not null"`
	LeaseSeconds int64             `gorm:"type:bigint;not null"`
	Meta         datatypes.JSONMap `gorm:"type:jsonb"`
	OfferedAt    time.Time         `gorm:"type:timestamptz;not null"`
	BoundAt      *time.Time        `gorm:"type:timestamptz"`
	UpdatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upLeases(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).AutoMigrate(&Lease{})
}

func downLeases(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Migrator().DropTable(&Lease{})
}
