package database

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"strconv"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

// PipelineDatabase is everything the pipeline persists.
type PipelineDatabase interface {
	SignalDb
	TrainingExampleDb
	ModelVersionDb
	BacktestResultDb
	BarDb
	MetricsDatabase
	Migrate(ctx context.Context) error
	Close() error
}

type databaseImplementation struct {
	gormDb              *gorm.DB
	notificationManager *NotificationManager
}

func NewDBConnection(dbConfig datamodels.PostgresConfig) (PipelineDatabase, error) {
	dbConnString := MakeConnectionString(&dbConfig)

	gormConfig := &gorm.Config{
		Logger: slogGorm.New(),
	}

	gormDb, err := gorm.Open(postgres.Open(dbConnString), gormConfig)
	if err != nil {
		return nil, errors.WrapE(err, errors.New("cannot create gorm engine"))
	}

	slog.Info("Connected to database", "host", dbConfig.Host, "database", dbConfig.Database, "user", dbConfig.User)

	notifyManager, err := NewNotificationManager(gormDb)
	if err != nil {
		return nil, errors.WrapE(err, errors.New("cannot create notify manager"))
	}

	return &databaseImplementation{
		gormDb:              gormDb,
		notificationManager: notifyManager,
	}, nil
}

// NewBuiltDatabase picks the implementation named by the storage config.
func NewBuiltDatabase(storageConfig datamodels.StorageConfig, dbConfig datamodels.PostgresConfig) (PipelineDatabase, error) {
	switch storageConfig.Driver {
	case datamodels.StorageDriverPostgres:
		return NewDBConnection(dbConfig)
	case datamodels.StorageDriverMemory, "":
		slog.Warn("Using in-memory storage, nothing will survive a restart")
		return NewMemoryDatabase(), nil
	default:
		return nil, errors.Newf("unknown storage driver %q", storageConfig.Driver)
	}
}

// Migrate creates missing tables. Schema changes in deployed databases go through atlas.
func (d *databaseImplementation) Migrate(ctx context.Context) error {
	if err := d.gormDb.WithContext(ctx).AutoMigrate(DbTables...); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}

func (d *databaseImplementation) Close() error {
	var closeErr error
	if d.notificationManager != nil {
		if err := d.notificationManager.Close(); err != nil {
			closeErr = err
		}
	}
	sqlDb, err := d.gormDb.DB()
	if err != nil {
		return errors.Join(closeErr, err)
	}
	return errors.Join(closeErr, sqlDb.Close())
}

func MakeConnectionString(dbConfig *datamodels.PostgresConfig) string {
	if dbConfig.URI != "" {
		return dbConfig.URI
	}

	ssl := "sslmode=" + dbConfig.SSL.Mode

	if dbConfig.SSL.Mode != "disable" {
		sslFiles := map[string]string{
			"sslcert":     dbConfig.SSL.Cert,
			"sslkey":      dbConfig.SSL.Key,
			"sslrootcert": dbConfig.SSL.CA,
		}

		for param, content := range sslFiles {
			if content != "" {
				file, err := writeCertificate(content, param+".pem")
				if err != nil {
					slog.Error("Error writing " + param + " to file: " + err.Error())
				}

				ssl += "&" + param + "=" + file
			}
		}
	}

	hostPort := net.JoinHostPort(dbConfig.Host, strconv.Itoa(dbConfig.Port))

	if dbConfig.Password == "" {
		slog.Warn("No password provided for database connection, using empty password")
		return fmt.Sprintf("postgres://%s@%s/%s?search_path=public&%s",
			dbConfig.User,
			hostPort,
			dbConfig.Database,
			ssl,
		)
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?search_path=public&%s",
		dbConfig.User,
		dbConfig.Password,
		hostPort,
		dbConfig.Database,
		ssl,
	)
}

func writeCertificate(content string, outFile string) (string, error) {
	tempFile, err := os.CreateTemp("", outFile)
	if err != nil {
		return "", err
	}

	_, err = tempFile.WriteString(content)
	if err != nil {
		tempFile.Close()

		return "", err
	}

	err = tempFile.Close()
	if err != nil {
		log.Printf("Error closing %s: %v\n", outFile, err)
	}

	return tempFile.Name(), nil
}
