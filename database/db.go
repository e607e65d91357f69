package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/fabrii9/remote-receipt-import/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createImportBatchesTable(db)
	if err != nil {
		return nil, err
	}
	err = createQueueItemsTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createImportBatchesTable creates the checkpoint table, one row per uploaded
// file. It must exist before queue_items because of the foreign key.
func createImportBatchesTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS import_batches (
			id SERIAL PRIMARY KEY,
			import_id TEXT NOT NULL UNIQUE,
			file_name TEXT,
			source TEXT,
			status TEXT NOT NULL DEFAULT 'queued',
			total_items INT NOT NULL DEFAULT 0,
			processed_items INT NOT NULL DEFAULT 0,
			success_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			skipped_count INT NOT NULL DEFAULT 0,
			last_item_id TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// createQueueItemsTable creates the work-queue table for imported payment
// rows. Rows are never deleted; terminal states stay for audit.
func createQueueItemsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_items (
			id SERIAL PRIMARY KEY,
			item_id TEXT NOT NULL UNIQUE,
			import_id TEXT NOT NULL REFERENCES import_batches(import_id),
			row_number INT NOT NULL,
			dedup_key TEXT NOT NULL UNIQUE,
			partner_tax_id TEXT NOT NULL,
			payment_date TIMESTAMP,
			memo TEXT,
			amount NUMERIC(18,4) NOT NULL,
			priority INT NOT NULL DEFAULT 10,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			scheduled_at TIMESTAMP,
			last_error TEXT,
			partner_id BIGINT,
			partner_name TEXT,
			receipt_id BIGINT,
			processing_time_ms BIGINT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status, scheduled_at);
		CREATE INDEX IF NOT EXISTS idx_queue_items_import ON queue_items(import_id, status);
		CREATE INDEX IF NOT EXISTS idx_queue_items_partner_order ON queue_items(import_id, partner_tax_id, row_number);
	`)
	return err
}
