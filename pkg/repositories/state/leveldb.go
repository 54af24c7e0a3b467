package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"mytonstorage-dashboard/pkg/models"
	"mytonstorage-dashboard/pkg/models/db"
)

const keyPrefix = "state:"

type levelRepository struct {
	db *leveldb.DB
}

func (r *levelRepository) GetState(_ context.Context, profile string) (record db.StateRecord, err error) {
	data, err := r.db.Get([]byte(keyPrefix+profile), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		err = models.ErrNotFound
		return
	}
	if err != nil {
		return
	}

	if err = json.Unmarshal(data, &record); err != nil {
		err = fmt.Errorf("failed to decode state record: %w", err)
	}

	return
}

func (r *levelRepository) SaveState(_ context.Context, record db.StateRecord) (err error) {
	record.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	return r.db.Put([]byte(keyPrefix+record.Profile), data, &opt.WriteOptions{Sync: true})
}

// NewLevelRepository keeps state in a leveldb database owned by the caller.
func NewLevelRepository(ldb *leveldb.DB) Repository {
	return &levelRepository{
		db: ldb,
	}
}

// OpenLevelDB opens (or creates) the local state database at path.
func OpenLevelDB(path string) (*leveldb.DB, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{
		Compression: opt.NoCompression,
		Strict:      opt.StrictAll,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}

	return ldb, nil
}
