package store

import (
	"context"

	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	DeadLetter() DeadLetter
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db         *gorm.DB
	job        Job
	deadLetter DeadLetter
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:        NewJobStore(db),
		deadLetter: NewDeadLetterStore(db),
		db:         db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) DeadLetter() DeadLetter {
	return s.deadLetter
}

func (s *DataStore) InitialMigration(ctx context.Context) error {
	if err := s.job.InitialMigration(ctx); err != nil {
		return err
	}
	return s.deadLetter.InitialMigration(ctx)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
