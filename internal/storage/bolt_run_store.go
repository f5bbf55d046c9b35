package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	bolt "go.etcd.io/bbolt"
)

type BoltRunStore struct {
	db *bolt.DB
}

const boltRunsBucket = "patcher-runs"

var errNotInit = errors.New("storage: bolt not init")

func NewBoltRunStore(path string) (*BoltRunStore, error) {
	if path == "" {
		return nil, errors.New("storage: required bolt path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: opening bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists([]byte(boltRunsBucket))
		return berr
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: cant init bucket: %w", err)
	}
	return &BoltRunStore{db: db}, nil
}

func (s *BoltRunStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltRunStore) CreateRun(ctx context.Context, run *core.Run) error {
	return s.put(ctx, run, false)
}

func (s *BoltRunStore) UpdateRun(ctx context.Context, run *core.Run) error {
	return s.put(ctx, run, true)
}

func (s *BoltRunStore) put(ctx context.Context, run *core.Run, mustExist bool) error {
	if s.db == nil {
		return errNotInit
	} else if run == nil {
		return errors.New("storage: required run")
	} else if err := ctx.Err(); err != nil {
		return err
	}

	p, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("storage: cant marshal run: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltRunsBucket))
		if b == nil {
			return errors.New("storage: bucket miss")
		}
		exists := b.Get([]byte(run.ID)) != nil
		switch {
		case mustExist && !exists:
			return fmt.Errorf("storage: run %s not found", run.ID)
		case !mustExist && exists:
			return fmt.Errorf("storage: run %s already here", run.ID)
		}
		return b.Put([]byte(run.ID), p)
	})
}

func (s *BoltRunStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	const op = "storage.BoltRunStore.GetRun"
	if s.db == nil {
		return nil, errNotInit
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	var run *core.Run
	if err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltRunsBucket))
		if b == nil {
			return errors.New("storage: bucket miss")
		}
		value := b.Get([]byte(id))
		if value == nil {
			return nil
		}
		run = &core.Run{}
		if err := json.Unmarshal(value, run); err != nil {
			return fmt.Errorf("storage: cant unmarshal run: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if run == nil {
		return nil, core.NewRunNotFoundError(id, op)
	}
	return run, nil
}

func (s *BoltRunStore) ListRuns(ctx context.Context) ([]*core.Run, error) {
	if s.db == nil {
		return nil, errNotInit
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	runs := make([]*core.Run, 0)
	if err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltRunsBucket))
		if b == nil {
			return errors.New("storage: bucket miss")
		}
		return b.ForEach(func(_, v []byte) error {
			r := &core.Run{}
			if err := json.Unmarshal(v, r); err != nil {
				return fmt.Errorf("storage: cant unmarshal run: %w", err)
			}
			runs = append(runs, r)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	core.SortRuns(runs)
	return runs, nil
}
