package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	sessionKeyPrefix = "session/"
	indexKeyPrefix   = "index/"
)

// BadgerStore 基于Badger的本地嵌入式归档
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore 打开指定目录的Badger归档
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Badger自带日志太吵，归档层面自己记日志

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger archive at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// sessionKey 主键：session/<id>
func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// indexKey 排序键：index/<开始时间unixnano定宽>/<id>
func indexKey(rec *Record) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", indexKeyPrefix, rec.StartedAt.UnixNano(), rec.ID))
}

// Put 写入记录及其时间索引
func (s *BadgerStore) Put(_ context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(sessionKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(rec), []byte(rec.ID))
	})
}

// Get 按ID取回记录
func (s *BadgerStore) Get(_ context.Context, id string) (*Record, error) {
	var rec Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List 沿时间索引逆序扫描
func (s *BadgerStore) List(_ context.Context, limit int) ([]*Record, error) {
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(indexKeyPrefix)
		// 逆序迭代要从前缀区间的末端起步
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(ids) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(context.Background(), id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close 关闭底层数据库
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
