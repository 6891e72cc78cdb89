package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// TestStore is an in-memory Store for tests.
type TestStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	seq     map[string]uint64
}

func NewTestStore() *TestStore {
	return &TestStore{
		buckets: make(map[string]map[string][]byte),
		seq:     make(map[string]uint64),
	}
}

func (t *TestStore) Close() error { return nil }

func (t *TestStore) CreateBucket(bucket string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.buckets[bucket]; !ok {
		t.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

func (t *TestStore) Get(bucket, id string, v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket '%s' does not exist", bucket)
	}
	data, ok := b[id]
	if !ok {
		return fmt.Errorf("no record with id '%s' in bucket '%s'", id, bucket)
	}
	return json.Unmarshal(data, v)
}

func (t *TestStore) Create(bucket string, fn func(id string) interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket '%s' does not exist", bucket)
	}
	t.seq[bucket]++
	id := strconv.FormatUint(t.seq[bucket], 10)
	data, err := json.Marshal(fn(id))
	if err != nil {
		return err
	}
	b[id] = data
	return nil
}

func (t *TestStore) Put(bucket, id string, v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket '%s' does not exist", bucket)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b[id] = data
	return nil
}

func (t *TestStore) Update(bucket, id string, v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket '%s' does not exist", bucket)
	}
	if _, ok := b[id]; !ok {
		return fmt.Errorf("no record with id '%s' in bucket '%s'", id, bucket)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b[id] = data
	return nil
}

func (t *TestStore) Delete(bucket, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket '%s' does not exist", bucket)
	}
	delete(b, id)
	return nil
}

func (t *TestStore) List(bucket string, fn func(id string, v []byte) error) error {
	t.mu.Lock()
	b, ok := t.buckets[bucket]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("bucket '%s' does not exist", bucket)
	}
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := make(map[string][]byte, len(b))
	for _, id := range ids {
		snapshot[id] = b[id]
	}
	t.mu.Unlock()
	for _, id := range ids {
		if err := fn(id, snapshot[id]); err != nil {
			return err
		}
	}
	return nil
}
