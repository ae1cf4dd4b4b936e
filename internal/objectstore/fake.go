package objectstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// Fake is an in-memory Store for tests, enforcing the same IfNoneMatch
// precondition semantics as S3Store without a network round trip.
type Fake struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]map[string][]byte
}

// NewFake constructs an empty in-memory Store.
func NewFake() *Fake {
	return &Fake{
		buckets: make(map[string]bool),
		objects: make(map[string]map[string][]byte),
	}
}

func (f *Fake) CreateBucket(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = true
	if _, ok := f.objects[bucket]; !ok {
		f.objects[bucket] = make(map[string][]byte)
	}
	return nil
}

func (f *Fake) PutObject(_ context.Context, bucket, key string, body io.Reader, length int64, opts PutOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	objs, ok := f.objects[bucket]
	if !ok {
		return fmt.Errorf("%w: bucket %s does not exist", backuperr.ErrObjectStoreFatal, bucket)
	}

	if opts.IfNoneMatch == "*" {
		if _, exists := objs[key]; exists {
			return fmt.Errorf("%w: %s/%s", backuperr.ErrObjectExistsPrecondition, bucket, key)
		}
	}

	data, err := io.ReadAll(io.LimitReader(body, length))
	if err != nil {
		return fmt.Errorf("%w: reading body for %s/%s: %v", backuperr.ErrObjectStoreTransient, bucket, key, err)
	}
	objs[key] = data
	return nil
}

func (f *Fake) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objs, ok := f.objects[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: bucket %s does not exist", backuperr.ErrObjectStoreFatal, bucket)
	}
	data, ok := objs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s not found", backuperr.ErrObjectStoreFatal, bucket, key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *Fake) ListObjects(_ context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objs, ok := f.objects[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: bucket %s does not exist", backuperr.ErrObjectStoreFatal, bucket)
	}
	var keys []string
	for key := range objs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
