package files

import (
	"context"
	"io"
	"sync"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pkg/errors"
)

const maxCachedObjects = 4096

// Getter is the part of FileStorage the resolver needs.
type Getter interface {
	GetFile(ctx context.Context, filename string) (io.ReadCloser, error)
}

// TestCaseResolver fills test texts referenced by object keys. Downloaded
// objects are kept in an LRU cache bounded by total size, test data is
// immutable once uploaded.
type TestCaseResolver struct {
	storage Getter
	// В байтах, 0 means no limit
	maxSize int64
	// В байтах, 0 disables caching
	cacheSize int64

	mu     sync.Mutex
	cache  *simplelru.LRU[string, string]
	cached int64
}

func NewTestCaseResolver(storage Getter, maxSize, cacheSize int64) *TestCaseResolver {
	r := &TestCaseResolver{storage: storage, maxSize: maxSize, cacheSize: cacheSize}
	// NewLRU only fails on a non-positive size
	r.cache, _ = simplelru.NewLRU[string, string](maxCachedObjects, func(_ string, data string) {
		r.cached -= int64(len(data))
	})
	return r
}

func (r *TestCaseResolver) Resolve(ctx context.Context, tests []*models.TestCase) error {
	for _, tc := range tests {
		if tc.InputKey != "" {
			data, err := r.load(ctx, tc.InputKey)
			if err != nil {
				return errors.Wrapf(err, "test case %d input", tc.Id)
			}
			tc.InputData = data
		}
		if tc.OutputKey != "" {
			data, err := r.load(ctx, tc.OutputKey)
			if err != nil {
				return errors.Wrapf(err, "test case %d output", tc.Id)
			}
			tc.ExpectedOutput = data
		}
	}
	return nil
}

func (r *TestCaseResolver) load(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	data, ok := r.cache.Get(key)
	r.mu.Unlock()
	if ok {
		return data, nil
	}

	file, err := r.storage.GetFile(ctx, key)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get %s", key)
	}
	defer file.Close()

	var reader io.Reader = file
	if r.maxSize > 0 {
		reader = io.LimitReader(file, r.maxSize+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", key)
	}
	if r.maxSize > 0 && int64(len(raw)) > r.maxSize {
		return "", errors.Errorf("%s exceeds %d bytes", key, r.maxSize)
	}

	data = string(raw)
	r.put(key, data)
	return data, nil
}

func (r *TestCaseResolver) put(key, data string) {
	size := int64(len(data))
	if size > r.cacheSize {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.Contains(key) {
		return
	}
	r.cache.Add(key, data)
	r.cached += size
	for r.cached > r.cacheSize {
		if _, _, ok := r.cache.RemoveOldest(); !ok {
			break
		}
	}
}
