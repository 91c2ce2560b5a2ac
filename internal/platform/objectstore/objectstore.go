// Package objectstore provides object storage for the processing pipeline.
// It defines the Store interface, an S3-backed implementation that writes
// with SSE-KMS encryption, and an in-memory implementation for testing and
// development. Key layout helpers build the date-partitioned processed/ and
// quarantine/ prefixes used by the PHI pipeline.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Object is a stored object together with its user metadata and tags.
type Object struct {
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
	Tags        map[string]string
}

// Store defines the contract for object storage backends.
type Store interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, bucket, key string) (*Object, error)
	Delete(ctx context.Context, bucket, key string) error
}

// ProcessedKey builds the date-partitioned key for a processed document:
// processed/YYYY/MM/DD/<processingID>/<name>.
func ProcessedKey(t time.Time, processingID, name string) string {
	return datedKey("processed", t, processingID, name)
}

// QuarantineKey builds the date-partitioned key for a quarantined document:
// quarantine/YYYY/MM/DD/<processingID>/<name>.
func QuarantineKey(t time.Time, processingID, name string) string {
	return datedKey("quarantine", t, processingID, name)
}

// MetadataKey returns the key of the JSON sidecar written next to a
// processed document.
func MetadataKey(key string) string {
	return key + ".metadata.json"
}

// BaseName returns the final path segment of an object key.
func BaseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func datedKey(prefix string, t time.Time, processingID, name string) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s/%s", prefix, t.Year(), t.Month(), t.Day(), processingID, name)
}

// EncodeTags serializes tags in the URL-encoded form the S3 Tagging header
// expects. Keys are emitted in sorted order.
func EncodeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(tags[k]))
	}
	return b.String()
}

// InMemoryStore is a thread-safe, in-memory Store for testing/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]Object)}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores a copy of the object.
func (s *InMemoryStore) Put(_ context.Context, obj Object) error {
	if obj.Bucket == "" || obj.Key == "" {
		return errors.New("bucket and key are required")
	}

	stored := obj
	stored.Body = append([]byte(nil), obj.Body...)
	stored.Metadata = copyMap(obj.Metadata)
	stored.Tags = copyMap(obj.Tags)

	s.mu.Lock()
	s.objects[objectKey(obj.Bucket, obj.Key)] = stored
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the stored object.
func (s *InMemoryStore) Get(_ context.Context, bucket, key string) (*Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[objectKey(bucket, key)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrObjectNotFound
	}

	out := obj
	out.Body = append([]byte(nil), obj.Body...)
	out.Metadata = copyMap(obj.Metadata)
	out.Tags = copyMap(obj.Tags)
	return &out, nil
}

// Delete removes an object.
func (s *InMemoryStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := objectKey(bucket, key)
	if _, ok := s.objects[k]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, k)
	return nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
