package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	blobsBucket = []byte("blobs")
	metaBucket  = []byte("blob_meta")
)

type blobMeta struct {
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
}

// BoltStore keeps blobs in a single bbolt file and serves them through
// signed download URLs handled by the API process.
type BoltStore struct {
	db      *bolt.DB
	signer  *Signer
	baseURL string
}

// NewBoltStore opens (or creates) the database at path. baseURL is the public
// API origin used to build download links.
func NewBoltStore(path string, signer *Signer, baseURL string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blobsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}
	return &BoltStore{
		db:      db,
		signer:  signer,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	meta, err := json.Marshal(blobMeta{ContentType: contentType, Size: len(data), StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode blob meta: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(blobsBucket).Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put([]byte(key), meta)
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Exists(_ context.Context, key string) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(blobsBucket).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check blob %s: %w", key, err)
	}
	return exists, nil
}

func (s *BoltStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("sign %s: %w", key, ErrObjectNotFound)
	}
	token, err := s.signer.Sign(key, ttl)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/v1/blobs/" + token, nil
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(blobsBucket).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// Open verifies a download token and returns the referenced blob.
func (s *BoltStore) Open(_ context.Context, token string) (string, Object, error) {
	key, err := s.signer.Verify(token)
	if err != nil {
		return "", Object{}, err
	}

	var object Object
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(blobsBucket).Get([]byte(key))
		if data == nil {
			return ErrObjectNotFound
		}
		object.Data = append([]byte(nil), data...)

		var meta blobMeta
		if raw := tx.Bucket(metaBucket).Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &meta); err != nil {
				return fmt.Errorf("decode blob meta: %w", err)
			}
		}
		object.ContentType = meta.ContentType
		return nil
	})
	if err != nil {
		return "", Object{}, err
	}
	if object.ContentType == "" {
		object.ContentType = "application/octet-stream"
	}
	return key, object, nil
}
