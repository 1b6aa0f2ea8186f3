package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/docsite/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxBatchSize is the Firestore batch write limit
const maxBatchSize = 500

var (
	_ Store   = (*FirestoreStore)(nil)
	_ Cleaner = (*FirestoreStore)(nil)
)

// FirestoreStore keeps sessions in a Firestore collection.
// Firestore has no per-document expiry we can rely on, so reads check
// expires_at and a CleanupManager deletes expired documents periodically.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// sessionDoc is the document layout of one session
type sessionDoc struct {
	Payload   string    `firestore:"payload"`
	ExpiresAt int64     `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStore creates a Firestore-backed session store
func NewFirestoreStore(ctx context.Context, projectID, database, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Firestore session store ready", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStore{
		client:     client,
		collection: collection,
		now:        time.Now,
	}, nil
}

func (s *FirestoreStore) GetSession(ctx context.Context, id string) (string, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to get session from Firestore: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if doc.ExpiresAt <= s.now().Unix() {
		return "", ErrSessionNotFound
	}
	return doc.Payload, nil
}

func (s *FirestoreStore) SaveSession(ctx context.Context, id, payload string, ttl time.Duration) error {
	now := s.now()
	doc := sessionDoc{
		Payload:   payload,
		ExpiresAt: now.Add(ttl).Unix(),
		UpdatedAt: now,
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store session in Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.client.Collection(s.collection).Doc(id).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete session from Firestore: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes every session whose expires_at has passed
func (s *FirestoreStore) CleanupExpiredSessions(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("expires_at", "<=", s.now().Unix()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired sessions: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	return count, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
