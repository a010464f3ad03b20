package kv

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

const entriesCollection = "entries"

type firestoreEntry struct {
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreStore keeps one document per key at {collection}/{namespace}/entries/{key}.
type FirestoreStore struct {
	provider   *Provider
	collection string
	now        func() time.Time
}

// NewFirestoreStore binds a store to the provider and root collection.
func NewFirestoreStore(provider *Provider, collection string) *FirestoreStore {
	collection = strings.Trim(strings.TrimSpace(collection), "/")
	if collection == "" {
		collection = "storefronts"
	}
	return &FirestoreStore{provider: provider, collection: collection, now: time.Now}
}

func (s *FirestoreStore) doc(ctx context.Context, op, namespace, key string) (*firestore.DocumentRef, error) {
	if err := validateAddress(op, namespace, key); err != nil {
		return nil, err
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, newError(op, err, categoryUnavailable)
	}
	return client.Collection(s.collection).Doc(namespace).Collection(entriesCollection).Doc(key), nil
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	const op = "kv.firestore.get"
	ref, err := s.doc(ctx, op, namespace, key)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, wrapRPCError(op, err)
	}
	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		return nil, newError(op, err, categoryNone)
	}
	return entry.Value, nil
}

// Set implements Store.
func (s *FirestoreStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	const op = "kv.firestore.set"
	ref, err := s.doc(ctx, op, namespace, key)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, firestoreEntry{Value: value, UpdatedAt: s.now().UTC()})
	return wrapRPCError(op, err)
}

// Delete implements Store. Deleting an absent key succeeds.
func (s *FirestoreStore) Delete(ctx context.Context, namespace, key string) error {
	const op = "kv.firestore.delete"
	ref, err := s.doc(ctx, op, namespace, key)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return wrapRPCError(op, err)
}

// Close releases the provider.
func (s *FirestoreStore) Close() error {
	return s.provider.Close()
}
