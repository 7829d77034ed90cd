// Package firestore records generation attempts in a Firestore collection.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
)

const defaultCollection = "generations"

// NewClient opens a Firestore client. When FIRESTORE_EMULATOR_HOST is set the SDK connects to
// the emulator without credentials.
func NewClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

// GenerationLedger writes one document per design reference.
type GenerationLedger struct {
	client     *firestore.Client
	collection string
}

var _ repositories.GenerationLedger = (*GenerationLedger)(nil)

// NewGenerationLedger wraps client; an empty collection defaults to "generations".
func NewGenerationLedger(client *firestore.Client, collection string) (*GenerationLedger, error) {
	if client == nil {
		return nil, errors.New("firestore: client is required")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultCollection
	}
	return &GenerationLedger{client: client, collection: collection}, nil
}

// Record creates generations/{designRef}. A record for an existing reference is a conflict.
func (l *GenerationLedger) Record(ctx context.Context, record domain.GenerationRecord) error {
	id := strings.TrimSpace(record.DesignRef)
	if id == "" {
		return errors.New("firestore: design reference is required")
	}
	_, err := l.client.Collection(l.collection).Doc(id).Create(ctx, record)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("firestore: record %s: %w", id, repositories.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("firestore: record %s: %w", id, err)
	}
	return nil
}

// Find loads the record for designRef.
func (l *GenerationLedger) Find(ctx context.Context, designRef string) (domain.GenerationRecord, error) {
	snap, err := l.client.Collection(l.collection).Doc(designRef).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.GenerationRecord{}, repositories.ErrNotFound
	}
	if err != nil {
		return domain.GenerationRecord{}, fmt.Errorf("firestore: get %s: %w", designRef, err)
	}
	var record domain.GenerationRecord
	if err := snap.DataTo(&record); err != nil {
		return domain.GenerationRecord{}, fmt.Errorf("firestore: decode %s: %w", designRef, err)
	}
	return record, nil
}

// Ping reads at most one document to confirm connectivity.
func (l *GenerationLedger) Ping(ctx context.Context) error {
	iter := l.client.Collection(l.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}
