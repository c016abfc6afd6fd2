// Package firestore implements the subscription store on Google Cloud
// Firestore, for deployments that already live on GCP.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

const subscriptionsCollection = "subscriptions"

// SubscriptionStore implements pusher.SubscriptionStore using Firestore.
// The document id is a hash of the endpoint, so a Set is an atomic
// insert-or-replace per endpoint.
type SubscriptionStore struct {
	client *firestore.Client
}

func NewSubscriptionStore(client *firestore.Client) *SubscriptionStore {
	return &SubscriptionStore{client: client}
}

func (s *SubscriptionStore) Upsert(ctx context.Context, sub pusher.Subscription) (pusher.Subscription, error) {
	if err := pusher.ValidateKeys(sub.Keys); err != nil {
		return pusher.Subscription{}, err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	if _, err := s.docRef(sub.Endpoint).Set(ctx, sub); err != nil {
		return pusher.Subscription{}, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) FindByDevice(ctx context.Context, deviceID string) (*pusher.Subscription, error) {
	iter := s.collection().Where("device_id", "==", deviceID).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}

	var sub pusher.Subscription
	if err := doc.DataTo(&sub); err != nil {
		return nil, fmt.Errorf("corrupt subscription document %s: %w", doc.Ref.ID, err)
	}
	return &sub, nil
}

func (s *SubscriptionStore) DeleteByDevices(ctx context.Context, deviceIDs []string) ([]pusher.Subscription, error) {
	var removed []pusher.Subscription
	for _, deviceID := range deviceIDs {
		iter := s.collection().Where("device_id", "==", deviceID).Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return removed, fmt.Errorf("firestore iteration failed: %w", err)
			}

			var sub pusher.Subscription
			if err := doc.DataTo(&sub); err != nil {
				// Corrupt rows are still removed, just not reported.
				_, _ = doc.Ref.Delete(ctx)
				continue
			}
			if _, err := doc.Ref.Delete(ctx); err != nil {
				iter.Stop()
				return removed, fmt.Errorf("failed to delete subscription: %w", err)
			}
			removed = append(removed, sub)
		}
		iter.Stop()
	}
	return removed, nil
}

func (s *SubscriptionStore) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	ref := s.docRef(endpoint)

	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to read subscription: %w", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	return true, nil
}

func (s *SubscriptionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	// Documents without the field are not matched by the range query, so
	// never-expiring subscriptions survive.
	iter := s.collection().Where("expiration_time", "<", now).Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("firestore iteration failed: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return count, fmt.Errorf("failed to delete expired subscription: %w", err)
		}
		count++
	}
	return count, nil
}

// --- Helpers ---

func (s *SubscriptionStore) collection() *firestore.CollectionRef {
	return s.client.Collection(subscriptionsCollection)
}

func (s *SubscriptionStore) docRef(endpoint string) *firestore.DocumentRef {
	return s.collection().Doc(hashEndpoint(endpoint))
}

func hashEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}
