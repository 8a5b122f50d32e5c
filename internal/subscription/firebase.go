package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	firebaseSubscriptionsPath = "subscriptions"
	defaultFirebaseTimeout    = 10 * time.Second
)

type firebaseRecord struct {
	Endpoint  string `json:"endpoint"`
	AuthKey   string `json:"auth_key"`
	P256dhKey string `json:"p256dh_key"`
}

// FirebaseStoreConfig bundles the dependencies for the remote document backend.
type FirebaseStoreConfig struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// FirebaseStore keeps push subscriptions in a Firebase Realtime Database
// instance, one document per user id. Writing a document per user id makes
// the overwrite policy a plain PUT.
type FirebaseStore struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewFirebaseStore constructs the remote document subscription backend.
func NewFirebaseStore(cfg FirebaseStoreConfig) (*FirebaseStore, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultFirebaseTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseStore{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Insert stores the user's subscription, replacing any previous one. Another
// user's document claiming the same endpoint is deleted first, so an endpoint
// has at most one holder regardless of backend.
func (s *FirebaseStore) Insert(ctx context.Context, record Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := s.reclaimEndpoint(ctx, record); err != nil {
		return err
	}
	body, err := json.Marshal(firebaseRecord{
		Endpoint:  record.Endpoint,
		AuthKey:   record.AuthKey,
		P256dhKey: record.P256dhKey,
	})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, s.userEndpoint(record.UserID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return s.expectSuccess(request, "insert")
}

// reclaimEndpoint deletes any other user's document holding the endpoint the
// record is about to claim.
func (s *FirebaseStore) reclaimEndpoint(ctx context.Context, record Record) error {
	holders, err := s.AllExcluding(ctx, record.UserID)
	if err != nil {
		return err
	}
	for _, holder := range holders {
		if holder.Endpoint != record.Endpoint {
			continue
		}
		request, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.userEndpoint(holder.UserID), http.NoBody)
		if err != nil {
			return err
		}
		if err := s.expectSuccess(request, "reclaim"); err != nil {
			return err
		}
		s.logger.Info("push endpoint reclaimed",
			zap.String("previous_user_id", holder.UserID),
			zap.String("user_id", record.UserID))
	}
	return nil
}

// Remove deletes the user's subscription document.
func (s *FirebaseStore) Remove(ctx context.Context, userID string) error {
	subscribed, err := s.IsSubscribed(ctx, userID)
	if err != nil {
		return err
	}
	if !subscribed {
		return ErrNoSubscriptions
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.userEndpoint(userID), http.NoBody)
	if err != nil {
		return err
	}
	return s.expectSuccess(request, "remove")
}

// IsSubscribed reports whether a subscription document exists for the user id.
func (s *FirebaseStore) IsSubscribed(ctx context.Context, userID string) (bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userEndpoint(userID), http.NoBody)
	if err != nil {
		return false, err
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return false, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return false, fmt.Errorf("subscription: firebase fetch returned status %d", response.StatusCode)
	}

	var document *firebaseRecord
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return false, err
	}
	return document != nil, nil
}

// AllExcluding returns every other user's subscription ordered by user id.
func (s *FirebaseStore) AllExcluding(ctx context.Context, userID string) ([]Record, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.collectionEndpoint(), http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subscription: firebase fetch returned status %d", response.StatusCode)
	}

	var documents map[string]firebaseRecord
	if err := json.NewDecoder(response.Body).Decode(&documents); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(documents))
	for documentUserID, document := range documents {
		if documentUserID == userID {
			continue
		}
		record := Record{
			Endpoint:  document.Endpoint,
			AuthKey:   document.AuthKey,
			P256dhKey: document.P256dhKey,
			UserID:    documentUserID,
		}
		if err := record.Validate(); err != nil {
			s.logger.Warn("skipping malformed push subscription",
				zap.String("user_id", documentUserID),
				zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UserID < records[j].UserID
	})
	return records, nil
}

func (s *FirebaseStore) expectSuccess(request *http.Request, operation string) error {
	response, err := s.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("subscription: firebase %s returned status %d", operation, response.StatusCode)
	}
	return nil
}

func (s *FirebaseStore) userEndpoint(userID string) string {
	return s.withAuth(s.baseURL + "/" + firebaseSubscriptionsPath + "/" + url.PathEscape(userID) + ".json")
}

func (s *FirebaseStore) collectionEndpoint() string {
	return s.withAuth(s.baseURL + "/" + firebaseSubscriptionsPath + ".json")
}

func (s *FirebaseStore) withAuth(endpoint string) string {
	if s.authToken == "" {
		return endpoint
	}
	query := url.Values{}
	query.Set("auth", s.authToken)
	return endpoint + "?" + query.Encode()
}
