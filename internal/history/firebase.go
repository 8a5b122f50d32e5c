package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	firebaseHistoryPath    = "history.json"
	defaultFirebaseTimeout = 10 * time.Second
)

// FirebaseStoreConfig bundles the dependencies for the remote document backend.
type FirebaseStoreConfig struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     *zap.Logger
}

// FirebaseStore keeps chat history in a Firebase Realtime Database instance
// through its REST interface.
type FirebaseStore struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	clock      func() time.Time
	logger     *zap.Logger
}

// NewFirebaseStore constructs the remote document history backend.
func NewFirebaseStore(cfg FirebaseStoreConfig) (*FirebaseStore, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultFirebaseTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseStore{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Insert stamps the current time and posts one history record.
func (s *FirebaseStore) Insert(ctx context.Context, user, content string) error {
	record := Message{
		User:    user,
		Content: content,
		SentAt:  epochSeconds(s.clock()),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(nil), bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("history: firebase insert returned status %d", response.StatusCode)
	}
	return nil
}

// Recent fetches the newest records keyed by document id and returns them
// ordered ascending by timestamp. Firebase returns an unordered JSON object,
// so ordering is restored after the fetch. Records that fail validation are
// skipped with a logged warning.
func (s *FirebaseStore) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := url.Values{}
	query.Set("orderBy", `"sent_at"`)
	query.Set("limitToLast", strconv.Itoa(limit))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(query), http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: firebase fetch returned status %d", response.StatusCode)
	}

	var documents map[string]Message
	if err := json.NewDecoder(response.Body).Decode(&documents); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(documents))
	for documentID, record := range documents {
		if err := record.Validate(); err != nil {
			s.logger.Warn("skipping malformed history record",
				zap.String("document_id", documentID),
				zap.Error(err))
			continue
		}
		messages = append(messages, record)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt < messages[j].SentAt
	})
	return messages, nil
}

func (s *FirebaseStore) endpoint(query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if s.authToken != "" {
		query.Set("auth", s.authToken)
	}
	endpoint := s.baseURL + "/" + firebaseHistoryPath
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return endpoint
}
