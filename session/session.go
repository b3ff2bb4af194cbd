// Package session reads and writes the per user state kept between
// requests: the write credential of a registered egg and one-shot flash
// messages.
package session

import (
	"errors"
	"strconv"
	"strings"

	"eggdash/models"
)

const (
	feedIdKey = "feed_id"
	apiKeyKey = "apikey"
	flashKey  = "error"
)

var (
	// ErrCredentialMissing means the session never saw a successful
	// registration, or it has expired
	ErrCredentialMissing = errors.New("credential missing")

	// ErrNotOwner means the session holds a credential for another feed
	ErrNotOwner = errors.New("not owner")
)

// Values is the session state of one user. *session.Session from fiber
// satisfies it.
type Values interface {
	Get(key string) interface{}
	Set(key string, value interface{})
	Delete(key string)
}

// Remember stores the credential handed out by a device activation
func Remember(values Values, activation models.Activation) {
	values.Set(feedIdKey, activation.FeedId)
	values.Set(apiKeyKey, activation.ApiKey)
}

// Extract returns the feed id and write key stored by Remember
func Extract(values Values) (models.SessionCredential, error) {
	feedId, ok := toFeedId(values.Get(feedIdKey))
	if !ok {
		return models.SessionCredential{}, ErrCredentialMissing
	}
	writeKey, _ := values.Get(apiKeyKey).(string)
	if writeKey == "" {
		return models.SessionCredential{}, ErrCredentialMissing
	}
	return models.SessionCredential{FeedId: feedId, WriteKey: writeKey}, nil
}

// Authorize extracts the credential and checks that it covers the feed id
// taken from the request path. The error never carries the owned feed.
func Authorize(values Values, pathFeedId string) (models.SessionCredential, error) {
	credential, err := Extract(values)
	if err != nil {
		return models.SessionCredential{}, err
	}
	requested, err := strconv.ParseInt(strings.TrimSpace(pathFeedId), 10, 64)
	if err != nil || requested != credential.FeedId {
		return models.SessionCredential{}, ErrNotOwner
	}
	return credential, nil
}

// SetFlash stores a message to show on the next page view
func SetFlash(values Values, message string) {
	values.Set(flashKey, message)
}

// PopFlash returns the pending message and clears it
func PopFlash(values Values) string {
	message, _ := values.Get(flashKey).(string)
	if message != "" {
		values.Delete(flashKey)
	}
	return message
}

func toFeedId(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	case float64:
		return int64(v), v > 0 && v == float64(int64(v))
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil && id > 0
	default:
		return 0, false
	}
}
