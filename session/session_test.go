package session_test

import (
	"testing"

	"eggdash/models"
	"eggdash/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type values map[string]interface{}

func (v values) Get(key string) interface{}        { return v[key] }
func (v values) Set(key string, value interface{}) { v[key] = value }
func (v values) Delete(key string)                 { delete(v, key) }

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		values   values
		expected *models.SessionCredential
	}{
		{
			name:   "empty session",
			values: values{},
		},
		{
			name:   "feed id without key",
			values: values{"feed_id": int64(42)},
		},
		{
			name:   "key without feed id",
			values: values{"apikey": "secret"},
		},
		{
			name:   "garbage feed id",
			values: values{"feed_id": "forty-two", "apikey": "secret"},
		},
		{
			name:     "int64 feed id",
			values:   values{"feed_id": int64(42), "apikey": "secret"},
			expected: &models.SessionCredential{FeedId: 42, WriteKey: "secret"},
		},
		{
			name:     "string feed id",
			values:   values{"feed_id": "42", "apikey": "secret"},
			expected: &models.SessionCredential{FeedId: 42, WriteKey: "secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			credential, err := session.Extract(tt.values)
			if tt.expected == nil {
				assert.ErrorIs(t, err, session.ErrCredentialMissing)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, *tt.expected, credential)
		})
	}
}

func TestRememberThenExtract(t *testing.T) {
	v := values{}
	session.Remember(v, models.Activation{FeedId: 7, ApiKey: "write"})

	credential, err := session.Extract(v)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCredential{FeedId: 7, WriteKey: "write"}, credential)
}

func TestAuthorize(t *testing.T) {
	v := values{"feed_id": int64(7), "apikey": "write"}

	credential, err := session.Authorize(v, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), credential.FeedId)

	credential, err = session.Authorize(v, "8")
	assert.ErrorIs(t, err, session.ErrNotOwner)
	assert.Empty(t, credential.WriteKey)
	assert.NotContains(t, err.Error(), "7")

	_, err = session.Authorize(v, "not-a-number")
	assert.ErrorIs(t, err, session.ErrNotOwner)

	_, err = session.Authorize(values{}, "7")
	assert.ErrorIs(t, err, session.ErrCredentialMissing)
}

func TestFlashIsShownOnce(t *testing.T) {
	v := values{}
	assert.Empty(t, session.PopFlash(v))

	session.SetFlash(v, "Egg not found")
	assert.Equal(t, "Egg not found", session.PopFlash(v))
	assert.Empty(t, session.PopFlash(v))
}
