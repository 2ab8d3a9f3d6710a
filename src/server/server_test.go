package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaydb/src/directors"
	"relaydb/src/engine"
	"relaydb/src/models"
	"relaydb/src/settings"
)

func testConfig(t *testing.T) *settings.Arguments {
	t.Helper()
	return &settings.Arguments{
		DataDir:             t.TempDir(),
		JournalDir:          t.TempDir(),
		CollectionCacheSize: 8,
		JoinWorkers:         2,
		RequestTimeout:      5 * time.Second,
		Version:             "test",
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	config := testConfig(t)
	srv, err := InitServer(config)
	require.NoError(t, err)
	t.Cleanup(directors.ResetServiceManager)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthAndCollections(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/collections")
	require.NoError(t, err)

	var listing map[string][]string
	decodeBody(t, resp, &listing)

	// The social collections are bootstrapped at init.
	assert.Contains(t, listing["collections"], "tweets")
	assert.Contains(t, listing["collections"], "follows")
}

func TestQueryEndpointErrorTaxonomy(t *testing.T) {
	ts := newTestServer(t)

	// Malformed spec: no collection.
	resp := postJSON(t, ts.URL+"/query", engine.QuerySpec{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope engine.ErrorEnvelope
	decodeBody(t, resp, &envelope)
	assert.Equal(t, engine.WireKindQuery, envelope.Error.Kind)
	assert.Equal(t, string(engine.ErrMalformedSpec), envelope.Error.Code)

	// Unknown collection.
	resp = postJSON(t, ts.URL+"/query", engine.QuerySpec{Collection: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, resp, &envelope)
	assert.Equal(t, string(engine.ErrUnknownCollection), envelope.Error.Code)
}

func TestSocialRoutesEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	for _, user := range []map[string]string{
		{"address": "a1", "handle": "alice"},
		{"address": "a2", "handle": "bob"},
	} {
		resp := postJSON(t, ts.URL+"/users", user)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := postJSON(t, ts.URL+"/tweets", map[string]string{
		"author":  "a1",
		"content": "hello from the server",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tweet engine.Record
	decodeBody(t, resp, &tweet)
	require.NotEmpty(t, tweet.ID())

	resp = postJSON(t, fmt.Sprintf("%s/tweets/%s/likes", ts.URL, tweet.ID()), map[string]string{"user": "a2"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/follows", map[string]interface{}{
		"follower":  "a2",
		"following": "a1",
		"active":    true,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Timeline as a2: the like flag follows the caller.
	resp, err := http.Get(ts.URL + "/tweets?caller=a2")
	require.NoError(t, err)
	var timeline struct {
		Tweets []models.TweetView `json:"tweets"`
	}
	decodeBody(t, resp, &timeline)
	require.Len(t, timeline.Tweets, 1)
	assert.Equal(t, "alice", timeline.Tweets[0].Author.Handle)
	assert.Equal(t, 1, timeline.Tweets[0].LikeCount)
	assert.True(t, timeline.Tweets[0].UserLiked)

	resp, err = http.Get(ts.URL + "/users/a1?caller=a2")
	require.NoError(t, err)
	var profile models.ProfileView
	decodeBody(t, resp, &profile)
	assert.Equal(t, 1, profile.FollowerCount)
	assert.Equal(t, 1, profile.TweetCount)
	assert.True(t, profile.IsFollowing)

	resp, err = http.Get(ts.URL + "/users/a1/tweets?caller=a2&max=10")
	require.NoError(t, err)
	var withTweets models.UserWithTweetsView
	decodeBody(t, resp, &withTweets)
	assert.Len(t, withTweets.Tweets, 1)
}

func TestSocialRoutesNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/tweets/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var envelope engine.ErrorEnvelope
	decodeBody(t, resp, &envelope)
	assert.Equal(t, engine.WireKindQuery, envelope.Error.Kind)

	resp, err = http.Get(ts.URL + "/users/nobody")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStoreEndpointAssignsID(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/collections/tweets/documents", engine.Record{
		"author":  "a1",
		"content": "raw store",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var stored engine.Record
	decodeBody(t, resp, &stored)
	assert.NotEmpty(t, stored.ID())
	assert.Equal(t, "raw store", stored["content"])
}
