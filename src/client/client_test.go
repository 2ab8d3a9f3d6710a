package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaydb/src/directors"
	"relaydb/src/engine"
	"relaydb/src/server"
	"relaydb/src/settings"
)

// newTestServer boots a full server stack over temp directories and mounts
// its handler on an httptest listener.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	config := &settings.Arguments{
		DataDir:             t.TempDir(),
		JournalDir:          t.TempDir(),
		CollectionCacheSize: 8,
		JoinWorkers:         2,
		RequestTimeout:      5 * time.Second,
		Version:             "test",
	}

	srv, err := server.InitServer(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		directors.ResetServiceManager()
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(baseURL)
	require.NoError(t, err)
	return c
}

func TestClientRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	stored, err := c.Store(ctx, "users", engine.Record{
		"id":      "a1",
		"address": "a1",
		"handle":  "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.ID())

	tweet, err := c.Store(ctx, "tweets", engine.Record{
		"author":  "a1",
		"content": "hello over the wire",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tweet.ID())

	spec, err := c.Query().
		Collection("tweets").
		WhereField("reply_to_id").IsNull().
		JoinOne("author_info", "users").
		OnField("address").Equals("$data.author").
		SelectFields("handle").
		Build().
		Spec()
	require.NoError(t, err)

	result, err := c.Execute(ctx, spec)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	record := result.Records[0]
	assert.Equal(t, "hello over the wire", record["content"])

	author := record.JoinedOne("author_info")
	require.NotNil(t, author)
	assert.Equal(t, "alice", author["handle"])
}

func TestClientEmptyResultSetIsNotNil(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)

	spec := c.Query().Collection("tweets").Limit(10).Offset(50).MustSpec()
	result, err := c.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.NotNil(t, result.Records)
	assert.Empty(t, result.Records)
}

func TestClientQueryErrorCrossesTheWire(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)

	spec := c.Query().Collection("no_such_collection").MustSpec()
	_, err := c.Execute(context.Background(), spec)
	require.Error(t, err)

	queryErr, ok := engine.AsQueryError(err)
	require.True(t, ok, "expected a QueryError, got %v", err)
	assert.Equal(t, engine.ErrUnknownCollection, queryErr.Code)

	_, ok = engine.AsTransportError(err)
	assert.False(t, ok)
}

func TestClientMalformedSpecFailsClientSide(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)

	_, err := c.Execute(context.Background(), engine.QuerySpec{})
	require.Error(t, err)
	queryErr, ok := engine.AsQueryError(err)
	require.True(t, ok)
	assert.Equal(t, engine.ErrMalformedSpec, queryErr.Code)
}

func TestClientTransportErrorOnUnreachableServer(t *testing.T) {
	ts := newTestServer(t)
	baseURL := ts.URL
	ts.Close()

	c := newTestClient(t, baseURL)
	spec := c.Query().Collection("tweets").MustSpec()

	_, err := c.Execute(context.Background(), spec)
	require.Error(t, err)

	_, ok := engine.AsTransportError(err)
	assert.True(t, ok, "expected a TransportError, got %v", err)
	_, ok = engine.AsQueryError(err)
	assert.False(t, ok)

	assert.Error(t, c.Health(context.Background()))
}

func TestClientBackendDrivesSocialService(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	// The client satisfies the same backend contract as the in-process
	// engine, so the service layer runs unchanged against a remote server.
	service := directors.NewSocialService(c, &settings.Arguments{}, nil)

	_, err := service.RegisterUser(ctx, "a1", "alice", "", "")
	require.NoError(t, err)
	_, err = service.RegisterUser(ctx, "a2", "bob", "", "")
	require.NoError(t, err)

	tweet, err := service.PostTweet(ctx, "a1", "remote tweet", "", "", "")
	require.NoError(t, err)
	_, err = service.LikeTweet(ctx, tweet.ID(), "a2")
	require.NoError(t, err)
	_, err = service.SetFollowing(ctx, "a2", "a1", true)
	require.NoError(t, err)

	views, err := service.GetTweets(ctx, "a2", 0, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].LikeCount)
	assert.True(t, views[0].UserLiked)

	profile, err := service.GetProfile(ctx, "a1", "a2")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 1, profile.FollowerCount)
	assert.True(t, profile.IsFollowing)
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	c, err := New("http://localhost:4180/")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
