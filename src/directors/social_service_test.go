package directors

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relaydb/src/engine"
	"relaydb/src/settings"
)

// newTestBackend wires an in-process query engine over a temp-dir store,
// the same backend shape the server assembles.
func newTestBackend(t *testing.T) *engine.QueryEngine {
	t.Helper()

	store, err := engine.NewCollectionStore(t.TempDir(), 8, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	for _, name := range SocialCollections() {
		require.NoError(t, store.CreateCollection(name))
	}

	queryEngine, err := engine.NewQueryEngine(store, 4, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(queryEngine.Close)

	return queryEngine
}

func newTestService(t *testing.T) *SocialService {
	t.Helper()
	return NewSocialService(newTestBackend(t), &settings.Arguments{}, zap.NewNop().Sugar())
}

// countingBackend counts Execute calls passing through to the wrapped
// backend.
type countingBackend struct {
	Backend
	executes int32
}

func (b *countingBackend) Execute(ctx context.Context, spec engine.QuerySpec) (*engine.ResultSet, error) {
	atomic.AddInt32(&b.executes, 1)
	return b.Backend.Execute(ctx, spec)
}

func seedUsers(t *testing.T, service *SocialService, handles map[string]string) {
	t.Helper()
	for address, handle := range handles {
		_, err := service.RegisterUser(context.Background(), address, handle, "", address+".png")
		require.NoError(t, err)
	}
}

func TestGetTweetsTimeline(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	seedUsers(t, service, map[string]string{"a1": "alice", "a2": "bob", "a3": "carol"})

	first, err := service.PostTweet(ctx, "a1", "first", "", "", "")
	require.NoError(t, err)
	_, err = service.PostTweet(ctx, "a2", "a reply", "", first.ID(), "")
	require.NoError(t, err)
	_, err = service.PostTweet(ctx, "a3", "second", "", "", "")
	require.NoError(t, err)

	_, err = service.LikeTweet(ctx, first.ID(), "a2")
	require.NoError(t, err)
	_, err = service.LikeTweet(ctx, first.ID(), "a3")
	require.NoError(t, err)
	_, err = service.Retweet(ctx, first.ID(), "a3")
	require.NoError(t, err)

	views, err := service.GetTweets(ctx, "a2", 0, 0)
	require.NoError(t, err)

	// The reply is not a top-level tweet.
	require.Len(t, views, 2)

	tweet := views[0]
	assert.Equal(t, first.ID(), tweet.ID)
	assert.Equal(t, "alice", tweet.Author.Handle)
	assert.Equal(t, 2, tweet.LikeCount)
	assert.Equal(t, 1, tweet.RetweetCount)
	assert.Equal(t, 1, tweet.ReplyCount)
	assert.True(t, tweet.UserLiked)
	assert.False(t, tweet.UserRetweeted)
	require.Len(t, tweet.Replies, 1)
	assert.Equal(t, "bob", tweet.Replies[0].Author.Handle)

	assert.Zero(t, views[1].LikeCount)
}

func TestGetTweetsPagination(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	seedUsers(t, service, map[string]string{"a1": "alice"})

	for i := 0; i < 5; i++ {
		_, err := service.PostTweet(ctx, "a1", fmt.Sprintf("tweet %d", i), "", "", "")
		require.NoError(t, err)
	}

	page, err := service.GetTweets(ctx, "", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "tweet 1", page[0].Content)
	assert.Equal(t, "tweet 2", page[1].Content)

	// Paging past the end is empty, not an error.
	empty, err := service.GetTweets(ctx, "", 20, 20)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetTweetMissingReturnsNil(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	seedUsers(t, service, map[string]string{"a1": "alice"})
	_, err := service.PostTweet(ctx, "a1", "only", "", "", "")
	require.NoError(t, err)

	view, err := service.GetTweet(ctx, "no-such-id", "")
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestGetTweetQuoteCount(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	seedUsers(t, service, map[string]string{"a1": "alice", "a2": "bob"})

	quoted, err := service.PostTweet(ctx, "a1", "quote me", "", "", "")
	require.NoError(t, err)
	_, err = service.PostTweet(ctx, "a2", "quoting", "", "", quoted.ID())
	require.NoError(t, err)

	view, err := service.GetTweet(ctx, quoted.ID(), "")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, 1, view.QuoteCount)
}

func TestIsFollowingToggles(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	seedUsers(t, service, map[string]string{"a1": "alice", "a2": "bob"})

	// No relation yet.
	following, err := service.IsFollowing(ctx, "a2", "a1")
	require.NoError(t, err)
	assert.False(t, following)

	_, err = service.SetFollowing(ctx, "a2", "a1", true)
	require.NoError(t, err)
	following, err = service.IsFollowing(ctx, "a2", "a1")
	require.NoError(t, err)
	assert.True(t, following)

	_, err = service.SetFollowing(ctx, "a2", "a1", false)
	require.NoError(t, err)
	following, err = service.IsFollowing(ctx, "a2", "a1")
	require.NoError(t, err)
	assert.False(t, following)

	// The history is append-only: both versions share the relation id.
	_, err = service.SetFollowing(ctx, "a2", "a2", true)
	assert.Error(t, err)
}

func TestFollowIndexServesRepeatLookupsWithoutRequerying(t *testing.T) {
	counting := &countingBackend{Backend: newTestBackend(t)}
	service := NewSocialService(counting, &settings.Arguments{}, zap.NewNop().Sugar())
	ctx := context.Background()

	// A write before the first lookup lands in the stored history the
	// index is built from.
	_, err := service.SetFollowing(ctx, "a2", "a1", true)
	require.NoError(t, err)

	following, err := service.IsFollowing(ctx, "a2", "a1")
	require.NoError(t, err)
	assert.True(t, following)

	loads := atomic.LoadInt32(&counting.executes)
	require.Equal(t, int32(1), loads, "first lookup builds the index with one history query")

	// Later toggles feed the index directly; repeat lookups are index hits.
	_, err = service.SetFollowing(ctx, "a2", "a1", false)
	require.NoError(t, err)

	following, err = service.IsFollowing(ctx, "a2", "a1")
	require.NoError(t, err)
	assert.False(t, following)

	_, err = service.SetFollowing(ctx, "a3", "a1", true)
	require.NoError(t, err)

	count, err := service.countActiveFollows(ctx, "following", "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, loads, atomic.LoadInt32(&counting.executes),
		"follow lookups after the build issue no further queries")
}

func TestGetProfileAggregates(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	seedUsers(t, service, map[string]string{"a1": "alice", "a2": "bob", "a3": "carol"})

	_, err := service.PostTweet(ctx, "a1", "one", "", "", "")
	require.NoError(t, err)
	_, err = service.PostTweet(ctx, "a1", "two", "", "", "")
	require.NoError(t, err)

	// a2 and a3 follow a1; a3 then unfollows. a1 follows a2 back.
	_, err = service.SetFollowing(ctx, "a2", "a1", true)
	require.NoError(t, err)
	_, err = service.SetFollowing(ctx, "a3", "a1", true)
	require.NoError(t, err)
	_, err = service.SetFollowing(ctx, "a3", "a1", false)
	require.NoError(t, err)
	_, err = service.SetFollowing(ctx, "a1", "a2", true)
	require.NoError(t, err)

	profile, err := service.GetProfile(ctx, "a1", "a2")
	require.NoError(t, err)
	require.NotNil(t, profile)

	assert.Equal(t, "alice", profile.Handle)
	assert.Equal(t, 1, profile.FollowerCount)
	assert.Equal(t, 1, profile.FollowingCount)
	assert.Equal(t, 2, profile.TweetCount)
	assert.True(t, profile.IsFollowing)

	// Viewing your own profile never reports IsFollowing.
	own, err := service.GetProfile(ctx, "a1", "a1")
	require.NoError(t, err)
	assert.False(t, own.IsFollowing)
}

func TestGetProfileUnknownUserReturnsNil(t *testing.T) {
	service := newTestService(t)
	seedUsers(t, service, map[string]string{"a1": "alice"})

	profile, err := service.GetProfile(context.Background(), "nobody", "")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestGetUserWithTweetsTruncates(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	seedUsers(t, service, map[string]string{"a1": "alice"})

	for i := 0; i < 4; i++ {
		_, err := service.PostTweet(ctx, "a1", fmt.Sprintf("tweet %d", i), "", "", "")
		require.NoError(t, err)
	}

	view, err := service.GetUserWithTweets(ctx, "a1", "", 2)
	require.NoError(t, err)
	require.NotNil(t, view)

	assert.Equal(t, "alice", view.Profile.Handle)
	assert.Equal(t, 4, view.Profile.TweetCount)
	assert.Len(t, view.Tweets, 2)
}

func TestWriteValidation(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.RegisterUser(ctx, "", "alice", "", "")
	assert.Error(t, err)

	_, err = service.PostTweet(ctx, "a1", "", "", "", "")
	assert.Error(t, err)

	_, err = service.LikeTweet(ctx, "", "a1")
	assert.Error(t, err)

	_, err = service.SetFollowing(ctx, "", "a1", true)
	assert.Error(t, err)
}
