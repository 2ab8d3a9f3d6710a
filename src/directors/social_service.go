package directors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"relaydb/src/engine"
	"relaydb/src/helpers"
	"relaydb/src/models"
	"relaydb/src/relindex"
	"relaydb/src/settings"
)

// Collection names the social service reads and writes.
const (
	CollectionUsers    = "users"
	CollectionTweets   = "tweets"
	CollectionLikes    = "likes"
	CollectionRetweets = "retweets"
	CollectionFollows  = "follows"
)

// SocialCollections lists every collection the social service reads or
// writes. They are created up front so joins against relations nobody has
// written yet resolve empty instead of failing as unknown collections.
func SocialCollections() []string {
	return []string{
		CollectionUsers,
		CollectionTweets,
		CollectionLikes,
		CollectionRetweets,
		CollectionFollows,
	}
}

// Backend executes query specifications and stores single records. Both the
// in-process query engine and the HTTP client satisfy it, so the service is
// wired the same way on the server and in a remote consumer.
type Backend interface {
	Execute(ctx context.Context, spec engine.QuerySpec) (*engine.ResultSet, error)
	Store(ctx context.Context, collection string, record engine.Record) (engine.Record, error)
}

// SocialService builds the social read queries, shapes their results into
// view models, and issues the single-record writes. The backend is injected
// with an explicit lifecycle; there is no package-level client.
//
// The service maintains the relation index for follows: the full history is
// loaded once on first use, then kept current from this service's own
// writes, so current-state lookups are index hits instead of per-request
// history scans. The service is the sole writer of follow records; writes
// that bypass it are not observed until the process restarts.
type SocialService struct {
	backend  Backend
	settings *settings.Arguments
	logger   *zap.SugaredLogger

	followMu    sync.Mutex
	followIndex *relindex.RelationIndex
	followReady bool
	followPos   int
}

func NewSocialService(backend Backend, args *settings.Arguments, logger *zap.SugaredLogger) *SocialService {
	return &SocialService{
		backend:     backend,
		settings:    args,
		logger:      logger,
		followIndex: relindex.NewRelationIndex(logger),
	}
}

// ensureFollowIndex builds the follow index from the stored history on
// first use. Later calls return the maintained index without a query.
func (s *SocialService) ensureFollowIndex(ctx context.Context) (*relindex.RelationIndex, error) {
	s.followMu.Lock()
	defer s.followMu.Unlock()

	if s.followReady {
		return s.followIndex, nil
	}

	spec, err := engine.NewQuery().
		Collection(CollectionFollows).
		SelectAll().
		Spec()
	if err != nil {
		return nil, err
	}

	result, err := s.backend.Execute(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to load follow history: %w", err)
	}

	s.followIndex.Build(result.Records)
	s.followPos = len(result.Records)
	s.followReady = true
	return s.followIndex, nil
}

// observeFollow feeds one stored follow version into the index, advancing
// the storage position the tie-break relies on. A no-op until the index has
// been built; the build sees the record in the history instead.
func (s *SocialService) observeFollow(record engine.Record) {
	s.followMu.Lock()
	defer s.followMu.Unlock()

	if !s.followReady {
		return
	}
	s.followIndex.Observe(s.followPos, record)
	s.followPos++
}

// withTweetJoins attaches the standard relation joins for a tweet query:
// author, likes, retweets, replies (with their own author) and quotes.
func withTweetJoins(builder *engine.QueryBuilder) *engine.QueryBuilder {
	return builder.
		JoinOne(aliasAuthor, CollectionUsers).
		OnField("address").Equals("$data.author").
		SelectFields("address", "handle", "avatar").
		Build().
		JoinMany(aliasLikes, CollectionLikes).
		OnField("tweet_id").Equals("$data.id").
		SelectFields("user").
		Build().
		JoinMany(aliasRetweets, CollectionRetweets).
		OnField("tweet_id").Equals("$data.id").
		SelectFields("user").
		Build().
		JoinMany(aliasReplies, CollectionTweets).
		OnField("reply_to_id").Equals("$data.id").
		SelectAll().
		JoinOne(aliasAuthor, CollectionUsers).
		OnField("address").Equals("$data.author").
		SelectFields("address", "handle", "avatar").
		Build().
		Build().
		JoinMany(aliasQuotes, CollectionTweets).
		OnField("quote_of_id").Equals("$data.id").
		SelectAll().
		Build()
}

// GetTweets returns the top-level timeline: tweets that are not replies,
// newest storage order preserved, shaped for the calling identity. caller
// may be empty; flags are then false.
func (s *SocialService) GetTweets(ctx context.Context, caller string, limit, offset int) ([]models.TweetView, error) {
	builder := engine.NewQuery().
		Collection(CollectionTweets).
		WhereField("reply_to_id").IsNull()
	builder = withTweetJoins(builder).SelectAll()
	if offset > 0 {
		builder = builder.Offset(offset)
	}
	if limit > 0 {
		builder = builder.Limit(limit)
	}

	spec, err := builder.Spec()
	if err != nil {
		return nil, err
	}

	result, err := s.backend.Execute(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}

	views := make([]models.TweetView, 0, len(result.Records))
	for _, record := range result.Records {
		views = append(views, ShapeTweet(record, caller))
	}
	return views, nil
}

// GetTweet returns a single tweet with all relations resolved, or nil when
// it does not exist.
func (s *SocialService) GetTweet(ctx context.Context, tweetID, caller string) (*models.TweetView, error) {
	builder := engine.NewQuery().
		Collection(CollectionTweets).
		WhereField("id").Equals(tweetID)
	spec, err := withTweetJoins(builder).SelectAll().Limit(1).Spec()
	if err != nil {
		return nil, err
	}

	result, err := s.backend.Execute(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to load tweet %s: %w", tweetID, err)
	}
	if len(result.Records) == 0 {
		return nil, nil
	}

	view := ShapeTweet(result.Records[0], caller)
	return &view, nil
}

// GetUserWithTweets returns a user's profile slice along with their most
// recent tweets. The executor applies no implicit limit to joined
// sequences, so the tweet list is truncated here after receiving all of it.
func (s *SocialService) GetUserWithTweets(ctx context.Context, address, caller string, maxTweets int) (*models.UserWithTweetsView, error) {
	spec, err := engine.NewQuery().
		Collection(CollectionUsers).
		WhereField("address").Equals(address).
		JoinMany(aliasTweets, CollectionTweets).
		OnField("author").Equals("$data.address").
		SelectAll().
		JoinMany(aliasLikes, CollectionLikes).
		OnField("tweet_id").Equals("$data.id").
		SelectFields("user").
		Build().
		JoinMany(aliasRetweets, CollectionRetweets).
		OnField("tweet_id").Equals("$data.id").
		SelectFields("user").
		Build().
		JoinMany(aliasReplies, CollectionTweets).
		OnField("reply_to_id").Equals("$data.id").
		SelectAll().
		JoinOne(aliasAuthor, CollectionUsers).
		OnField("address").Equals("$data.author").
		SelectFields("address", "handle", "avatar").
		Build().
		Build().
		Build().
		SelectAll().
		Limit(1).
		Spec()
	if err != nil {
		return nil, err
	}

	result, err := s.backend.Execute(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", address, err)
	}
	if len(result.Records) == 0 {
		return nil, nil
	}

	user := result.Records[0]
	tweets := user.JoinedMany(aliasTweets)
	if maxTweets > 0 && len(tweets) > maxTweets {
		tweets = tweets[:maxTweets]
	}

	views := make([]models.TweetView, 0, len(tweets))
	for _, tweet := range tweets {
		views = append(views, ShapeTweet(tweet, caller))
	}

	profile, err := s.GetProfile(ctx, address, caller)
	if err != nil {
		return nil, err
	}

	view := UserWithTweets(profile, views)
	return &view, nil
}

// UserWithTweets pairs a shaped profile with shaped tweets.
func UserWithTweets(profile *models.ProfileView, tweets []models.TweetView) models.UserWithTweetsView {
	view := models.UserWithTweetsView{Tweets: tweets}
	if profile != nil {
		view.Profile = *profile
	}
	return view
}

// GetProfile loads a user and derives the relation aggregates. The three
// count queries are independent reads issued in parallel with no shared
// transaction or ordering guarantee.
func (s *SocialService) GetProfile(ctx context.Context, address, caller string) (*models.ProfileView, error) {
	userSpec, err := engine.NewQuery().
		Collection(CollectionUsers).
		WhereField("address").Equals(address).
		SelectAll().
		Limit(1).
		Spec()
	if err != nil {
		return nil, err
	}

	userResult, err := s.backend.Execute(ctx, userSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", address, err)
	}
	if len(userResult.Records) == 0 {
		return nil, nil
	}

	var (
		wg                           sync.WaitGroup
		followers, following, tweets int
		followersErr, followingErr   error
		tweetsErr                    error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		followers, followersErr = s.countActiveFollows(ctx, "following", address)
	}()
	go func() {
		defer wg.Done()
		following, followingErr = s.countActiveFollows(ctx, "follower", address)
	}()
	go func() {
		defer wg.Done()
		tweets, tweetsErr = s.countTweets(ctx, address)
	}()
	wg.Wait()

	for _, err := range []error{followersErr, followingErr, tweetsErr} {
		if err != nil {
			return nil, err
		}
	}

	isFollowing := false
	if caller != "" && caller != address {
		isFollowing, err = s.IsFollowing(ctx, caller, address)
		if err != nil {
			return nil, err
		}
	}

	profile := ShapeProfile(userResult.Records[0], followers, following, tweets, isFollowing)
	return &profile, nil
}

// countActiveFollows counts follow relations where field equals address and
// the latest version of the relation is active.
func (s *SocialService) countActiveFollows(ctx context.Context, field, address string) (int, error) {
	index, err := s.ensureFollowIndex(ctx)
	if err != nil {
		return 0, err
	}
	return index.ActiveCountWhere(field, address), nil
}

func (s *SocialService) countTweets(ctx context.Context, address string) (int, error) {
	spec, err := engine.NewQuery().
		Collection(CollectionTweets).
		WhereField("author").Equals(address).
		SelectFields("id").
		Spec()
	if err != nil {
		return 0, err
	}

	result, err := s.backend.Execute(ctx, spec)
	if err != nil {
		return 0, fmt.Errorf("failed to count tweets of %s: %w", address, err)
	}
	return len(result.Records), nil
}

// IsFollowing resolves the current state of the (follower, following)
// relation from the maintained index: latest version wins, and only an
// active status means true.
func (s *SocialService) IsFollowing(ctx context.Context, follower, following string) (bool, error) {
	index, err := s.ensureFollowIndex(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to resolve follow state %s -> %s: %w", follower, following, err)
	}
	return index.IsActive(FollowRelationID(follower, following)), nil
}

// RegisterUser stores a user record keyed by wallet address. The address is
// an opaque identity string supplied by the caller.
func (s *SocialService) RegisterUser(ctx context.Context, address, handle, bio, avatar string) (engine.Record, error) {
	if address == "" {
		return nil, fmt.Errorf("user address cannot be empty")
	}
	record := engine.Record{
		"id":         address,
		"address":    address,
		"handle":     handle,
		"bio":        bio,
		"avatar":     avatar,
		"created_at": timestamp(),
	}
	return s.backend.Store(ctx, CollectionUsers, record)
}

// PostTweet stores a tweet. replyTo and quoteOf are optional relation ids;
// absent relations are simply not stored, which is what lets the reply
// timeline filter on reply_to_id IsNull.
func (s *SocialService) PostTweet(ctx context.Context, author, content, imageURL, replyTo, quoteOf string) (engine.Record, error) {
	if author == "" || content == "" {
		return nil, fmt.Errorf("tweet requires an author and content")
	}
	record := engine.Record{
		"id":         helpers.GenerateUUID(),
		"author":     author,
		"content":    content,
		"created_at": timestamp(),
	}
	if imageURL != "" {
		record["image_url"] = imageURL
	}
	if replyTo != "" {
		record["reply_to_id"] = replyTo
	}
	if quoteOf != "" {
		record["quote_of_id"] = quoteOf
	}
	return s.backend.Store(ctx, CollectionTweets, record)
}

// LikeTweet records a like by the calling identity.
func (s *SocialService) LikeTweet(ctx context.Context, tweetID, user string) (engine.Record, error) {
	return s.storeReaction(ctx, CollectionLikes, tweetID, user)
}

// Retweet records a retweet by the calling identity.
func (s *SocialService) Retweet(ctx context.Context, tweetID, user string) (engine.Record, error) {
	return s.storeReaction(ctx, CollectionRetweets, tweetID, user)
}

func (s *SocialService) storeReaction(ctx context.Context, collection, tweetID, user string) (engine.Record, error) {
	if tweetID == "" || user == "" {
		return nil, fmt.Errorf("reaction requires a tweet id and a user")
	}
	record := engine.Record{
		"id":         helpers.GenerateUUID(),
		"tweet_id":   tweetID,
		"user":       user,
		"created_at": timestamp(),
	}
	return s.backend.Store(ctx, collection, record)
}

// SetFollowing toggles the follow relation. The relation id is stable
// across state changes; every toggle appends a new version bearing the same
// id with a flipped status and an advanced updated_at. Nothing is ever
// deleted; readers resolve the current state latest-write-wins.
func (s *SocialService) SetFollowing(ctx context.Context, follower, following string, active bool) (engine.Record, error) {
	if follower == "" || following == "" {
		return nil, fmt.Errorf("follow requires a follower and a following address")
	}
	if follower == following {
		return nil, fmt.Errorf("cannot follow yourself")
	}

	status := "inactive"
	if active {
		status = relindex.StatusActive
	}

	now := timestamp()
	record := engine.Record{
		"id":         FollowRelationID(follower, following),
		"follower":   follower,
		"following":  following,
		"status":     status,
		"created_at": now,
		"updated_at": now,
	}

	stored, err := s.backend.Store(ctx, CollectionFollows, record)
	if err != nil {
		return nil, err
	}
	s.observeFollow(stored)
	return stored, nil
}

// FollowRelationID is the stable primary key of a (follower, following)
// relation.
func FollowRelationID(follower, following string) string {
	return fmt.Sprintf("follow:%s:%s", follower, following)
}

// timestamp renders the current UTC time the way records carry it on the
// wire and in data files.
func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
