package directors

// The result shaper converts raw joined records into the view models the UI
// consumes. It never raises new error kinds: a missing joined alias is an
// empty sequence or nil, malformed nested records are discarded, and flags
// degrade to false when no caller identity is supplied.

import (
	"relaydb/src/engine"
	"relaydb/src/models"
	"relaydb/src/relindex"
)

// Join aliases the social queries attach to tweet records.
const (
	aliasAuthor   = "author_info"
	aliasLikes    = "likes"
	aliasRetweets = "retweets"
	aliasReplies  = "replies"
	aliasQuotes   = "quotes"
	aliasTweets   = "tweets"
)

// ShapeTweet maps one resolved tweet record onto the stable view shape.
// Counts come from the length of the joined sequences, never from a stored
// counter field: joined sequences are ground truth at read time while
// stored counters can drift.
func ShapeTweet(record engine.Record, caller string) models.TweetView {
	view := models.TweetView{
		ID:        record.ID(),
		Content:   record.StringField("content"),
		ImageURL:  record.StringField("image_url"),
		ReplyToID: record.StringField("reply_to_id"),
		QuoteOfID: record.StringField("quote_of_id"),
		Author:    shapeAuthor(record.JoinedOne(aliasAuthor), record.StringField("author")),
	}
	if created, ok := record.TimeField("created_at"); ok {
		view.CreatedAt = created
	}

	likes := record.JoinedMany(aliasLikes)
	view.LikeCount = len(likes)
	view.UserLiked = identityPresent(likes, caller)

	retweets := record.JoinedMany(aliasRetweets)
	view.RetweetCount = len(retweets)
	view.UserRetweeted = identityPresent(retweets, caller)

	replies := filterTweetRecords(record.JoinedMany(aliasReplies))
	view.ReplyCount = len(replies)
	for _, reply := range replies {
		view.Replies = append(view.Replies, ShapeTweet(reply, caller))
	}

	view.QuoteCount = len(filterTweetRecords(record.JoinedMany(aliasQuotes)))

	return view
}

// shapeAuthor maps the joined author record, falling back to the raw author
// address when the join resolved empty.
func shapeAuthor(author engine.Record, fallbackAddress string) models.AuthorView {
	if author == nil {
		return models.AuthorView{Address: fallbackAddress}
	}
	return models.AuthorView{
		Address: author.StringField("address"),
		Handle:  author.StringField("handle"),
		Avatar:  author.StringField("avatar"),
	}
}

// identityPresent scans a joined sequence for an entry whose user field
// equals the caller identity. An absent caller means false.
func identityPresent(records []engine.Record, caller string) bool {
	if caller == "" {
		return false
	}
	for _, record := range records {
		if record.StringField("user") == caller {
			return true
		}
	}
	return false
}

// filterTweetRecords drops joined records that lack a content field. The
// join can return partial or malformed nested documents for reply/quote
// relations; anything without content is non-tweet noise.
func filterTweetRecords(records []engine.Record) []engine.Record {
	filtered := make([]engine.Record, 0, len(records))
	for _, record := range records {
		if record.HasField("content") {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// CountActiveRelations counts the relations in a versioned history whose
// latest version is active. Records sharing a primary key are versions of
// the same relation; latest-write-wins per key, with storage order breaking
// timestamp ties.
func CountActiveRelations(records []engine.Record) int {
	index := relindex.NewRelationIndex(nil)
	index.Build(records)
	return index.ActiveCount()
}

// ShapeProfile maps a user record plus derived aggregates onto the profile
// view.
func ShapeProfile(user engine.Record, followers, following, tweets int, isFollowing bool) models.ProfileView {
	view := models.ProfileView{
		Address:        user.StringField("address"),
		Handle:         user.StringField("handle"),
		Bio:            user.StringField("bio"),
		Avatar:         user.StringField("avatar"),
		FollowerCount:  followers,
		FollowingCount: following,
		TweetCount:     tweets,
		IsFollowing:    isFollowing,
	}
	if joined, ok := user.TimeField("created_at"); ok {
		view.JoinedAt = joined
	}
	return view
}
