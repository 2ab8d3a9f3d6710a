package models

import "time"

// View models produced by the result shaper and consumed by the UI layer.
// Counts are always derived from joined sequences at read time, never read
// from a persisted counter field, so they cannot drift from the data.

// AuthorView is the slice of a user record a timeline needs.
type AuthorView struct {
	Address string `json:"address"`
	Handle  string `json:"handle"`
	Avatar  string `json:"avatar,omitempty"`
}

// TweetView is a fully shaped tweet: raw fields mapped to a stable shape
// plus aggregates derived from the joined relations.
type TweetView struct {
	ID        string     `json:"id"`
	Author    AuthorView `json:"author"`
	Content   string     `json:"content"`
	ImageURL  string     `json:"image_url,omitempty"`
	ReplyToID string     `json:"reply_to_id,omitempty"`
	QuoteOfID string     `json:"quote_of_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	LikeCount    int `json:"like_count"`
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	QuoteCount   int `json:"quote_count"`

	// Flags for the calling identity; false when no caller is supplied.
	UserLiked     bool `json:"user_liked"`
	UserRetweeted bool `json:"user_retweeted"`

	Replies []TweetView `json:"replies,omitempty"`
}

// ProfileView is a user profile with relation-derived aggregates.
type ProfileView struct {
	Address        string    `json:"address"`
	Handle         string    `json:"handle"`
	Bio            string    `json:"bio,omitempty"`
	Avatar         string    `json:"avatar,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	TweetCount     int       `json:"tweet_count"`

	// IsFollowing is the caller's relation to this profile; false when no
	// caller is supplied.
	IsFollowing bool `json:"is_following"`
}

// UserWithTweetsView pairs a profile with its most recent tweets.
type UserWithTweetsView struct {
	Profile ProfileView `json:"profile"`
	Tweets  []TweetView `json:"tweets"`
}
