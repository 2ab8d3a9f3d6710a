package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"relaydb/src/directors"
	"relaydb/src/engine"
)

// Social routes sit on top of the generic query endpoint: the same service
// layer a remote consumer would run against the client SDK, served here
// against the in-process engine. The caller identity is an opaque string
// taken from the request; verifying it is out of scope.

func (s *Server) socialRoutes(router chi.Router) {
	router.Get("/tweets", s.handleTimeline)
	router.Get("/tweets/{id}", s.handleGetTweet)
	router.Get("/users/{address}", s.handleGetProfile)
	router.Get("/users/{address}/tweets", s.handleGetUserTweets)

	router.Post("/users", s.handleRegisterUser)
	router.Post("/tweets", s.handlePostTweet)
	router.Post("/tweets/{id}/likes", s.handleLikeTweet)
	router.Post("/tweets/{id}/retweets", s.handleRetweet)
	router.Post("/follows", s.handleSetFollowing)
}

func (s *Server) social() *directors.SocialService {
	return directors.GetServiceManager().SocialService
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func caller(r *http.Request) string {
	return r.URL.Query().Get("caller")
}

func notFound(message string) engine.ErrorEnvelope {
	return engine.ErrorEnvelope{Error: engine.WireError{
		Kind:    engine.WireKindQuery,
		Message: message,
	}}
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	views, err := s.social().GetTweets(ctx, caller(r), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tweets": views})
}

func (s *Server) handleGetTweet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	view, err := s.social().GetTweet(ctx, chi.URLParam(r, "id"), caller(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if view == nil {
		writeJSON(w, http.StatusNotFound, notFound("tweet not found"))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	profile, err := s.social().GetProfile(ctx, chi.URLParam(r, "address"), caller(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if profile == nil {
		writeJSON(w, http.StatusNotFound, notFound("user not found"))
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetUserTweets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	view, err := s.social().GetUserWithTweets(ctx, chi.URLParam(r, "address"), caller(r), queryInt(r, "max"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if view == nil {
		writeJSON(w, http.StatusNotFound, notFound("user not found"))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type registerUserRequest struct {
	Address string `json:"address"`
	Handle  string `json:"handle"`
	Bio     string `json:"bio"`
	Avatar  string `json:"avatar"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, engine.NewQueryError(engine.ErrMalformedSpec, "invalid user body: %v", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	record, err := s.social().RegisterUser(ctx, req.Address, req.Handle, req.Bio, req.Avatar)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

type postTweetRequest struct {
	Author    string `json:"author"`
	Content   string `json:"content"`
	ImageURL  string `json:"image_url"`
	ReplyToID string `json:"reply_to_id"`
	QuoteOfID string `json:"quote_of_id"`
}

func (s *Server) handlePostTweet(w http.ResponseWriter, r *http.Request) {
	var req postTweetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, engine.NewQueryError(engine.ErrMalformedSpec, "invalid tweet body: %v", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	record, err := s.social().PostTweet(ctx, req.Author, req.Content, req.ImageURL, req.ReplyToID, req.QuoteOfID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

type reactionRequest struct {
	User string `json:"user"`
}

func (s *Server) handleLikeTweet(w http.ResponseWriter, r *http.Request) {
	s.handleReaction(w, r, s.social().LikeTweet)
}

func (s *Server) handleRetweet(w http.ResponseWriter, r *http.Request) {
	s.handleReaction(w, r, s.social().Retweet)
}

func (s *Server) handleReaction(w http.ResponseWriter, r *http.Request,
	react func(context.Context, string, string) (engine.Record, error)) {
	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, engine.NewQueryError(engine.ErrMalformedSpec, "invalid reaction body: %v", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	record, err := react(ctx, chi.URLParam(r, "id"), req.User)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

type followRequest struct {
	Follower  string `json:"follower"`
	Following string `json:"following"`
	Active    bool   `json:"active"`
}

func (s *Server) handleSetFollowing(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, engine.NewQueryError(engine.ErrMalformedSpec, "invalid follow body: %v", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	record, err := s.social().SetFollowing(ctx, req.Follower, req.Following, req.Active)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}
