package api

import (
	"github.com/starford/distwiki/internal/models"
	"github.com/starford/distwiki/internal/wikiservice"
)

// PublishArticleRequest is the request body for publishing a new article.
type PublishArticleRequest struct {
	Title      string   `json:"title" example:"Go (programming language)" validate:"required"`
	Content    string   `json:"content" example:"Go is a statically typed..." validate:"required"`
	Authorized []string `json:"authorized,omitempty" example:"0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"`
}

// ReviseArticleRequest is the request body for publishing a new version.
type ReviseArticleRequest struct {
	Content string `json:"content" example:"Go is a statically typed..." validate:"required"`
}

// ArticleDetail is the article response type (aliased from the domain layer).
type ArticleDetail = wikiservice.ArticleDetail

// Submission is returned once a transaction is broadcast (aliased from the domain layer).
type Submission = wikiservice.Submission

// TitlesResponse lists registered titles.
type TitlesResponse struct {
	Titles []string `json:"titles" validate:"required"`
}

// HistoryResponse lists the versions of one article, oldest first.
type HistoryResponse struct {
	Title    string                  `json:"title" example:"Go" validate:"required"`
	Versions []models.ArticleVersion `json:"versions" validate:"required"`
}

// ActionsResponse lists recent submissions, newest first.
type ActionsResponse struct {
	Actions []models.Action `json:"actions" validate:"required"`
}

// ReconcileResponse reports how many submissions are still pending.
type ReconcileResponse struct {
	Pending int `json:"pending" example:"2"`
}

// EstimateResponse is the estimated cost of one publish, in wei.
type EstimateResponse struct {
	Wei string `json:"wei" example:"2800000000000000" validate:"required"`
}

// LocalResponse lists the article copies in the local directory.
type LocalResponse struct {
	Account  string                `json:"account" example:"0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"`
	Articles []models.LocalArticle `json:"articles" validate:"required"`
}
