package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/distwiki/internal/wikiservice"
)

const (
	maxBodyBytes   = 10 << 20
	defaultActions = 10
	maxActions     = 100
)

// Handler holds API route handlers.
type Handler struct {
	svc *wikiservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *wikiservice.Service) *Handler {
	return &Handler{svc: svc}
}

// articleTitle extracts the title path parameter. Titles containing a slash
// arrive percent-encoded (lang%2FGo).
func articleTitle(r *http.Request) string {
	raw := chi.URLParam(r, "title")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListTitles handles GET /api/articles.
//
//	@Summary		List registered article titles
//	@Tags			articles
//	@Produce		json
//	@Success		200	{object}	TitlesResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles [get]
func (h *Handler) ListTitles(w http.ResponseWriter, r *http.Request) {
	titles, err := h.svc.Titles(r.Context())
	if err != nil {
		writeError(w, "list titles", err)
		return
	}
	writeJSON(w, http.StatusOK, TitlesResponse{Titles: titles})
}

// PublishArticle handles POST /api/articles.
//
//	@Summary		Publish a new article
//	@Tags			articles
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PublishArticleRequest	true	"Article to publish"
//	@Success		202		{object}	Submission
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles [post]
func (h *Handler) PublishArticle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PublishArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title and content are required"))
		return
	}
	sub, err := h.svc.Publish(r.Context(), req.Title, []byte(req.Content), req.Authorized)
	if err != nil {
		writeError(w, "publish article", err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// ReadArticle handles GET /api/articles/{title}.
//
//	@Summary		Retrieve an article, latest or a given version
//	@Tags			articles
//	@Produce		json
//	@Param			title	path		string	true	"Article title"
//	@Param			version	query		int		false	"Version index, from 0"
//	@Success		200		{object}	ArticleDetail
//	@Failure		404		{object}	errResponse
//	@Failure		504		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles/{title} [get]
func (h *Handler) ReadArticle(w http.ResponseWriter, r *http.Request) {
	title := articleTitle(r)
	var version *int
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("version must be an integer"))
			return
		}
		version = &n
	}
	detail, err := h.svc.Read(r.Context(), title, version)
	if err != nil {
		writeError(w, "read article", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ReviseArticle handles PUT /api/articles/{title}.
//
//	@Summary		Publish a new version of an article
//	@Tags			articles
//	@Accept			json
//	@Produce		json
//	@Param			title	path		string					true	"Article title"
//	@Param			body	body		ReviseArticleRequest	true	"New content"
//	@Success		202		{object}	Submission
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles/{title} [put]
func (h *Handler) ReviseArticle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	title := articleTitle(r)
	var req ReviseArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	sub, err := h.svc.Revise(r.Context(), title, []byte(req.Content))
	if err != nil {
		writeError(w, "revise article", err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// History handles GET /api/articles/{title}/history.
//
//	@Summary		List every version of an article
//	@Tags			articles
//	@Produce		json
//	@Param			title	path		string	true	"Article title"
//	@Success		200		{object}	HistoryResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/articles/{title}/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	title := articleTitle(r)
	versions, err := h.svc.History(r.Context(), title)
	if err != nil {
		writeError(w, "article history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Title: title, Versions: versions})
}

// RecentActions handles GET /api/transactions.
//
//	@Summary		Recent submissions with their status
//	@Tags			transactions
//	@Produce		json
//	@Param			limit	query		int	false	"Max entries (default 10, max 100)"
//	@Success		200		{object}	ActionsResponse
//	@Security		BearerAuth
//	@Router			/transactions [get]
func (h *Handler) RecentActions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultActions
	}
	if limit > maxActions {
		limit = maxActions
	}
	actions, err := h.svc.RecentActions(r.Context(), limit)
	if err != nil {
		writeError(w, "recent actions", err)
		return
	}
	writeJSON(w, http.StatusOK, ActionsResponse{Actions: actions})
}

// Reconcile handles POST /api/transactions/reconcile.
//
//	@Summary		Resolve pending submissions against the chain now
//	@Tags			transactions
//	@Produce		json
//	@Success		200	{object}	ReconcileResponse
//	@Security		BearerAuth
//	@Router			/transactions/reconcile [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.Reconcile(r.Context())
	if err != nil {
		writeError(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileResponse{Pending: pending})
}

// Estimate handles GET /api/estimate.
//
//	@Summary		Estimated cost of publishing an article, in wei
//	@Tags			transactions
//	@Produce		json
//	@Success		200	{object}	EstimateResponse
//	@Security		BearerAuth
//	@Router			/estimate [get]
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	wei, err := h.svc.EstimateCost(r.Context())
	if err != nil {
		writeError(w, "estimate cost", err)
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{Wei: wei.String()})
}

// LocalArticles handles GET /api/local.
//
//	@Summary		Article copies present in the local directory
//	@Tags			articles
//	@Produce		json
//	@Success		200	{object}	LocalResponse
//	@Security		BearerAuth
//	@Router			/local [get]
func (h *Handler) LocalArticles(w http.ResponseWriter, r *http.Request) {
	local, err := h.svc.LocalArticles(r.Context())
	if err != nil {
		writeError(w, "list local articles", err)
		return
	}
	writeJSON(w, http.StatusOK, LocalResponse{Account: h.svc.Account(), Articles: local})
}
