package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"headliner/internal/dispatch"
	"headliner/internal/headline"
	"headliner/internal/ingest"
	"headliner/internal/model"
	"headliner/internal/store"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var errUnknownScope = errors.New("no such feed or category")

// DefaultMaxViews bounds the cached headline lists when Options leaves it
// unset.
const DefaultMaxViews = 64

// Source is what the server needs from the article database.
type Source interface {
	headline.Source
	Get(ctx context.Context, id int64) (*model.ArticleSummary, error)
	Feed(ctx context.Context, id int64) (*model.Feed, error)
	Feeds(ctx context.Context) ([]model.Feed, error)
}

// cachedView is a live headline list and the cancel that stops its watcher.
type cachedView struct {
	view   *headline.View
	cancel context.CancelFunc
}

type Server struct {
	source     Source
	dispatcher *dispatch.Dispatcher
	importer   *ingest.Importer
	notifier   dispatch.Notifier
	defaults   model.HeadlineQuery
	logger     *zap.Logger
	router     *mux.Router
	server     *http.Server
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	views *lru.Cache[model.HeadlineQuery, cachedView]
}

// Options carries the list defaults applied when a request does not
// override them.
type Options struct {
	OnlyUnread  bool
	OldestFirst bool
	MaxViews    int
}

func NewServer(src Source, d *dispatch.Dispatcher, im *ingest.Importer, n dispatch.Notifier, opts Options, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.MaxViews <= 0 {
		opts.MaxViews = DefaultMaxViews
	}
	// Only fails for a non-positive size.
	views, _ := lru.NewWithEvict(opts.MaxViews, func(_ model.HeadlineQuery, v cachedView) {
		v.cancel()
	})
	s := &Server{
		source:     src,
		dispatcher: d,
		importer:   im,
		notifier:   n,
		defaults:   model.HeadlineQuery{OnlyUnread: opts.OnlyUnread, OldestFirst: opts.OldestFirst},
		logger:     logger,
		router:     mux.NewRouter(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		views:      views,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/headlines", s.handleHeadlines).Methods("GET")
	s.router.HandleFunc("/headlines/ids", s.handleIDs).Methods("GET")
	s.router.HandleFunc("/headlines/select/{pos:[0-9]+}", s.handleSelect).Methods("POST")
	s.router.HandleFunc("/headlines/select", s.handleClearSelection).Methods("DELETE")
	s.router.HandleFunc("/headlines/next/{id:-?[0-9]+}", s.handleNext).Methods("GET")
	s.router.HandleFunc("/headlines/mark-above/{pos:[0-9]+}", s.handleMarkAbove).Methods("POST")
	s.router.HandleFunc("/headlines/mark-read", s.handleMarkRead).Methods("POST")

	s.router.HandleFunc("/articles/{id:[0-9]+}/toggle/{field}", s.handleToggle).Methods("POST")
	s.router.HandleFunc("/articles/{id:[0-9]+}/note", s.handleNote).Methods("PUT")

	s.router.HandleFunc("/feeds", s.handleFeeds).Methods("GET")
	s.router.HandleFunc("/feeds", s.handleImport).Methods("POST")
	s.router.HandleFunc("/feeds/{id:[0-9]+}", s.handleUnsubscribe).Methods("DELETE")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start launches the HTTP server
func (s *Server) Start(port string) error {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info("Web server listening", zap.String("addr", port))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.views.Purge()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// queryFrom resolves the list a request addresses.
func (s *Server) queryFrom(r *http.Request) (model.HeadlineQuery, error) {
	q := s.defaults
	v := r.URL.Query()

	var feedID, catID int64
	var err error
	if raw := v.Get("feed"); raw != "" {
		if feedID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return q, errors.New("invalid feed")
		}
	}
	if raw := v.Get("cat"); raw != "" {
		if catID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return q, errors.New("invalid cat")
		}
	}
	selectCat := v.Get("select_cat") == "1" || v.Get("select_cat") == "true"
	if v.Get("feed") == "" && !selectCat {
		return q, errors.New("feed or select_cat is required")
	}
	q.Scope = model.ScopeFor(feedID, catID, selectCat)

	if raw := v.Get("unread"); raw != "" {
		q.OnlyUnread = raw == "1" || raw == "true"
	}
	return q, nil
}

// view returns the cached list for q, loading and watching it on first use.
// The least recently used list is dropped once the cache is full.
func (s *Server) view(ctx context.Context, q model.HeadlineQuery) (*headline.View, error) {
	if c, ok := s.views.Get(q); ok {
		return c.view, nil
	}
	if err := s.checkScope(ctx, q.Scope); err != nil {
		return nil, err
	}

	vctx, cancel := context.WithCancel(s.ctx)
	v := headline.NewView(s.source, q, s.logger)
	if err := v.Open(vctx); err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.views.Get(q); ok {
		// Another request opened the same list meanwhile.
		cancel()
		return c.view, nil
	}
	s.views.Add(q, cachedView{view: v, cancel: cancel})
	return v, nil
}

// checkScope rejects lists over feeds or categories that do not exist.
func (s *Server) checkScope(ctx context.Context, scope model.Scope) error {
	switch scope.Kind {
	case model.ScopeVirtual:
		if model.IsVirtualFeed(scope.ID) {
			return nil
		}
	case model.ScopeFeed:
		_, err := s.source.Feed(ctx, scope.ID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("feed %d: %w", scope.ID, errUnknownScope)
		}
		return err
	case model.ScopeCategory:
		feeds, err := s.source.Feeds(ctx)
		if err != nil {
			return err
		}
		for _, f := range feeds {
			if f.CategoryID == scope.ID {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", scope, errUnknownScope)
}

func (s *Server) requestView(w http.ResponseWriter, r *http.Request) (*headline.View, bool) {
	q, err := s.queryFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	v, err := s.view(r.Context(), q)
	if errors.Is(err, errUnknownScope) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	} else if err != nil {
		s.logger.Error("Failed to load headlines", zap.Error(err))
		http.Error(w, "Database error", http.StatusInternalServerError)
		return nil, false
	}
	return v, true
}

func (s *Server) handleHeadlines(w http.ResponseWriter, r *http.Request) {
	v, ok := s.requestView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, headline.Rows(v.Store.Items(), s.now()))
}

func (s *Server) handleIDs(w http.ResponseWriter, r *http.Request) {
	v, ok := s.requestView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.Store.IDsInOrder())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	v, ok := s.requestView(w, r)
	if !ok {
		return
	}
	pos, _ := strconv.Atoi(mux.Vars(r)["pos"])
	a, err := v.Store.CaptureSelection(pos)
	if errors.Is(err, headline.ErrOutOfRange) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	v, ok := s.requestView(w, r)
	if !ok {
		return
	}
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	offset := 1
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		offset = n
	}
	next, found := v.Store.Neighbor(id, offset)
	if !found {
		http.NotFound(w, r)
		return
	}
	body := map[string]any{"id": next}
	// Snapshot ids may have left the live list.
	if a, ok := v.Store.ByID(next); ok {
		body["article"] = a
	}
	writeJSON(w, http.StatusOK, body)
}

// handleClearSelection drops the selection so navigation follows the live
// list again.
func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := s.requestView(w, r)
	if !ok {
		return
	}
	v.Store.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAbove(w http.ResponseWriter, r *http.Request) {
	v, ok := s.requestView(w, r)
	if !ok {
		return
	}
	pos, _ := strconv.Atoi(mux.Vars(r)["pos"])
	items := v.Store.UnreadAbove(pos)
	c, err := s.dispatcher.MarkAboveRead(r.Context(), items)
	s.respond(w, r, c, err, map[string]int{"targets": len(items)})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	q, err := s.queryFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.dispatcher.MarkFeedOrCategoryRead(r.Context(), q.Scope)
	s.respond(w, r, c, err, q.Scope)
}

func (s *Server) article(w http.ResponseWriter, r *http.Request) (*model.ArticleSummary, bool) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	a, err := s.source.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return nil, false
	} else if err != nil {
		s.logger.Error("Failed to load article", zap.Int64("id", id), zap.Error(err))
		http.Error(w, "Database error", http.StatusInternalServerError)
		return nil, false
	}
	return a, true
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	field, err := model.ParseField(mux.Vars(r)["field"])
	if err != nil || field == model.FieldNote {
		http.Error(w, "unknown field", http.StatusBadRequest)
		return
	}
	a, ok := s.article(w, r)
	if !ok {
		return
	}

	var c dispatch.Completion
	switch field {
	case model.FieldRead:
		c, err = s.dispatcher.ToggleRead(r.Context(), *a)
	case model.FieldStarred:
		c, err = s.dispatcher.ToggleStarred(r.Context(), *a)
	case model.FieldPublished:
		c, err = s.dispatcher.TogglePublished(r.Context(), *a)
	}
	s.respond(w, r, c, err, map[string]any{"id": a.ID, "field": field})
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	a, ok := s.article(w, r)
	if !ok {
		return
	}
	c, err := s.dispatcher.SetNote(r.Context(), *a, body.Note)
	s.respond(w, r, c, err, map[string]any{"id": a.ID})
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.source.Feeds(r.Context())
	if err != nil {
		s.logger.Error("Failed to list feeds", zap.Error(err))
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL        string `json:"url"`
		CategoryID int64  `json:"category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	feed, added, err := s.importer.Import(r.Context(), body.URL, body.CategoryID)
	if err != nil {
		s.logger.Error("Import failed", zap.String("url", body.URL), zap.Error(err))
		http.Error(w, "Import failed", http.StatusBadGateway)
		return
	}
	if err := s.notifier.NotifyChange(r.Context()); err != nil {
		s.logger.Warn("Change notification failed", zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"feed": feed, "new_articles": added})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	c, err := s.dispatcher.Unsubscribe(r.Context(), id)
	s.respond(w, r, c, err, map[string]int64{"feed_id": id})
}

// respond answers 202 once work is queued. With ?wait=1 it holds the
// request until the update has been applied.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, c dispatch.Completion, err error, body any) {
	if err != nil {
		http.Error(w, "Failed to queue update", http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("wait") == "" {
		writeJSON(w, http.StatusAccepted, body)
		return
	}
	if err := c.Wait(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
