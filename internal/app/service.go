package app

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"synkdocs/api/internal/auth"
	"synkdocs/api/internal/cache"
	"synkdocs/api/internal/config"
	"synkdocs/api/internal/export"
	"synkdocs/api/internal/gitrepo"
	"synkdocs/api/internal/metrics"
	"synkdocs/api/internal/prosemirror"
	"synkdocs/api/internal/rbac"
	"synkdocs/api/internal/search"
	"synkdocs/api/internal/store"
	"synkdocs/api/internal/util"
)

type Session struct {
	UserID    string
	UserName  string
	Role      rbac.Role
	ExpiresAt time.Time
}

type SaveInput struct {
	Title         string
	Content       []byte
	Snapshot      bool
	ChangeSummary string
}

// FormatResult is the canonical output of one format call. A cached result
// carries the stats recorded when it was first formatted.
type FormatResult struct {
	Output []byte
	Stats  prosemirror.Stats
	Cached bool
}

type documentStore interface {
	UpsertDocument(context.Context, store.Document) (store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context, int, int) ([]store.Document, error)
	InsertVersion(context.Context, store.DocumentVersion) (store.DocumentVersion, error)
	ListVersions(context.Context, string) ([]store.DocumentVersion, error)
	SoftDeleteDocument(context.Context, string, string) (bool, error)
	InsertThread(context.Context, store.Thread) error
	GetThread(context.Context, string, string) (store.Thread, error)
	ListThreads(context.Context, string) ([]store.Thread, error)
	ResolveThread(context.Context, string, string, string) (bool, error)
	ReopenThread(context.Context, string, string) (bool, error)
	InsertReply(context.Context, store.Reply) error
	ListReplies(context.Context, string) (map[string][]store.Reply, error)
	InsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, bool, int) ([]store.Notification, error)
	MarkNotificationsRead(context.Context, string, []string) (int64, error)
	Ping(context.Context) error
}

type gitService interface {
	EnsureDocumentRepo(string) error
	CommitContent(string, gitrepo.Content, string, string) (gitrepo.CommitInfo, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
	GetContentByHash(string, string) (gitrepo.Content, error)
	GetCommitByHash(string, string) (gitrepo.CommitInfo, error)
	Diff(string, string, string) (gitrepo.DiffResult, error)
	CreateTag(string, string, string) error
}

type formatCache interface {
	Get(context.Context, []byte) (cache.Entry, bool, error)
	Set(context.Context, []byte, cache.Entry, time.Duration) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexDocument(search.DocumentRecord)
	DeleteDocument(string)
}

// pinger is implemented by optional dependencies that can report their
// reachability.
type pinger interface {
	Ping(context.Context) error
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Dependencies are the collaborators of Service. Cache, Search and Archive
// are optional.
type Dependencies struct {
	Store   documentStore
	Git     gitService
	Cache   formatCache
	Search  searchService
	Archive export.Archive
	Metrics *metrics.Recorder
	Log     logrus.FieldLogger
}

type Service struct {
	cfg       config.Config
	formatter *prosemirror.Formatter
	store     documentStore
	git       gitService
	cache     formatCache
	search    searchService
	archive   export.Archive
	exporter  exporter
	metrics   *metrics.Recorder
	log       logrus.FieldLogger
}

const (
	historyLimit    = 500
	defaultPageSize = 50
	maxPageSize     = 200
	untitled        = "Untitled"
)

var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:       cfg,
		formatter: prosemirror.New(prosemirror.Options{MaxDepth: cfg.FormatMaxDepth}),
		store:     deps.Store,
		git:       deps.Git,
		cache:     deps.Cache,
		search:    deps.Search,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		log:       deps.Log,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.exporter = export.NewService(s, deps.Archive)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Check is the outcome of one readiness check.
type Check struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Readiness pings the database and every optional dependency that supports
// it. Only the database decides readiness; a failing cache or archive
// degrades the service without taking it out of rotation.
func (s *Service) Readiness(ctx context.Context) (ready, degraded bool, checks map[string]Check) {
	checks = map[string]Check{"database": {Status: "ok"}}
	ready = true
	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["database"] = Check{Status: "error", Error: err.Error()}
	}

	optional := map[string]any{"cache": s.cache, "archive": s.archive}
	for name, dep := range optional {
		p, ok := dep.(pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			degraded = true
			checks[name] = Check{Status: "error", Error: err.Error()}
			s.log.WithError(err).WithField("dependency", name).Warn("readiness check failed")
			continue
		}
		checks[name] = Check{Status: "ok"}
	}
	return ready, degraded, checks
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		UserID:   claims.Subject,
		UserName: claims.Name,
		Role:     rbac.Normalize(claims.Role),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// Format canonicalizes a raw document, serving repeated inputs from the cache
// when one is configured. Cache failures are logged and never fail the call.
func (s *Service) Format(ctx context.Context, input []byte) (FormatResult, error) {
	if s.cache != nil {
		entry, ok, err := s.cache.Get(ctx, input)
		switch {
		case err != nil:
			s.observeCache(metrics.CacheError)
			s.log.WithError(err).Warn("format cache lookup failed")
		case ok:
			s.observeCache(metrics.CacheHit)
			return FormatResult{Output: entry.Output, Stats: entry.Stats, Cached: true}, nil
		default:
			s.observeCache(metrics.CacheMiss)
		}
	}

	started := time.Now()
	output, stats, err := s.formatter.FormatWithStats(input)
	if s.metrics != nil {
		s.metrics.ObserveFormat(formatResultLabel(err), time.Since(started), stats)
	}
	if err != nil {
		return FormatResult{}, err
	}
	for _, diagnostic := range stats.Diagnostics {
		s.log.WithField("path", diagnostic.Path).Debug(diagnostic.Message)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, input, cache.Entry{Output: output, Stats: stats}, s.cfg.FormatCacheTTL); err != nil {
			s.log.WithError(err).Warn("format cache store failed")
		}
	}
	return FormatResult{Output: output, Stats: stats}, nil
}

func (s *Service) observeCache(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveCache(outcome)
	}
}

func formatResultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, prosemirror.ErrParse):
		return metrics.ResultParseError
	case errors.Is(err, prosemirror.ErrValidation):
		return metrics.ResultValidationError
	case errors.Is(err, prosemirror.ErrDepthExceeded):
		return metrics.ResultDepthExceeded
	default:
		return metrics.ResultSerializationError
	}
}

// SaveDocument formats and stores the latest content. A snapshot also
// commits the canonical tree to git and records a version row.
func (s *Service) SaveDocument(ctx context.Context, session Session, documentID string, input SaveInput) (map[string]any, error) {
	if err := checkDocumentID(documentID); err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(input.Content))) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	formatted, err := s.Format(ctx, input.Content)
	if err != nil {
		return nil, err
	}
	doc, err := prosemirror.Decode(formatted.Output)
	if err != nil {
		return nil, fmt.Errorf("decode canonical content: %w", err)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = prosemirror.Title(doc)
	}
	if title == "" {
		title = untitled
	}

	stored, err := s.store.UpsertDocument(ctx, store.Document{
		ID:               documentID,
		Title:            title,
		Content:          formatted.Output,
		ContentHash:      contentHash(formatted.Output),
		BodyText:         prosemirror.PlainText(doc),
		FormatterVersion: prosemirror.Version(),
		UpdatedBy:        session.UserName,
	})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexDocument(searchRecord(stored))
	}

	response := map[string]any{
		"document": documentSummary(stored),
		"changed":  formatted.Stats.Changed(),
		"stats":    formatted.Stats,
		"cached":   formatted.Cached,
		"version":  nil,
	}
	if !input.Snapshot {
		return response, nil
	}

	message := strings.TrimSpace(input.ChangeSummary)
	if message == "" {
		message = "Snapshot"
	}
	if err := s.git.EnsureDocumentRepo(documentID); err != nil {
		return nil, err
	}
	commit, err := s.git.CommitContent(documentID, gitrepo.Content{Title: title, Doc: doc}, session.UserName, message)
	if err != nil {
		return nil, err
	}
	version, err := s.store.InsertVersion(ctx, store.DocumentVersion{
		DocumentID:    documentID,
		Title:         title,
		CommitHash:    commit.Hash,
		ContentHash:   stored.ContentHash,
		ChangeSummary: strings.TrimSpace(input.ChangeSummary),
		CreatedBy:     session.UserName,
	})
	if err != nil {
		return nil, err
	}
	if err := s.git.CreateTag(documentID, commit.Hash, versionTag(version.VersionNumber)); err != nil {
		s.log.WithError(err).WithField("document_id", documentID).Warn("tag snapshot failed")
	}
	s.log.WithFields(logrus.Fields{
		"document_id": documentID,
		"commit":      commit.ShortHash,
		"version":     version.VersionNumber,
	}).Info("document snapshot recorded")
	response["version"] = versionView(version, &commit)
	return response, nil
}

// CreateDocument saves content under a newly generated document id.
func (s *Service) CreateDocument(ctx context.Context, session Session, input SaveInput) (map[string]any, error) {
	return s.SaveDocument(ctx, session, util.NewID("doc"), input)
}

func (s *Service) ListDocuments(ctx context.Context, limit, offset int) ([]map[string]any, error) {
	limit, offset = page(limit, offset)
	documents, err := s.store.ListDocuments(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, item := range documents {
		items = append(items, documentSummary(item))
	}
	return items, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	if err := checkDocumentID(documentID); err != nil {
		return nil, err
	}
	item, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	view := documentSummary(item)
	view["content"] = item.Content
	view["contentHash"] = item.ContentHash
	view["formatterVersion"] = item.FormatterVersion
	return view, nil
}

// ListVersions returns version rows newest first, each joined with its git
// commit when the commit is still reachable from main.
func (s *Service) ListVersions(ctx context.Context, documentID string) ([]map[string]any, error) {
	if err := checkDocumentID(documentID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return []map[string]any{}, nil
	}

	history, err := s.git.History(documentID, historyLimit)
	if err != nil {
		return nil, err
	}
	commits := make(map[string]gitrepo.CommitInfo, len(history))
	for _, commit := range history {
		commits[commit.Hash] = commit
	}

	items := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		var commit *gitrepo.CommitInfo
		if info, ok := commits[version.CommitHash]; ok {
			commit = &info
		}
		items = append(items, versionView(version, commit))
	}
	return items, nil
}

// RestoreVersion saves the content of an earlier snapshot as the latest
// content and records it as a new snapshot. History is never rewritten.
func (s *Service) RestoreVersion(ctx context.Context, session Session, documentID, hash string) (map[string]any, error) {
	if err := checkDocumentID(documentID); err != nil {
		return nil, err
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "hash is required", nil)
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	content, err := s.git.GetContentByHash(documentID, hash)
	if err != nil {
		return nil, err
	}
	commit, err := s.git.GetCommitByHash(documentID, hash)
	if err != nil {
		return nil, err
	}
	raw, err := prosemirror.Encode(content.Doc)
	if err != nil {
		return nil, err
	}
	response, err := s.SaveDocument(ctx, session, documentID, SaveInput{
		Title:         content.Title,
		Content:       raw,
		Snapshot:      true,
		ChangeSummary: "Restored version " + commit.ShortHash,
	})
	if err != nil {
		return nil, err
	}
	response["restoredFrom"] = commit.Hash
	return response, nil
}

// DeleteDocument soft-deletes a document and removes it from the search
// index. Version rows and git history are kept.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if err := checkDocumentID(documentID); err != nil {
		return err
	}
	deleted, err := s.store.SoftDeleteDocument(ctx, documentID, session.UserName)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	s.log.WithFields(logrus.Fields{
		"document_id": documentID,
		"user_id":     session.UserID,
	}).Info("document deleted")
	return nil
}

func (s *Service) GetVersion(ctx context.Context, documentID, hash string) (map[string]any, error) {
	if err := checkDocumentID(documentID); err != nil {
		return nil, err
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "hash is required", nil)
	}
	content, err := s.git.GetContentByHash(documentID, hash)
	if err != nil {
		return nil, err
	}
	commit, err := s.git.GetCommitByHash(documentID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"documentId": documentID,
		"title":      content.Title,
		"content":    content.Doc,
		"commit":     commit,
	}, nil
}

func (s *Service) Compare(ctx context.Context, documentID, fromHash, toHash string) (gitrepo.DiffResult, error) {
	if err := checkDocumentID(documentID); err != nil {
		return gitrepo.DiffResult{}, err
	}
	fromHash, toHash = strings.TrimSpace(fromHash), strings.TrimSpace(toHash)
	if fromHash == "" || toHash == "" {
		return gitrepo.DiffResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "from and to are required", nil)
	}
	return s.git.Diff(documentID, fromHash, toHash)
}

func (s *Service) Export(ctx context.Context, documentID, format, version string) (*export.Result, error) {
	if err := checkDocumentID(documentID); err != nil {
		return nil, err
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	version = strings.TrimSpace(version)
	if version == "" {
		version = "latest"
	}
	return s.exporter.Export(ctx, export.Request{DocumentID: documentID, Version: version, Format: parsed})
}

// LoadExportDocument resolves "latest" to the stored document and anything
// else to a git revision.
func (s *Service) LoadExportDocument(ctx context.Context, documentID, version string) (export.Document, error) {
	if version == "latest" {
		item, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return export.Document{}, err
		}
		doc, err := prosemirror.Decode(item.Content)
		if err != nil {
			return export.Document{}, fmt.Errorf("decode stored content: %w", err)
		}
		return export.Document{
			ID:        item.ID,
			Title:     item.Title,
			Doc:       doc,
			Author:    item.UpdatedBy,
			Version:   version,
			UpdatedAt: item.UpdatedAt,
		}, nil
	}

	content, err := s.git.GetContentByHash(documentID, version)
	if err != nil {
		return export.Document{}, err
	}
	commit, err := s.git.GetCommitByHash(documentID, version)
	if err != nil {
		return export.Document{}, err
	}
	return export.Document{
		ID:        documentID,
		Title:     content.Title,
		Doc:       content.Doc,
		Author:    commit.Author,
		Version:   commit.ShortHash,
		UpdatedAt: commit.CreatedAt,
	}, nil
}

func (s *Service) Search(ctx context.Context, text string, limit, offset int) search.Response {
	q := search.Query{Text: strings.TrimSpace(text), Limit: limit, Offset: offset}
	if s.search == nil || q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func checkDocumentID(documentID string) error {
	if !documentIDPattern.MatchString(documentID) {
		return domainError(http.StatusBadRequest, "INVALID_DOCUMENT_ID", "document id must be 1-128 letters, digits, '-' or '_'", nil)
	}
	return nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func contentHash(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func searchRecord(item store.Document) search.DocumentRecord {
	return search.DocumentRecord{
		ID:        item.ID,
		Title:     item.Title,
		Body:      item.BodyText,
		UpdatedBy: item.UpdatedBy,
		UpdatedAt: item.UpdatedAt.Unix(),
	}
}

func documentSummary(item store.Document) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"title":     item.Title,
		"updatedBy": item.UpdatedBy,
		"createdAt": item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func versionView(version store.DocumentVersion, commit *gitrepo.CommitInfo) map[string]any {
	view := map[string]any{
		"versionNumber": version.VersionNumber,
		"tag":           versionTag(version.VersionNumber),
		"title":         version.Title,
		"commitHash":    version.CommitHash,
		"contentHash":   version.ContentHash,
		"changeSummary": version.ChangeSummary,
		"createdBy":     version.CreatedBy,
		"createdAt":     version.CreatedAt.UTC().Format(time.RFC3339),
		"commit":        nil,
	}
	if commit != nil {
		view["commit"] = commit
	}
	return view
}

func versionTag(number int) string {
	return fmt.Sprintf("v%d", number)
}
