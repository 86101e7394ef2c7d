package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-git/go-git/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"synkdocs/api/internal/cache"
	"synkdocs/api/internal/config"
	"synkdocs/api/internal/export"
	"synkdocs/api/internal/gitrepo"
	"synkdocs/api/internal/metrics"
	"synkdocs/api/internal/prosemirror"
	"synkdocs/api/internal/rbac"
	"synkdocs/api/internal/search"
	"synkdocs/api/internal/store"
)

type fakeStore struct {
	mu            sync.Mutex
	documents     map[string]store.Document
	deleted       map[string]bool
	versions      map[string][]store.DocumentVersion
	threads       map[string]store.Thread
	replies       []store.Reply
	notifications []store.Notification
	pingFn        func(context.Context) error
	upsertErr     error
	notifyErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		documents: make(map[string]store.Document),
		deleted:   make(map[string]bool),
		versions:  make(map[string][]store.DocumentVersion),
		threads:   make(map[string]store.Thread),
	}
}

func (f *fakeStore) UpsertDocument(_ context.Context, item store.Document) (store.Document, error) {
	if f.upsertErr != nil {
		return store.Document{}, f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted[item.ID] {
		return store.Document{}, sql.ErrNoRows
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if existing, ok := f.documents[item.ID]; ok {
		item.CreatedAt = existing.CreatedAt
	} else {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	f.documents[item.ID] = item
	return item, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.documents[id]
	if !ok || f.deleted[id] {
		return store.Document{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, limit, offset int) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Document, 0, len(f.documents))
	for _, item := range f.documents {
		if f.deleted[item.ID] {
			continue
		}
		item.Content = nil
		items = append(items, item)
	}
	if offset >= len(items) {
		return []store.Document{}, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) InsertVersion(_ context.Context, version store.DocumentVersion) (store.DocumentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.versions[version.DocumentID]
	version.ID = int64(len(existing) + 1)
	version.VersionNumber = len(existing) + 1
	version.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.versions[version.DocumentID] = append(existing, version)
	return version, nil
}

func (f *fakeStore) ListVersions(_ context.Context, id string) ([]store.DocumentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.versions[id]
	out := make([]store.DocumentVersion, 0, len(existing))
	for i := len(existing) - 1; i >= 0; i-- {
		out = append(out, existing[i])
	}
	return out, nil
}

func (f *fakeStore) SoftDeleteDocument(_ context.Context, id, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[id]; !ok || f.deleted[id] {
		return false, nil
	}
	f.deleted[id] = true
	return true, nil
}

func (f *fakeStore) InsertThread(_ context.Context, thread store.Thread) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	thread.UpdatedAt = thread.CreatedAt
	f.threads[thread.ID] = thread
	return nil
}

func (f *fakeStore) GetThread(_ context.Context, documentID, threadID string) (store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok || thread.DocumentID != documentID {
		return store.Thread{}, sql.ErrNoRows
	}
	return thread, nil
}

func (f *fakeStore) ListThreads(_ context.Context, documentID string) ([]store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Thread, 0)
	for _, thread := range f.threads {
		if thread.DocumentID == documentID {
			items = append(items, thread)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) ResolveThread(_ context.Context, documentID, threadID, resolvedBy string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok || thread.DocumentID != documentID || thread.Status == "RESOLVED" {
		return false, nil
	}
	at := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	thread.Status, thread.ResolvedBy, thread.ResolvedAt = "RESOLVED", resolvedBy, &at
	f.threads[threadID] = thread
	return true, nil
}

func (f *fakeStore) ReopenThread(_ context.Context, documentID, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok || thread.DocumentID != documentID || thread.Status != "RESOLVED" {
		return false, nil
	}
	thread.Status, thread.ResolvedBy, thread.ResolvedAt = "OPEN", "", nil
	f.threads[threadID] = thread
	return true, nil
}

func (f *fakeStore) InsertReply(_ context.Context, reply store.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply)
	return nil
}

func (f *fakeStore) ListReplies(_ context.Context, documentID string) (map[string][]store.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make(map[string][]store.Reply)
	for _, reply := range f.replies {
		if f.threads[reply.ThreadID].DocumentID == documentID {
			items[reply.ThreadID] = append(items[reply.ThreadID], reply)
		}
	}
	return items, nil
}

func (f *fakeStore) InsertNotification(_ context.Context, item store.Notification) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, item)
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Notification, 0)
	for i := len(f.notifications) - 1; i >= 0 && len(items) < limit; i-- {
		item := f.notifications[i]
		if item.UserID == userID && (!unreadOnly || !item.Read) {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) MarkNotificationsRead(_ context.Context, userID string, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var changed int64
	for i, item := range f.notifications {
		if item.UserID != userID || item.Read || (len(ids) > 0 && !wanted[item.ID]) {
			continue
		}
		f.notifications[i].Read = true
		changed++
	}
	return changed, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.DocumentRecord
	deleted []string
	queries []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{ID: "doc-1", Title: "Plan"}}, Total: 1, Query: q.Text, Engine: "fake"}
}

func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doc)
}

func (f *fakeSearch) DeleteDocument(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type failingCache struct{}

func (failingCache) Get(context.Context, []byte) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errors.New("redis down")
}

func (failingCache) Set(context.Context, []byte, cache.Entry, time.Duration) error {
	return errors.New("redis down")
}

type fakeExporter struct {
	request export.Request
	result  *export.Result
	err     error
}

func (f *fakeExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	f.request = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type testEnv struct {
	service  *Service
	store    *fakeStore
	git      *gitrepo.Service
	reposDir string
	search   *fakeSearch
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, fc formatCache) testEnv {
	t.Helper()
	registry := prometheus.NewRegistry()
	fs := newFakeStore()
	reposDir := t.TempDir()
	git := gitrepo.New(reposDir)
	searcher := &fakeSearch{}
	deps := Dependencies{
		Store:   fs,
		Git:     git,
		Search:  searcher,
		Metrics: metrics.New(registry),
		Log:     quietLogger(),
	}
	if fc != nil {
		deps.Cache = fc
	}
	svc := New(config.Config{
		JWTSecret:      "test-secret",
		FormatMaxDepth: 64,
		FormatCacheTTL: time.Minute,
		MaxBodyBytes:   1 << 16,
	}, deps)
	return testEnv{service: svc, store: fs, git: git, reposDir: reposDir, search: searcher, registry: registry}
}

func newRedisFormatCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCacheWithClient(client, prosemirror.Version(), 64)
}

var editor = Session{UserID: "user-1", UserName: "Avery Lee", Role: rbac.RoleEditor}

const messyDoc = `{"type":"doc","content":[
	{"type":"heading","attrs":{"level":9},"content":[{"type":"text","text":"Quarterly   plan"}]},
	{"type":"heading","attrs":{"level":2}},
	{"type":"paragraph","content":[{"type":"text","text":"a  b"},{"type":"text","text":"  "}]},
	{"type":"image"}
]}`

const canonicalMessyDoc = `{"type":"doc","content":[{"type":"heading","content":[{"type":"text","text":"Quarterly plan"}],"attrs":{"level":6}},{"type":"paragraph","content":[{"type":"text","text":"a b"},{"type":"text","text":" "}]}]}`

func TestFormatUsesCache(t *testing.T) {
	env := newTestEnv(t, newRedisFormatCache(t))

	first, err := env.service.Format(context.Background(), []byte(messyDoc))
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if first.Cached || string(first.Output) != canonicalMessyDoc {
		t.Fatalf("unexpected first result cached=%v output=%s", first.Cached, first.Output)
	}
	if !first.Stats.Changed() {
		t.Fatal("expected stats to report changes")
	}

	second, err := env.service.Format(context.Background(), []byte(messyDoc))
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !second.Cached || string(second.Output) != canonicalMessyDoc {
		t.Fatalf("expected cached output, got cached=%v output=%s", second.Cached, second.Output)
	}
}

func TestSaveDocumentReportsChangesOnCacheHit(t *testing.T) {
	env := newTestEnv(t, newRedisFormatCache(t))
	ctx := context.Background()

	first, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Content: []byte(messyDoc)})
	if err != nil {
		t.Fatalf("SaveDocument() #1 error = %v", err)
	}
	second, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Content: []byte(messyDoc)})
	if err != nil {
		t.Fatalf("SaveDocument() #2 error = %v", err)
	}
	if second["cached"] != true {
		t.Fatalf("second save should be served from cache: %+v", second)
	}
	if second["changed"] != true || first["changed"] != true {
		t.Fatalf("changed must not depend on the cache: first=%v second=%v", first["changed"], second["changed"])
	}
	firstStats := first["stats"].(prosemirror.Stats)
	secondStats := second["stats"].(prosemirror.Stats)
	if secondStats.ImagesDropped != 1 || secondStats.HeadingsDropped != firstStats.HeadingsDropped {
		t.Fatalf("cached stats = %+v, want %+v", secondStats, firstStats)
	}
}

func TestFormatCacheFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t, failingCache{})
	result, err := env.service.Format(context.Background(), []byte(messyDoc))
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if result.Cached || string(result.Output) != canonicalMessyDoc {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFormatErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "invalid json", input: `{"type":`, want: prosemirror.ErrParse},
		{name: "root not doc", input: `{"type":"paragraph"}`, want: prosemirror.ErrValidation},
		{name: "too deep", input: strings.Repeat(`{"type":"doc","content":[`, 1) + strings.Repeat(`{"type":"x","content":[`, 80) + strings.Repeat(`]}`, 81), want: prosemirror.ErrDepthExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.service.Format(context.Background(), []byte(tt.input)); !errors.Is(err, tt.want) {
				t.Fatalf("Format() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFormatResultLabel(t *testing.T) {
	tests := map[string]error{
		metrics.ResultOK:                 nil,
		metrics.ResultParseError:         prosemirror.ErrParse,
		metrics.ResultValidationError:    prosemirror.ErrValidation,
		metrics.ResultDepthExceeded:      prosemirror.ErrDepthExceeded,
		metrics.ResultSerializationError: prosemirror.ErrSerialization,
	}
	for want, err := range tests {
		if got := formatResultLabel(err); got != want {
			t.Fatalf("formatResultLabel(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestSaveDocumentWithoutSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)

	payload, err := env.service.SaveDocument(context.Background(), editor, "doc-1", SaveInput{Content: []byte(messyDoc)})
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	if payload["version"] != nil || payload["changed"] != true {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	stored, err := env.store.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if string(stored.Content) != canonicalMessyDoc {
		t.Fatalf("stored content = %s", stored.Content)
	}
	if stored.Title != "Quarterly plan" {
		t.Fatalf("title derived from first heading = %q", stored.Title)
	}
	if stored.BodyText != "Quarterly plan\na b" || stored.FormatterVersion != prosemirror.Version() || stored.UpdatedBy != "Avery Lee" {
		t.Fatalf("unexpected stored document: %+v", stored)
	}
	if stored.ContentHash != contentHash([]byte(canonicalMessyDoc)) {
		t.Fatalf("content hash mismatch: %s", stored.ContentHash)
	}
	if len(env.search.indexed) != 1 || env.search.indexed[0].Title != "Quarterly plan" {
		t.Fatalf("search index calls = %+v", env.search.indexed)
	}
	if history, err := env.git.History("doc-1", 10); !errors.Is(err, gitrepo.ErrRepoNotFound) {
		t.Fatalf("expected no git repo without snapshot, got %v %v", history, err)
	}
}

func TestSaveDocumentSnapshotCommitsAndRecordsVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i, summary := range []string{"first draft", ""} {
		payload, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{
			Title:         "Plan",
			Content:       []byte(messyDoc),
			Snapshot:      true,
			ChangeSummary: summary,
		})
		if err != nil {
			t.Fatalf("SaveDocument() #%d error = %v", i, err)
		}
		version, ok := payload["version"].(map[string]any)
		if !ok || version["versionNumber"] != i+1 {
			t.Fatalf("unexpected version payload: %+v", payload["version"])
		}
	}

	versions, err := env.service.ListVersions(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 2 || versions[0]["versionNumber"] != 2 {
		t.Fatalf("unexpected versions: %+v", versions)
	}
	commit, ok := versions[1]["commit"].(*gitrepo.CommitInfo)
	if !ok || commit.Author != "Avery Lee" || !strings.HasPrefix(commit.Message, "first draft") {
		t.Fatalf("version not joined with git commit: %+v", versions[1])
	}
	second, ok := versions[0]["commit"].(*gitrepo.CommitInfo)
	if !ok || !strings.HasPrefix(second.Message, "Snapshot") {
		t.Fatalf("default snapshot message missing: %+v", versions[0])
	}

	hash := versions[1]["commitHash"].(string)
	snapshot, err := env.service.GetVersion(ctx, "doc-1", hash)
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	encoded, err := json.Marshal(snapshot["content"])
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if string(encoded) != canonicalMessyDoc {
		t.Fatalf("snapshot content = %s", encoded)
	}

	diff, err := env.service.Compare(ctx, "doc-1", hash, versions[0]["commitHash"].(string))
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if diff.Changed {
		t.Fatalf("identical snapshots should not differ: %+v", diff)
	}
}

func TestSaveDocumentValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var domainErr *DomainError
	if _, err := env.service.SaveDocument(ctx, editor, "../etc", SaveInput{Content: []byte(`{"type":"doc"}`)}); !errors.As(err, &domainErr) || domainErr.Code != "INVALID_DOCUMENT_ID" {
		t.Fatalf("expected INVALID_DOCUMENT_ID, got %v", err)
	}
	if _, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Content: []byte("  ")}); !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if _, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Content: []byte(`{"type":"paragraph"}`)}); !errors.Is(err, prosemirror.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := env.store.GetDocument(ctx, "doc-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("invalid saves must not store anything, got %v", err)
	}
}

func TestSaveDocumentUntitled(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.service.SaveDocument(context.Background(), editor, "doc-1", SaveInput{Content: []byte(`{"type":"doc","content":[]}`)}); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	stored, _ := env.store.GetDocument(context.Background(), "doc-1")
	if stored.Title != untitled {
		t.Fatalf("title = %q, want %q", stored.Title, untitled)
	}
}

func TestListVersionsUnknownDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.service.ListVersions(context.Background(), "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("ListVersions() error = %v, want %v", err, sql.ErrNoRows)
	}
}

func TestLoadExportDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	payload, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Title: "Plan", Content: []byte(messyDoc), Snapshot: true})
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}

	latest, err := env.service.LoadExportDocument(ctx, "doc-1", "latest")
	if err != nil {
		t.Fatalf("LoadExportDocument(latest) error = %v", err)
	}
	if latest.Title != "Plan" || latest.Author != "Avery Lee" || len(latest.Doc.Content) != 2 {
		t.Fatalf("unexpected latest export document: %+v", latest)
	}

	hash := payload["version"].(map[string]any)["commitHash"].(string)
	atCommit, err := env.service.LoadExportDocument(ctx, "doc-1", hash)
	if err != nil {
		t.Fatalf("LoadExportDocument(hash) error = %v", err)
	}
	if atCommit.Version != hash[:7] || atCommit.Title != "Plan" {
		t.Fatalf("unexpected export document at commit: %+v", atCommit)
	}

	if _, err := env.service.LoadExportDocument(ctx, "missing", "latest"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestExportValidatesFormat(t *testing.T) {
	env := newTestEnv(t, nil)
	fake := &fakeExporter{result: &export.Result{Filename: "Plan.pdf"}}
	env.service.exporter = fake

	if _, err := env.service.Export(context.Background(), "doc-1", "odt", ""); !errors.Is(err, export.ErrUnsupportedFormat) {
		t.Fatalf("Export() error = %v, want %v", err, export.ErrUnsupportedFormat)
	}
	if _, err := env.service.Export(context.Background(), "doc-1", "PDF", " "); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if fake.request.Version != "latest" || fake.request.Format != export.FormatPDF {
		t.Fatalf("unexpected export request: %+v", fake.request)
	}
}

func TestSearchSkipsBlankQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.service.Search(context.Background(), "   ", 10, 0)
	if len(resp.Results) != 0 || len(env.search.queries) != 0 {
		t.Fatalf("blank query should not reach search backend: %+v", resp)
	}
	resp = env.service.Search(context.Background(), " plan ", 10, 0)
	if resp.Total != 1 || env.search.queries[0].Text != "plan" {
		t.Fatalf("unexpected search response: %+v", resp)
	}
}

func TestSessionFromToken(t *testing.T) {
	env := newTestEnv(t, nil)
	token := issueToken(t, "test-secret", "superuser")
	session, err := env.service.SessionFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if session.Role != rbac.RoleViewer || session.UserName != "Test User" || session.UserID != "user-superuser" {
		t.Fatalf("unknown roles should normalize to viewer: %+v", session)
	}
	if _, err := env.service.SessionFromToken(context.Background(), issueToken(t, "other-secret", "admin")); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		limit, offset, wantLimit, wantOffset int
	}{
		{0, 0, defaultPageSize, 0},
		{10, -1, 10, 0},
		{1000, 5, maxPageSize, 5},
	}
	for _, tt := range tests {
		limit, offset := page(tt.limit, tt.offset)
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Fatalf("page(%d, %d) = %d, %d", tt.limit, tt.offset, limit, offset)
		}
	}
}

func TestSnapshotsAreTaggedWithVersionNumber(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var hashes []string
	for i := 0; i < 2; i++ {
		payload, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Content: []byte(messyDoc), Snapshot: true})
		if err != nil {
			t.Fatalf("SaveDocument() #%d error = %v", i, err)
		}
		version := payload["version"].(map[string]any)
		if want := fmt.Sprintf("v%d", i+1); version["tag"] != want {
			t.Fatalf("version tag = %v, want %s", version["tag"], want)
		}
		hashes = append(hashes, version["commitHash"].(string))
	}

	repo, err := git.PlainOpen(filepath.Join(env.reposDir, "doc-1"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	for i, hash := range hashes {
		name := fmt.Sprintf("v%d", i+1)
		ref, err := repo.Tag(name)
		if err != nil {
			t.Fatalf("tag %s missing: %v", name, err)
		}
		tag, err := repo.TagObject(ref.Hash())
		if err != nil {
			t.Fatalf("tag object %s: %v", name, err)
		}
		if tag.Target.String() != hash {
			t.Fatalf("tag %s points at %s, want %s", name, tag.Target, hash)
		}
	}
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Content: []byte(messyDoc)}); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}

	if err := env.service.DeleteDocument(ctx, editor, "doc-1"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if len(env.search.deleted) != 1 || env.search.deleted[0] != "doc-1" {
		t.Fatalf("search de-index calls = %v", env.search.deleted)
	}
	if _, err := env.service.GetDocument(ctx, "doc-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetDocument(deleted) error = %v, want sql.ErrNoRows", err)
	}
	if items, _ := env.service.ListDocuments(ctx, 10, 0); len(items) != 0 {
		t.Fatalf("deleted document still listed: %+v", items)
	}
	if _, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Content: []byte(messyDoc)}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("saving a deleted document error = %v, want sql.ErrNoRows", err)
	}
	if err := env.service.DeleteDocument(ctx, editor, "doc-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second DeleteDocument() error = %v, want sql.ErrNoRows", err)
	}
	if len(env.search.deleted) != 1 {
		t.Fatalf("failed delete must not touch the index: %v", env.search.deleted)
	}
}

func TestRestoreVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Title: "Plan", Content: []byte(messyDoc), Snapshot: true})
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	firstHash := first["version"].(map[string]any)["commitHash"].(string)
	if _, err := env.service.SaveDocument(ctx, editor, "doc-1", SaveInput{Title: "Rewrite", Content: []byte(`{"type":"doc","content":[]}`), Snapshot: true}); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}

	restored, err := env.service.RestoreVersion(ctx, editor, "doc-1", firstHash)
	if err != nil {
		t.Fatalf("RestoreVersion() error = %v", err)
	}
	version := restored["version"].(map[string]any)
	if version["versionNumber"] != 3 || restored["restoredFrom"] != firstHash {
		t.Fatalf("unexpected restore payload: %+v", restored)
	}
	if !strings.HasPrefix(version["changeSummary"].(string), "Restored version "+firstHash[:7]) {
		t.Fatalf("change summary = %v", version["changeSummary"])
	}

	stored, err := env.store.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if string(stored.Content) != canonicalMessyDoc || stored.Title != "Plan" {
		t.Fatalf("restored document = %s %q", stored.Content, stored.Title)
	}

	var domainErr *DomainError
	if _, err := env.service.RestoreVersion(ctx, editor, "doc-1", " "); !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if _, err := env.service.RestoreVersion(ctx, editor, "doc-1", strings.Repeat("0", 40)); !errors.Is(err, gitrepo.ErrCommitNotFound) {
		t.Fatalf("expected ErrCommitNotFound, got %v", err)
	}
	if _, err := env.service.RestoreVersion(ctx, editor, "missing", firstHash); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

type pingArchive struct {
	err error
}

func (pingArchive) Put(context.Context, string, []byte, string) error { return nil }

func (pingArchive) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func (a pingArchive) Ping(context.Context) error { return a.err }

func TestReadinessChecksOptionalDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	env := newTestEnv(t, cache.NewRedisCacheWithClient(client, prosemirror.Version(), 64))
	env.service.archive = pingArchive{}

	ready, degraded, checks := env.service.Readiness(context.Background())
	if !ready || degraded {
		t.Fatalf("Readiness() = %v, %v, %+v", ready, degraded, checks)
	}
	for _, name := range []string{"database", "cache", "archive"} {
		if checks[name].Status != "ok" {
			t.Fatalf("check %s = %+v", name, checks[name])
		}
	}

	mr.Close()
	env.service.archive = pingArchive{err: errors.New("minio ping: bucket unreachable")}
	ready, degraded, checks = env.service.Readiness(context.Background())
	if !ready || !degraded {
		t.Fatalf("failing cache and archive should degrade only: %v, %v", ready, degraded)
	}
	if checks["cache"].Status != "error" || checks["archive"].Error != "minio ping: bucket unreachable" {
		t.Fatalf("unexpected checks: %+v", checks)
	}
}

func TestReadinessSkipsMissingDependencies(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _, checks := env.service.Readiness(context.Background())
	if len(checks) != 1 {
		t.Fatalf("only the database should be checked: %+v", checks)
	}
}
