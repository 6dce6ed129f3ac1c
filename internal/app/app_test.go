package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"memoria/api/internal/auth"
	"memoria/api/internal/config"
	"memoria/api/internal/search"
	"memoria/api/internal/snapshot"
	"memoria/api/internal/store"
)

// netOutage simulates an unreachable database.
type netOutage struct{}

func (netOutage) Error() string   { return "connection refused" }
func (netOutage) Timeout() bool   { return false }
func (netOutage) Temporary() bool { return true }

// fakeStore implements dataStore with overridable function fields. A call to
// a method whose field is unset panics, which is exactly what a test wants to
// hear about.
type fakeStore struct {
	listCountries func(ctx context.Context, lang string) ([]store.Country, error)
	getCountry    func(ctx context.Context, code, lang string) (store.Country, error)
	listSections  func(ctx context.Context, countryID int64) ([]store.Section, error)

	getDescription    func(ctx context.Context, countryID int64) (store.Description, error)
	upsertDescription func(ctx context.Context, countryID int64, desc store.Description) error

	listTimeline        func(ctx context.Context, countryID int64) ([]store.TimelineSummary, error)
	getTimelineEvent    func(ctx context.Context, countryID int64, eventID string) (store.TimelineEvent, error)
	insertTimelineEvent func(ctx context.Context, countryID int64, event store.TimelineEvent) error
	updateTimelineEvent func(ctx context.Context, countryID int64, eventID string, event store.TimelineEvent) error
	deleteTimelineEvent func(ctx context.Context, countryID int64, eventID string) error

	listFototeca       func(ctx context.Context, countryID int64) ([]store.FototecaItem, error)
	getFototecaItem    func(ctx context.Context, countryID int64, itemID string) (store.FototecaItem, error)
	insertFototecaItem func(ctx context.Context, countryID int64, item store.FototecaItem) error
	updateFototecaItem func(ctx context.Context, countryID int64, itemID string, item store.FototecaItem) error
	deleteFototecaItem func(ctx context.Context, countryID int64, itemID string) error

	listProfiles    func(ctx context.Context, kind store.ProfileKind, countryID int64) ([]store.ProfileSummary, error)
	getProfile      func(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string) (store.Profile, error)
	getProfileEntry func(ctx context.Context, kind store.ProfileKind, countryID int64, profileID, entryID string) (store.ProfileEntry, error)
	insertProfile   func(ctx context.Context, kind store.ProfileKind, countryID int64, profile store.Profile) error
	updateProfile   func(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string, profile store.Profile) error
	deleteProfile   func(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string) error

	listArticles  func(ctx context.Context, lang string) ([]store.ArticleSummary, error)
	getArticle    func(ctx context.Context, articleID, lang string) (store.Article, error)
	insertArticle func(ctx context.Context, article store.Article) error
	updateArticle func(ctx context.Context, articleID string, article store.Article) error
	deleteArticle func(ctx context.Context, articleID, lang string) error

	listTerms                 func(ctx context.Context, lang string) ([]store.Term, error)
	listTermsByCategoryLetter func(ctx context.Context, lang, category, letter string) ([]store.Term, error)
	listTermHeadings          func(ctx context.Context, lang string) ([]store.TermHeading, error)
	getTerm                   func(ctx context.Context, termID, lang string) (store.Term, error)
	insertTerm                func(ctx context.Context, term store.Term) error
	updateTerm                func(ctx context.Context, termID string, term store.Term) error
	deleteTerm                func(ctx context.Context, termID, lang string) error

	stageChange        func(ctx context.Context, change store.PendingChange) error
	listPendingChanges func(ctx context.Context) ([]store.PendingChange, error)
	setChangeStatus    func(ctx context.Context, changeID, status string) (string, error)

	getUserByUsername  func(ctx context.Context, username string) (store.User, error)
	getUserByID        func(ctx context.Context, userID string) (store.User, error)
	listUsers          func(ctx context.Context) ([]store.User, error)
	createUser         func(ctx context.Context, user store.User) error
	updateUser         func(ctx context.Context, userID string, user store.User) error
	updateUserPassword func(ctx context.Context, userID, passwordHash string, mustChange bool) error
	deleteUser         func(ctx context.Context, userID string) error

	ping func(ctx context.Context) error
}

func (f *fakeStore) ListCountries(ctx context.Context, lang string) ([]store.Country, error) {
	return f.listCountries(ctx, lang)
}
func (f *fakeStore) GetCountry(ctx context.Context, code, lang string) (store.Country, error) {
	return f.getCountry(ctx, code, lang)
}
func (f *fakeStore) ListSections(ctx context.Context, countryID int64) ([]store.Section, error) {
	return f.listSections(ctx, countryID)
}
func (f *fakeStore) GetDescription(ctx context.Context, countryID int64) (store.Description, error) {
	return f.getDescription(ctx, countryID)
}
func (f *fakeStore) UpsertDescription(ctx context.Context, countryID int64, desc store.Description) error {
	return f.upsertDescription(ctx, countryID, desc)
}
func (f *fakeStore) ListTimeline(ctx context.Context, countryID int64) ([]store.TimelineSummary, error) {
	return f.listTimeline(ctx, countryID)
}
func (f *fakeStore) GetTimelineEvent(ctx context.Context, countryID int64, eventID string) (store.TimelineEvent, error) {
	return f.getTimelineEvent(ctx, countryID, eventID)
}
func (f *fakeStore) InsertTimelineEvent(ctx context.Context, countryID int64, event store.TimelineEvent) error {
	return f.insertTimelineEvent(ctx, countryID, event)
}
func (f *fakeStore) UpdateTimelineEvent(ctx context.Context, countryID int64, eventID string, event store.TimelineEvent) error {
	return f.updateTimelineEvent(ctx, countryID, eventID, event)
}
func (f *fakeStore) DeleteTimelineEvent(ctx context.Context, countryID int64, eventID string) error {
	return f.deleteTimelineEvent(ctx, countryID, eventID)
}
func (f *fakeStore) ListFototeca(ctx context.Context, countryID int64) ([]store.FototecaItem, error) {
	return f.listFototeca(ctx, countryID)
}
func (f *fakeStore) GetFototecaItem(ctx context.Context, countryID int64, itemID string) (store.FototecaItem, error) {
	return f.getFototecaItem(ctx, countryID, itemID)
}
func (f *fakeStore) InsertFototecaItem(ctx context.Context, countryID int64, item store.FototecaItem) error {
	return f.insertFototecaItem(ctx, countryID, item)
}
func (f *fakeStore) UpdateFototecaItem(ctx context.Context, countryID int64, itemID string, item store.FototecaItem) error {
	return f.updateFototecaItem(ctx, countryID, itemID, item)
}
func (f *fakeStore) DeleteFototecaItem(ctx context.Context, countryID int64, itemID string) error {
	return f.deleteFototecaItem(ctx, countryID, itemID)
}
func (f *fakeStore) ListProfiles(ctx context.Context, kind store.ProfileKind, countryID int64) ([]store.ProfileSummary, error) {
	return f.listProfiles(ctx, kind, countryID)
}
func (f *fakeStore) GetProfile(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string) (store.Profile, error) {
	return f.getProfile(ctx, kind, countryID, profileID)
}
func (f *fakeStore) GetProfileEntry(ctx context.Context, kind store.ProfileKind, countryID int64, profileID, entryID string) (store.ProfileEntry, error) {
	return f.getProfileEntry(ctx, kind, countryID, profileID, entryID)
}
func (f *fakeStore) InsertProfile(ctx context.Context, kind store.ProfileKind, countryID int64, profile store.Profile) error {
	return f.insertProfile(ctx, kind, countryID, profile)
}
func (f *fakeStore) UpdateProfile(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string, profile store.Profile) error {
	return f.updateProfile(ctx, kind, countryID, profileID, profile)
}
func (f *fakeStore) DeleteProfile(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string) error {
	return f.deleteProfile(ctx, kind, countryID, profileID)
}
func (f *fakeStore) ListArticles(ctx context.Context, lang string) ([]store.ArticleSummary, error) {
	return f.listArticles(ctx, lang)
}
func (f *fakeStore) GetArticle(ctx context.Context, articleID, lang string) (store.Article, error) {
	return f.getArticle(ctx, articleID, lang)
}
func (f *fakeStore) InsertArticle(ctx context.Context, article store.Article) error {
	return f.insertArticle(ctx, article)
}
func (f *fakeStore) UpdateArticle(ctx context.Context, articleID string, article store.Article) error {
	return f.updateArticle(ctx, articleID, article)
}
func (f *fakeStore) DeleteArticle(ctx context.Context, articleID, lang string) error {
	return f.deleteArticle(ctx, articleID, lang)
}
func (f *fakeStore) ListTerms(ctx context.Context, lang string) ([]store.Term, error) {
	return f.listTerms(ctx, lang)
}
func (f *fakeStore) ListTermsByCategoryLetter(ctx context.Context, lang, category, letter string) ([]store.Term, error) {
	return f.listTermsByCategoryLetter(ctx, lang, category, letter)
}
func (f *fakeStore) ListTermHeadings(ctx context.Context, lang string) ([]store.TermHeading, error) {
	return f.listTermHeadings(ctx, lang)
}
func (f *fakeStore) GetTerm(ctx context.Context, termID, lang string) (store.Term, error) {
	return f.getTerm(ctx, termID, lang)
}
func (f *fakeStore) InsertTerm(ctx context.Context, term store.Term) error {
	return f.insertTerm(ctx, term)
}
func (f *fakeStore) UpdateTerm(ctx context.Context, termID string, term store.Term) error {
	return f.updateTerm(ctx, termID, term)
}
func (f *fakeStore) DeleteTerm(ctx context.Context, termID, lang string) error {
	return f.deleteTerm(ctx, termID, lang)
}
func (f *fakeStore) StageChange(ctx context.Context, change store.PendingChange) error {
	return f.stageChange(ctx, change)
}
func (f *fakeStore) ListPendingChanges(ctx context.Context) ([]store.PendingChange, error) {
	return f.listPendingChanges(ctx)
}
func (f *fakeStore) SetChangeStatus(ctx context.Context, changeID, status string) (string, error) {
	return f.setChangeStatus(ctx, changeID, status)
}
func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	return f.getUserByUsername(ctx, username)
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	return f.getUserByID(ctx, userID)
}
func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	return f.listUsers(ctx)
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	return f.createUser(ctx, user)
}
func (f *fakeStore) UpdateUser(ctx context.Context, userID string, user store.User) error {
	return f.updateUser(ctx, userID, user)
}
func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string, mustChange bool) error {
	return f.updateUserPassword(ctx, userID, passwordHash, mustChange)
}
func (f *fakeStore) DeleteUser(ctx context.Context, userID string) error {
	return f.deleteUser(ctx, userID)
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.ping != nil {
		return f.ping(ctx)
	}
	return nil
}

// memSessions is an in-memory refresh-session store.
type memSessions struct {
	byHash map[string]string
}

func newMemSessions() *memSessions {
	return &memSessions{byHash: make(map[string]string)}
}

func (m *memSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.byHash[tokenHash] = userID
	return nil
}

func (m *memSessions) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	userID, ok := m.byHash[tokenHash]
	if !ok {
		return "", store.ErrNotFound
	}
	return userID, nil
}

func (m *memSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(m.byHash, tokenHash)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:   "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
		DefaultLang: "es",
		CORSOrigin:  "*",
	}
}

func newTestServer(t *testing.T, fake *fakeStore) (http.Handler, *Service) {
	t.Helper()
	cfg := testConfig()
	snap := snapshot.New(t.TempDir())
	svc := New(cfg, fake, snap, newMemSessions(), search.NewService(nil, search.NewPgFTS(nil)), nil)
	return NewHTTPServer(svc, cfg.CORSOrigin), svc
}

func newTestServerWithSnapshot(t *testing.T, fake *fakeStore, files map[string]string) http.Handler {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := testConfig()
	svc := New(cfg, fake, snapshot.New(root), newMemSessions(), search.NewService(nil, search.NewPgFTS(nil)), nil)
	return NewHTTPServer(svc, cfg.CORSOrigin)
}

func issueTestToken(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Role: role,
		JTI:  "test-jti",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func editorUser(countries []string, requiresApproval bool) store.User {
	return store.User{
		ID:        "u-editor",
		Username:  "editor",
		Role:      "editor",
		Name:      "Editor",
		Countries: countries,
		Permissions: store.Capabilities{
			CanCreate:        true,
			CanEdit:          true,
			CanDelete:        true,
			RequiresApproval: requiresApproval,
		},
	}
}

func adminUser() store.User {
	return store.User{
		ID:        "u-admin",
		Username:  "admin",
		Role:      "admin",
		Name:      "Admin",
		Countries: []string{"all"},
		Permissions: store.Capabilities{
			CanCreate: true, CanEdit: true, CanDelete: true,
		},
	}
}

func userLookup(users ...store.User) func(ctx context.Context, userID string) (store.User, error) {
	return func(_ context.Context, userID string) (store.User, error) {
		for _, u := range users {
			if u.ID == userID {
				return u, nil
			}
		}
		return store.User{}, store.ErrNotFound
	}
}

func do(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	handler, _ := newTestServer(t, &fakeStore{})
	rec := do(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeResponse(t, rec); body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestTimelineEmptyListIsNotAnError(t *testing.T) {
	fake := &fakeStore{
		getCountry: func(_ context.Context, code, lang string) (store.Country, error) {
			return store.Country{ID: 1, Code: code, Name: "Palestina"}, nil
		},
		listTimeline: func(context.Context, int64) ([]store.TimelineSummary, error) {
			return []store.TimelineSummary{}, nil
		},
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodGet, "/api/countries/palestine/timeline", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeResponse(t, rec)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 0 {
		t.Fatalf("items = %v, want empty list", body["items"])
	}
}

func TestUnknownCountryIs404(t *testing.T) {
	fake := &fakeStore{
		getCountry: func(context.Context, string, string) (store.Country, error) {
			return store.Country{}, store.ErrNotFound
		},
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodGet, "/api/countries/atlantis/timeline", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTimelineFallsBackToSnapshotDuringOutage(t *testing.T) {
	fake := &fakeStore{
		getCountry: func(context.Context, string, string) (store.Country, error) {
			return store.Country{}, netOutage{}
		},
	}
	handler := newTestServerWithSnapshot(t, fake, map[string]string{
		"es/palestine/timeline/timeline.index.json": `{"items":[{"id":"e1","title":"Nakba","year":1948}]}`,
	})

	rec := do(t, handler, http.MethodGet, "/api/countries/palestine/timeline", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	items := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v, want one snapshot event", items)
	}
}

func TestOutageWithoutSnapshotIs404(t *testing.T) {
	fake := &fakeStore{
		getCountry: func(context.Context, string, string) (store.Country, error) {
			return store.Country{}, netOutage{}
		},
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodGet, "/api/countries/palestine/timeline", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMetaInjectsVelumSection(t *testing.T) {
	fake := &fakeStore{
		getCountry: func(_ context.Context, code, _ string) (store.Country, error) {
			return store.Country{ID: 1, Code: code, Name: "Palestina"}, nil
		},
		listSections: func(context.Context, int64) ([]store.Section, error) {
			return []store.Section{{ID: "timeline", Label: "Cronología"}}, nil
		},
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodGet, "/api/countries/palestine/meta", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeResponse(t, rec)
	sections := body["sections"].([]any)
	last := sections[len(sections)-1].(map[string]any)
	if last["id"] != "velum" {
		t.Fatalf("sections = %v, want velum appended", sections)
	}
}

func TestEditorStagedWriteDoesNotTouchContent(t *testing.T) {
	var staged *store.PendingChange
	fake := &fakeStore{
		getCountry: func(_ context.Context, code, _ string) (store.Country, error) {
			return store.Country{ID: 1, Code: code}, nil
		},
		stageChange: func(_ context.Context, change store.PendingChange) error {
			staged = &change
			return nil
		},
		getUserByID: userLookup(editorUser([]string{"palestine"}, true)),
	}
	handler, _ := newTestServer(t, fake)
	token := issueTestToken(t, "u-editor", "editor")

	rec := do(t, handler, http.MethodPost, "/api/cms/countries/palestine/timeline", token, map[string]any{
		"title": "Evento", "date": "2024-01-01",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	if body["pending"] != true {
		t.Fatalf("body = %v, want pending true", body)
	}
	if staged == nil {
		t.Fatal("no change staged")
	}
	if staged.Section != "timeline" || staged.CountryCode != "palestine" || staged.Type != "create" {
		t.Fatalf("staged envelope = %+v", staged)
	}
	if staged.AuthorID != "u-editor" {
		t.Fatalf("author = %s, want u-editor", staged.AuthorID)
	}
	if staged.ChangeID == "" {
		t.Fatal("staged change has no id")
	}
}

func TestEditorDeniedOutsideGrantedCountry(t *testing.T) {
	fake := &fakeStore{
		getCountry: func(_ context.Context, code, _ string) (store.Country, error) {
			return store.Country{ID: 2, Code: code}, nil
		},
		getUserByID: userLookup(editorUser([]string{"palestine"}, false)),
	}
	handler, _ := newTestServer(t, fake)
	token := issueTestToken(t, "u-editor", "editor")

	rec := do(t, handler, http.MethodPost, "/api/cms/countries/syria/timeline", token, map[string]any{
		"title": "Evento", "date": "2024-01-01",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAdminDirectWrite(t *testing.T) {
	var inserted *store.TimelineEvent
	fake := &fakeStore{
		getCountry: func(_ context.Context, code, _ string) (store.Country, error) {
			return store.Country{ID: 1, Code: code}, nil
		},
		insertTimelineEvent: func(_ context.Context, _ int64, event store.TimelineEvent) error {
			inserted = &event
			return nil
		},
		getUserByID: userLookup(adminUser()),
	}
	handler, _ := newTestServer(t, fake)
	token := issueTestToken(t, "u-admin", "admin")

	rec := do(t, handler, http.MethodPost, "/api/cms/countries/palestine/timeline", token, map[string]any{
		"title": "Evento", "date": "2024-01-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if inserted == nil {
		t.Fatal("event not inserted")
	}
	if inserted.ID == "" {
		t.Fatal("inserted event has no generated id")
	}
	body := decodeResponse(t, rec)
	if body["item"] == nil {
		t.Fatalf("body = %v, want created item echoed", body)
	}
}

func TestCreateValidationNamesMissingFields(t *testing.T) {
	fake := &fakeStore{
		getUserByID: userLookup(adminUser()),
	}
	handler, _ := newTestServer(t, fake)
	token := issueTestToken(t, "u-admin", "admin")

	rec := do(t, handler, http.MethodPost, "/api/cms/countries/palestine/timeline", token, map[string]any{
		"summary": "sin título",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestModerationQueueAdminOnly(t *testing.T) {
	fake := &fakeStore{
		listPendingChanges: func(context.Context) ([]store.PendingChange, error) {
			return []store.PendingChange{{ChangeID: "c1", Section: "timeline", Status: store.ChangePending}}, nil
		},
		getUserByID: userLookup(adminUser(), editorUser([]string{"palestine"}, true)),
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodGet, "/api/cms/pending", issueTestToken(t, "u-editor", "editor"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("editor list status = %d, want 403", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/cms/pending", issueTestToken(t, "u-admin", "admin"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list status = %d, want 200", rec.Code)
	}
	body := decodeResponse(t, rec)
	changes := body["changes"].([]any)
	if len(changes) != 1 {
		t.Fatalf("changes = %v, want one", changes)
	}
}

func TestApproveRecordsDecisionOnly(t *testing.T) {
	var gotStatus string
	insertCalled := false
	fake := &fakeStore{
		setChangeStatus: func(_ context.Context, changeID, status string) (string, error) {
			gotStatus = status
			return status, nil
		},
		insertTimelineEvent: func(context.Context, int64, store.TimelineEvent) error {
			insertCalled = true
			return nil
		},
		getUserByID: userLookup(adminUser()),
	}
	handler, _ := newTestServer(t, fake)
	token := issueTestToken(t, "u-admin", "admin")

	rec := do(t, handler, http.MethodPost, "/api/cms/pending/c1/approve", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if gotStatus != store.ChangeApproved {
		t.Fatalf("status set = %q, want approved", gotStatus)
	}
	if insertCalled {
		t.Fatal("approval must not replay the payload into content tables")
	}
}

func TestApproveUnknownChangeIs404(t *testing.T) {
	fake := &fakeStore{
		setChangeStatus: func(context.Context, string, string) (string, error) {
			return "", store.ErrNotFound
		},
		getUserByID: userLookup(adminUser()),
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodPost, "/api/cms/pending/missing/approve", issueTestToken(t, "u-admin", "admin"), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLoginRefreshAndMe(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	account := adminUser()
	account.PasswordHash = string(hash)

	fake := &fakeStore{
		getUserByUsername: func(_ context.Context, username string) (store.User, error) {
			if username == "admin" {
				return account, nil
			}
			return store.User{}, store.ErrNotFound
		},
		getUserByID: userLookup(account),
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username": "admin", "password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	session := decodeResponse(t, rec)
	token, _ := session["token"].(string)
	refresh, _ := session["refreshToken"].(string)
	if token == "" || refresh == "" {
		t.Fatalf("session = %v, want token and refreshToken", session)
	}
	if user := session["user"].(map[string]any); user["passwordHash"] != nil {
		t.Fatal("password hash leaked in session payload")
	}

	rec = do(t, handler, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Rotation: the old refresh token must be dead after use.
	rec = do(t, handler, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": refresh})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh status = %d, want 401", rec.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	account := adminUser()
	account.PasswordHash = string(hash)

	fake := &fakeStore{
		getUserByUsername: func(context.Context, string) (store.User, error) {
			return account, nil
		},
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username": "admin", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCMSRequiresToken(t *testing.T) {
	handler, _ := newTestServer(t, &fakeStore{})
	rec := do(t, handler, http.MethodGet, "/api/cms/pending", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestUserManagementAdminOnly(t *testing.T) {
	fake := &fakeStore{
		getUserByID: userLookup(editorUser([]string{"all"}, false)),
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodGet, "/api/cms/users", issueTestToken(t, "u-editor", "editor"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestGrantChangesBiteOnNextRequest(t *testing.T) {
	// The same token is presented twice; between the calls the account loses
	// its create grant. The second call must be denied.
	current := editorUser([]string{"palestine"}, false)
	fake := &fakeStore{
		getCountry: func(_ context.Context, code, _ string) (store.Country, error) {
			return store.Country{ID: 1, Code: code}, nil
		},
		insertTimelineEvent: func(context.Context, int64, store.TimelineEvent) error { return nil },
		getUserByID: func(context.Context, string) (store.User, error) {
			return current, nil
		},
	}
	handler, _ := newTestServer(t, fake)
	token := issueTestToken(t, "u-editor", "editor")
	body := map[string]any{"title": "Evento", "date": "2024-01-01"}

	rec := do(t, handler, http.MethodPost, "/api/cms/countries/palestine/timeline", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first write status = %d, want 201", rec.Code)
	}

	current.Permissions.CanCreate = false
	rec = do(t, handler, http.MethodPost, "/api/cms/countries/palestine/timeline", token, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("second write status = %d, want 403", rec.Code)
	}
}

func TestAccountPasswordResetKeepsGrants(t *testing.T) {
	target := editorUser([]string{"palestine"}, true)
	var updated *store.User
	passwordReset := false
	fake := &fakeStore{
		getUserByID: userLookup(adminUser(), target),
		updateUser: func(_ context.Context, _ string, user store.User) error {
			updated = &user
			return nil
		},
		updateUserPassword: func(_ context.Context, _, _ string, mustChange bool) error {
			passwordReset = true
			if !mustChange {
				t.Error("admin reset must flag the account to change its password")
			}
			return nil
		},
	}
	handler, _ := newTestServer(t, fake)
	token := issueTestToken(t, "u-admin", "admin")

	rec := do(t, handler, http.MethodPut, "/api/cms/users/u-editor", token, map[string]any{
		"password": "new-password-123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !passwordReset {
		t.Fatal("password was not reset")
	}
	if updated == nil {
		t.Fatal("account not updated")
	}
	if updated.Permissions != target.Permissions {
		t.Fatalf("permissions = %+v, want untouched %+v", updated.Permissions, target.Permissions)
	}
	if len(updated.Countries) != 1 || updated.Countries[0] != "palestine" {
		t.Fatalf("countries = %v, want untouched", updated.Countries)
	}

	// An explicit permissions object still replaces the grants.
	rec = do(t, handler, http.MethodPut, "/api/cms/users/u-editor", token, map[string]any{
		"permissions": map[string]any{"canCreate": true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	want := store.Capabilities{CanCreate: true}
	if updated.Permissions != want {
		t.Fatalf("permissions = %+v, want %+v", updated.Permissions, want)
	}
}

func TestEditableCountriesFilteredByGrants(t *testing.T) {
	fake := &fakeStore{
		listCountries: func(context.Context, string) ([]store.Country, error) {
			return []store.Country{
				{Code: "palestine", Name: "Palestina"},
				{Code: "syria", Name: "Siria"},
				{Code: "yemen", Name: "Yemen"},
			}, nil
		},
		getUserByID: userLookup(editorUser([]string{"palestine", "yemen"}, false), adminUser()),
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodGet, "/api/cms/countries", issueTestToken(t, "u-editor", "editor"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeResponse(t, rec)
	countries := body["countries"].([]any)
	if len(countries) != 2 {
		t.Fatalf("countries = %v, want the two granted", countries)
	}

	rec = do(t, handler, http.MethodGet, "/api/cms/countries", issueTestToken(t, "u-admin", "admin"), nil)
	body = decodeResponse(t, rec)
	if len(body["countries"].([]any)) != 3 {
		t.Fatalf("admin countries = %v, want all", body["countries"])
	}
}

func TestTerminologyIndexShape(t *testing.T) {
	fake := &fakeStore{
		listTermHeadings: func(context.Context, string) ([]store.TermHeading, error) {
			return []store.TermHeading{
				{Term: "Nakba", Category: "evento"},
				{Term: "intifada", Category: "evento"},
				{Term: "Águila", Category: "evento"}, // non a-z initial, skipped
				{Term: "Hamas", Category: "organizacion"},
			}, nil
		},
	}
	handler, _ := newTestServer(t, fake)

	rec := do(t, handler, http.MethodGet, "/api/terminology/index", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeResponse(t, rec)
	categories := body["categories"].([]any)
	if len(categories) != 2 {
		t.Fatalf("categories = %v, want organizaciones and eventos", categories)
	}
	for _, raw := range categories {
		cat := raw.(map[string]any)
		switch cat["id"] {
		case "eventos":
			letters := cat["letters"].([]any)
			if len(letters) != 2 || letters[0] != "i" || letters[1] != "n" {
				t.Fatalf("eventos letters = %v, want [i n]", letters)
			}
		case "organizaciones":
		default:
			t.Fatalf("unexpected category %v", cat["id"])
		}
	}
}
