package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sydlexius/smack/internal/connection"
	"github.com/sydlexius/smack/internal/connection/jellyfin"
	"github.com/sydlexius/smack/internal/database"
	"github.com/sydlexius/smack/internal/encryption"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *connection.Service {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	enc, _, err := encryption.NewEncryptor("")
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}
	return connection.NewService(db, enc)
}

// fakeRemote serves canned responses for the two remote list endpoints.
type fakeRemote struct {
	*httptest.Server
	status int
	calls  atomic.Int32
	last   atomic.Pointer[http.Request]
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{status: http.StatusOK}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.last.Store(r)
		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			return
		}
		switch r.URL.Path {
		case "/jf/Users/Me/Views":
			w.Write([]byte(`{"Items":[{"Id":"lib1","Name":"Movies"},{"Name":"NoId"},{"Id":"lib2","Name":"TV Shows"}]}`)) //nolint:errcheck
		case "/jf/Users/Me/Items":
			w.Write([]byte(`{"Items":[{"Id":"f1","Name":"Season 1","ParentId":"lib2","Type":"Season","IsFolder":true},{"Id":"e1","Name":"Pilot","Type":"Episode"}]}`)) //nolint:errcheck
		case "/jf/broken/Users/Me/Views":
			w.Write([]byte(`{"Items":[`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestRouter(store ServerStore, remote *fakeRemote) *Router {
	deps := RouterDeps{Servers: store, Logger: testLogger()}
	if remote != nil {
		deps.Remote = jellyfin.NewWithHTTPClient(remote.Client(), testLogger())
	}
	return NewRouter(deps)
}

func addServer(t *testing.T, store *connection.Service, srv connection.Server) string {
	t.Helper()
	if err := store.Create(context.Background(), &srv); err != nil {
		t.Fatalf("creating server: %v", err)
	}
	return srv.ID
}

func serve(r *Router, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body["error"]
}

func TestListServers_OmitsAPIKey(t *testing.T) {
	store := testStore(t)
	id := addServer(t, store, connection.Server{Name: "Home", ServerURL: "https://jf.example.com", APIKey: "secret", RemoteUserID: "u1"})
	addServer(t, store, connection.Server{Name: "Attic"})

	w := serve(newTestRouter(store, nil), "/Smack/Servers")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") || strings.Contains(strings.ToLower(w.Body.String()), "apikey") {
		t.Fatalf("api key leaked: %s", w.Body.String())
	}

	var got []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Ordered by name.
	if got[0]["name"] != "Attic" || got[0]["configured"] != false {
		t.Errorf("got[0] = %v", got[0])
	}
	if got[1]["id"] != id || got[1]["serverUrl"] != "https://jf.example.com" || got[1]["remoteUserId"] != "u1" || got[1]["configured"] != true {
		t.Errorf("got[1] = %v", got[1])
	}
}

func TestListServers_Empty(t *testing.T) {
	for name, store := range map[string]ServerStore{
		"empty store": testStore(t),
		"no store":    nil,
	} {
		t.Run(name, func(t *testing.T) {
			w := serve(newTestRouter(store, nil), "/Smack/Servers")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if strings.TrimSpace(w.Body.String()) != "[]" {
				t.Errorf("body = %q, want []", w.Body.String())
			}
		})
	}
}

func TestListLibraries(t *testing.T) {
	store := testStore(t)
	remote := newFakeRemote(t)
	id := addServer(t, store, connection.Server{Name: "Home", ServerURL: remote.URL + "/jf", APIKey: "ABC123"})

	// Lookup is case-insensitive.
	w := serve(newTestRouter(store, remote), "/Smack/Libraries/"+strings.ToUpper(id))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var libs []jellyfin.LibraryView
	if err := json.Unmarshal(w.Body.Bytes(), &libs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	want := []jellyfin.LibraryView{{ID: "lib1", Name: "Movies"}, {ID: "lib2", Name: "TV Shows"}}
	if len(libs) != len(want) || libs[0] != want[0] || libs[1] != want[1] {
		t.Errorf("libraries = %+v, want %+v", libs, want)
	}
	if got := remote.last.Load().URL.Query().Get("api_key"); got != "ABC123" {
		t.Errorf("api_key = %q, want ABC123", got)
	}
}

func TestListItems(t *testing.T) {
	store := testStore(t)
	remote := newFakeRemote(t)
	id := addServer(t, store, connection.Server{Name: "Home", ServerURL: remote.URL + "/jf/", APIKey: "ABC123"})

	w := serve(newTestRouter(store, remote), "/Smack/Items/"+id+"/lib2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var items []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0]["id"] != "f1" || items[0]["parentId"] != "lib2" || items[0]["type"] != "Season" || items[0]["isFolder"] != true {
		t.Errorf("items[0] = %v", items[0])
	}
	if items[1]["isFolder"] != false || items[1]["parentId"] != "" {
		t.Errorf("items[1] = %v", items[1])
	}

	q := remote.last.Load().URL.Query()
	if q.Get("ParentId") != "lib2" || q.Get("Fields") != "BasicSyncInfo" {
		t.Errorf("query = %v", q)
	}
}

func TestStream(t *testing.T) {
	store := testStore(t)
	id := addServer(t, store, connection.Server{Name: "Home", ServerURL: "https://remote.example.com/jellyfin", APIKey: "ABC123"})

	w := serve(newTestRouter(store, nil), "/Smack/Stream/"+id+"/item-42")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var got streamResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	want := streamResponse{
		StreamURL:  "https://remote.example.com/jellyfin/Items/item-42/Download?api_key=ABC123",
		ServerName: "Home",
		ItemID:     "item-42",
		Protocol:   "File",
		MediaType:  "Video",
		Name:       "Remote: Home",
	}
	if got != want {
		t.Errorf("stream = %+v, want %+v", got, want)
	}
}

func TestStream_EncodesItemID(t *testing.T) {
	store := testStore(t)
	id := addServer(t, store, connection.Server{Name: "Home", ServerURL: "https://remote.example.com", APIKey: "k"})

	w := serve(newTestRouter(store, nil), "/Smack/Stream/"+id+"/item%26special")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "item%26special") {
		t.Errorf("expected encoded id in %s", w.Body.String())
	}
}

func TestStream_BlankItemID(t *testing.T) {
	store := testStore(t)
	id := addServer(t, store, connection.Server{Name: "Home", ServerURL: "https://remote.example.com", APIKey: "k"})

	w := serve(newTestRouter(store, nil), "/Smack/Stream/"+id+"/%20")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := decodeError(t, w); got != msgNoStreamURL {
		t.Errorf("error = %q", got)
	}
}

type staticStore struct {
	servers []connection.Server
	err     error
}

func (s staticStore) List(context.Context) ([]connection.Server, error) {
	return s.servers, s.err
}

func (s staticStore) GetByID(_ context.Context, id string) (*connection.Server, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i := range s.servers {
		if strings.EqualFold(s.servers[i].ID, id) {
			return &s.servers[i], nil
		}
	}
	return nil, connection.ErrNotFound
}

func TestStream_UnnamedServer(t *testing.T) {
	store := staticStore{servers: []connection.Server{{ID: "abc", ServerURL: "https://remote.example.com", APIKey: "k"}}}

	w := serve(newTestRouter(store, nil), "/Smack/Stream/ABC/item")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got streamResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Name != "Remote: Server" || got.ServerName != "" {
		t.Errorf("stream = %+v", got)
	}
}

func TestRemoteEndpoints_ErrorMapping(t *testing.T) {
	store := testStore(t)
	remote := newFakeRemote(t)
	good := addServer(t, store, connection.Server{Name: "Good", ServerURL: remote.URL + "/jf", APIKey: "k"})
	noKey := addServer(t, store, connection.Server{Name: "NoKey", ServerURL: remote.URL + "/jf"})
	badURL := addServer(t, store, connection.Server{Name: "BadURL", ServerURL: "not-a-url", APIKey: "k"})
	broken := addServer(t, store, connection.Server{Name: "Broken", ServerURL: remote.URL + "/jf/broken", APIKey: "k"})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantError  string
	}{
		{"unknown server", "/Smack/Libraries/nope", http.StatusNotFound, msgServerNotFound},
		{"unknown server items", "/Smack/Items/nope/p", http.StatusNotFound, msgServerNotFound},
		{"unknown server stream", "/Smack/Stream/nope/i", http.StatusNotFound, msgServerNotFound},
		{"unconfigured libraries", "/Smack/Libraries/" + noKey, http.StatusBadRequest, msgNotConfigured},
		{"unconfigured items", "/Smack/Items/" + noKey + "/p", http.StatusBadRequest, msgNotConfigured},
		{"unconfigured stream", "/Smack/Stream/" + noKey + "/i", http.StatusBadRequest, msgNotConfigured},
		{"invalid url", "/Smack/Libraries/" + badURL, http.StatusBadRequest, ""},
		{"invalid url stream", "/Smack/Stream/" + badURL + "/i", http.StatusBadRequest, ""},
		{"malformed body", "/Smack/Libraries/" + broken, http.StatusInternalServerError, "internal error"},
		{"configured server", "/Smack/Items/" + good + "/lib2", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := remote.calls.Load()
			w := serve(newTestRouter(store, remote), tt.path)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantError != "" {
				if got := decodeError(t, w); got != tt.wantError {
					t.Errorf("error = %q, want %q", got, tt.wantError)
				}
			}
			if tt.wantStatus == http.StatusBadRequest && remote.calls.Load() != before {
				t.Error("expected no remote request")
			}
		})
	}
}

func TestRemoteEndpoints_RemoteHTTPError(t *testing.T) {
	store := testStore(t)
	remote := newFakeRemote(t)
	remote.status = http.StatusUnauthorized
	id := addServer(t, store, connection.Server{Name: "Home", ServerURL: remote.URL + "/jf", APIKey: "wrong"})

	for _, path := range []string{"/Smack/Libraries/" + id, "/Smack/Items/" + id + "/lib1"} {
		w := serve(newTestRouter(store, remote), path)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("%s: status = %d, want 502", path, w.Code)
		}
		msg := decodeError(t, w)
		if !strings.HasPrefix(msg, "Remote server error: ") || !strings.Contains(msg, "401") {
			t.Errorf("%s: error = %q", path, msg)
		}
	}
}

func TestRemoteEndpoints_TransportError(t *testing.T) {
	remote := newFakeRemote(t)
	target := remote.URL
	remote.Close()

	store := testStore(t)
	id := addServer(t, store, connection.Server{Name: "Gone", ServerURL: target, APIKey: "secret-key"})

	w := serve(newTestRouter(store, remote), "/Smack/Libraries/"+id)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	msg := decodeError(t, w)
	if !strings.HasPrefix(msg, "Remote server error: ") {
		t.Errorf("error = %q", msg)
	}
	if strings.Contains(msg, "secret-key") {
		t.Errorf("api key leaked in %q", msg)
	}
}

func TestRemoteEndpoints_NoStore(t *testing.T) {
	r := newTestRouter(nil, nil)
	for _, path := range []string{"/Smack/Libraries/a", "/Smack/Items/a/b", "/Smack/Stream/a/b"} {
		w := serve(r, path)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", path, w.Code)
		}
		if got := decodeError(t, w); got != msgNoConfiguration {
			t.Errorf("%s: error = %q", path, got)
		}
	}
}

func TestRemoteEndpoints_StoreFailure(t *testing.T) {
	r := newTestRouter(staticStore{err: errors.New("disk on fire")}, nil)
	for _, path := range []string{"/Smack/Servers", "/Smack/Libraries/a"} {
		w := serve(r, path)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("%s: status = %d, want 500", path, w.Code)
		}
		if got := decodeError(t, w); got != "internal error" {
			t.Errorf("%s: error = %q", path, got)
		}
	}
}

func TestRemoteEndpoints_CanceledRequestWritesNothing(t *testing.T) {
	remote := newFakeRemote(t)
	store := staticStore{servers: []connection.Server{{ID: "abc", Name: "Home", ServerURL: remote.URL + "/jf", APIKey: "k"}}}
	r := newTestRouter(store, remote)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, path := range []string{"/Smack/Libraries/abc", "/Smack/Items/abc/lib1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
		w := httptest.NewRecorder()
		r.Handler().ServeHTTP(w, req)

		if w.Body.Len() != 0 {
			t.Errorf("%s: expected empty body, got %q", path, w.Body.String())
		}
	}
}
