package settingsio

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/sydlexius/smack/internal/connection"
	"github.com/sydlexius/smack/internal/database"
	"github.com/sydlexius/smack/internal/encryption"
)

func TestMain(m *testing.M) {
	// Keep key derivation cheap in tests.
	pbkdf2Iterations = 1000
	os.Exit(m.Run())
}

func setupStore(t *testing.T) *connection.Service {
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

func seed(t *testing.T, store *connection.Service, servers ...connection.Server) {
	t.Helper()
	for i := range servers {
		if err := store.Create(context.Background(), &servers[i]); err != nil {
			t.Fatalf("creating server: %v", err)
		}
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := setupStore(t)
	seed(t, src,
		connection.Server{Name: "Home", ServerURL: "https://jf.example.com", APIKey: "home-key", RemoteUserID: "u1"},
		connection.Server{Name: "Draft"},
	)

	env, err := NewService(src).Export(ctx, "correct horse")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if env.Version != FormatVersion || env.Salt == "" || env.Data == "" {
		t.Fatalf("envelope = %+v", env)
	}
	if strings.Contains(env.Data, "home-key") {
		t.Fatal("api key visible in envelope")
	}

	dst := setupStore(t)
	result, err := NewService(dst).Import(ctx, env, "correct horse")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Created != 2 || result.Updated != 0 {
		t.Errorf("result = %+v, want 2 created", result)
	}

	got, err := dst.FindByURLAndName(ctx, "https://jf.example.com", "Home")
	if err != nil || got == nil {
		t.Fatalf("FindByURLAndName: %v, %v", got, err)
	}
	if got.APIKey != "home-key" || got.RemoteUserID != "u1" {
		t.Errorf("imported = %+v", got)
	}
}

func TestImport_UpdatesMatchingRecord(t *testing.T) {
	ctx := context.Background()
	src := setupStore(t)
	seed(t, src, connection.Server{Name: "Home", ServerURL: "https://jf.example.com", APIKey: "new-key"})

	env, err := NewService(src).Export(ctx, "pw")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := setupStore(t)
	existing := connection.Server{Name: "Home", ServerURL: "https://jf.example.com", APIKey: "old-key"}
	seed(t, dst, existing)
	before, _ := dst.List(ctx)

	result, err := NewService(dst).Import(ctx, env, "pw")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Updated != 1 || result.Created != 0 {
		t.Errorf("result = %+v, want 1 updated", result)
	}

	after, _ := dst.List(ctx)
	if len(after) != 1 {
		t.Fatalf("len = %d, want 1", len(after))
	}
	if after[0].ID != before[0].ID {
		t.Error("id changed on update")
	}
	if after[0].APIKey != "new-key" {
		t.Errorf("APIKey = %q, want new-key", after[0].APIKey)
	}
}

func TestImport_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	src := setupStore(t)
	seed(t, src, connection.Server{Name: "Home"})

	env, err := NewService(src).Export(ctx, "right")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := NewService(setupStore(t)).Import(ctx, env, "wrong"); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
}

func TestExportImport_RejectsEmptyPassphrase(t *testing.T) {
	svc := NewService(setupStore(t))
	if _, err := svc.Export(context.Background(), ""); err != ErrEmptyPassphrase {
		t.Errorf("Export err = %v, want ErrEmptyPassphrase", err)
	}
	if _, err := svc.Import(context.Background(), &Envelope{Version: FormatVersion, Data: "x"}, ""); err != ErrEmptyPassphrase {
		t.Errorf("Import err = %v, want ErrEmptyPassphrase", err)
	}
}

func TestImport_RejectsBadEnvelope(t *testing.T) {
	svc := NewService(setupStore(t))
	tests := []struct {
		name string
		env  Envelope
	}{
		{"empty data", Envelope{Version: FormatVersion}},
		{"unknown version", Envelope{Version: "9.9", Data: "abc"}},
		{"bad salt", Envelope{Version: FormatVersion, Data: "abc", Salt: "%%%"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Import(context.Background(), &tt.env, "pw"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWriteReadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	env := &Envelope{Version: FormatVersion, AppVersion: "dev", Salt: "c2FsdA==", Data: "ZGF0YQ=="}

	if err := WriteFile(fs, "/smack.json", env); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := fs.Stat("/smack.json")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := ReadFile(fs, "/smack.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if *got != *env {
		t.Errorf("ReadFile = %+v, want %+v", got, env)
	}
}

func TestReadFile_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := ReadFile(fs, "/missing.json"); err == nil {
		t.Error("expected error for missing file")
	}
	if err := afero.WriteFile(fs, "/bad.json", []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(fs, "/bad.json"); err == nil {
		t.Error("expected error for malformed file")
	}
}
