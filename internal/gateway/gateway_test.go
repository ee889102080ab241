package gateway

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/org/geocrypt/internal/audit"
	"github.com/org/geocrypt/internal/core"
	"github.com/org/geocrypt/internal/crypto"
	"github.com/org/geocrypt/internal/policy"
	"github.com/org/geocrypt/internal/storage"
	"github.com/org/geocrypt/pkg/models"
)

// memStore is an in-memory storage.Store for gateway tests.
type memStore struct {
	mu         sync.Mutex
	principals map[string]*models.Principal
	policy     *models.AccessPolicy
	grants     map[string]*models.WFHGrant
	files      map[string]*models.EncryptedFile
	blobs      map[string][]byte
	logs       []*models.AccessLog
}

func newMemStore() *memStore {
	return &memStore{
		principals: map[string]*models.Principal{},
		policy: &models.AccessPolicy{
			Latitude: 40.7128, Longitude: -74.0060, RadiusM: 100,
			AllowedSSID: "Corp-WiFi", StartTime: "09:00", EndTime: "18:00",
		},
		grants: map[string]*models.WFHGrant{},
		files:  map[string]*models.EncryptedFile{},
		blobs:  map[string][]byte{},
	}
}

func (m *memStore) CreatePrincipal(_ context.Context, p *models.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[p.Username]; ok {
		return storage.ErrAlreadyExists
	}
	cp := *p
	m.principals[p.Username] = &cp
	return nil
}

func (m *memStore) GetPrincipal(_ context.Context, username string) (*models.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.principals[username]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) UpdatePrincipal(_ context.Context, p *models.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[p.Username]; !ok {
		return storage.ErrNotFound
	}
	cp := *p
	m.principals[p.Username] = &cp
	return nil
}

func (m *memStore) ListPrincipals(_ context.Context) ([]*models.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Principal
	for _, p := range m.principals {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) DeletePrincipal(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[username]; !ok {
		return storage.ErrNotFound
	}
	delete(m.principals, username)
	return nil
}

func (m *memStore) GetAccessPolicy(_ context.Context) (*models.AccessPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		return nil, storage.ErrNotFound
	}
	cp := *m.policy
	return &cp, nil
}

func (m *memStore) PutAccessPolicy(_ context.Context, pol *models.AccessPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pol
	m.policy = &cp
	return nil
}

func (m *memStore) CreateGrant(_ context.Context, g *models.WFHGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.grants {
		if ex.Username == g.Username && ex.Status == models.GrantPending {
			return storage.ErrAlreadyExists
		}
	}
	cp := *g
	m.grants[g.ID] = &cp
	return nil
}

func (m *memStore) GetGrant(_ context.Context, id string) (*models.WFHGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.grants[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) UpdateGrant(_ context.Context, g *models.WFHGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[g.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *g
	m.grants[g.ID] = &cp
	return nil
}

func (m *memStore) ListGrants(_ context.Context, username string) ([]*models.WFHGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WFHGrant
	for _, g := range m.grants {
		if username == "" || g.Username == username {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) LatestApprovedGrant(_ context.Context, username string) (*models.WFHGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.WFHGrant
	for _, g := range m.grants {
		if g.Username != username || g.Status != models.GrantApproved {
			continue
		}
		if latest == nil || (g.ApprovedAt != nil && latest.ApprovedAt != nil && g.ApprovedAt.After(*latest.ApprovedAt)) {
			latest = g
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) CreateFile(_ context.Context, f *models.EncryptedFile, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[f.ID]; ok {
		return storage.ErrAlreadyExists
	}
	cp := *f
	m.files[f.ID] = &cp
	m.blobs[f.ID] = append([]byte{}, blob...)
	return nil
}

func (m *memStore) GetFile(_ context.Context, id string) (*models.EncryptedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetFileBlob(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.blobs[id]; ok {
		return append([]byte{}, b...), nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListFiles(_ context.Context) ([]*models.EncryptedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EncryptedFile
	for _, f := range m.files {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) DeleteFileBlob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.blobs, id)
	return nil
}

func (m *memStore) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.files, id)
	return nil
}

func (m *memStore) FileStats(_ context.Context) (*models.FileStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.FileStats{TotalFiles: int64(len(m.files))}
	for _, f := range m.files {
		stats.TotalSize += f.Size
	}
	for _, l := range m.logs {
		if (l.Action == models.ActionAccess || l.Action == models.ActionDownload) && l.Success {
			stats.TotalAccesses++
		}
	}
	return stats, nil
}

func (m *memStore) WriteAccessLog(_ context.Context, entry *models.AccessLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *memStore) QueryAccessLogs(_ context.Context, filter storage.LogFilter) ([]*models.AccessLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AccessLog
	for _, l := range m.logs {
		if filter.Username != "" && l.Username != filter.Username {
			continue
		}
		if filter.FileID != "" && l.FileID != filter.FileID {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) GetServiceKeypair(_ context.Context) (string, []byte, []byte, error) {
	return "", nil, nil, storage.ErrNotFound
}

func (m *memStore) PutServiceKeypair(_ context.Context, _ string, _, _ []byte) error {
	return nil
}

func (m *memStore) Close() {}

func ptr(f float64) *float64 { return &f }

func newTestGateway(t *testing.T) (*Gateway, *memStore) {
	t.Helper()
	store := newMemStore()
	keys, err := core.NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	gw := New(store, policy.NewEngine(), keys, audit.NewLogger(store), crypto.NewPool(2))
	return gw, store
}

// insideOffice is a request satisfying every policy check during working
// hours.
func insideOffice() AccessRequest {
	return AccessRequest{Latitude: ptr(40.7128), Longitude: ptr(-74.0060), SSID: "Corp-WiFi"}
}

func workingHours(gw *Gateway) {
	gw.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
}

func TestUploadAccessRoundTrip(t *testing.T) {
	gw, store := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	content := []byte("0123456789")

	f, err := gw.Upload(ctx, "admin", models.RoleAdmin, "notes.txt", content)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if f.Size != 10 || f.Filename != "notes.txt" {
		t.Errorf("metadata = %+v", f)
	}
	// Ciphertext at rest differs from the plaintext.
	blob, _ := store.GetFileBlob(ctx, f.ID)
	if bytes.Contains(blob, content) {
		t.Error("stored blob must not contain the plaintext")
	}

	got, err := gw.Access(ctx, "admin", models.RoleAdmin, f.ID, AccessRequest{})
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	if !bytes.Equal(got.Data, content) {
		t.Errorf("decrypted content = %q, want %q", got.Data, content)
	}
	if got.MIME != "text/plain" {
		t.Errorf("MIME = %q, want text/plain", got.MIME)
	}
}

func TestUploadRequiresAdmin(t *testing.T) {
	gw, _ := newTestGateway(t)
	if _, err := gw.Upload(context.Background(), "alice", models.RoleEmployee, "x.txt", []byte("x")); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestEmployeeAccessInsideOffice(t *testing.T) {
	gw, _ := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	f, _ := gw.Upload(ctx, "admin", models.RoleAdmin, "report.pdf", []byte("pdf bytes"))

	got, err := gw.Access(ctx, "alice", models.RoleEmployee, f.ID, insideOffice())
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	if got.MIME != "application/pdf" {
		t.Errorf("MIME = %q", got.MIME)
	}
}

func TestEmployeeDeniedWithoutHint(t *testing.T) {
	gw, store := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	f, _ := gw.Upload(ctx, "admin", models.RoleAdmin, "secret.txt", []byte("x"))

	_, err := gw.Access(ctx, "alice", models.RoleEmployee, f.ID, AccessRequest{})
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Decision.Reason != "Location/WiFi not provided" {
		t.Errorf("reason = %q", denied.Decision.Reason)
	}

	// The denial was audited before returning.
	logs, _ := store.QueryAccessLogs(ctx, storage.LogFilter{Username: "alice"})
	if len(logs) != 1 || logs[0].Success || logs[0].FileID != f.ID {
		t.Fatalf("expected one failed log entry for the file, got %+v", logs)
	}
}

func TestEmployeeDeniedOutsideGeofence(t *testing.T) {
	gw, _ := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	f, _ := gw.Upload(ctx, "admin", models.RoleAdmin, "secret.txt", []byte("x"))

	req := insideOffice()
	req.Latitude = ptr(41.0)
	_, err := gw.Access(ctx, "alice", models.RoleEmployee, f.ID, req)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Decision.Validations[policy.CheckLocation] {
		t.Error("location validation should fail")
	}
}

func TestActiveGrantBypassesPolicy(t *testing.T) {
	gw, store := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	f, _ := gw.Upload(ctx, "admin", models.RoleAdmin, "secret.txt", []byte("remote work data"))

	now := gw.now()
	approvedAt := now.Add(-time.Hour)
	start, end := now.Add(-time.Hour), now.Add(time.Hour)
	store.grants["g1"] = &models.WFHGrant{
		ID: "g1", Username: "alice", Status: models.GrantApproved,
		ApprovedAt: &approvedAt, AccessStart: &start, AccessEnd: &end,
	}

	got, err := gw.Access(ctx, "alice", models.RoleEmployee, f.ID, AccessRequest{})
	if err != nil {
		t.Fatalf("Access with active grant failed: %v", err)
	}
	if string(got.Data) != "remote work data" {
		t.Error("content mismatch")
	}
	logs, _ := store.QueryAccessLogs(ctx, storage.LogFilter{Username: "alice"})
	if len(logs) != 1 || !logs[0].Success || logs[0].GrantID != "g1" {
		t.Fatalf("log should reference the grant, got %+v", logs)
	}
}

func TestExpiredGrantDoesNotBypass(t *testing.T) {
	gw, store := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	f, _ := gw.Upload(ctx, "admin", models.RoleAdmin, "secret.txt", []byte("x"))

	now := gw.now()
	approvedAt := now.Add(-48 * time.Hour)
	start, end := now.Add(-48*time.Hour), now.Add(-24*time.Hour)
	store.grants["g2"] = &models.WFHGrant{
		ID: "g2", Username: "alice", Status: models.GrantApproved,
		ApprovedAt: &approvedAt, AccessStart: &start, AccessEnd: &end,
	}

	_, err := gw.Access(ctx, "alice", models.RoleEmployee, f.ID, AccessRequest{})
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError with expired grant, got %v", err)
	}
}

func TestListAnnotatesWithoutDecrypting(t *testing.T) {
	gw, _ := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	gw.Upload(ctx, "admin", models.RoleAdmin, "a.txt", []byte("a")) //nolint:errcheck
	gw.Upload(ctx, "admin", models.RoleAdmin, "b.csv", []byte("b")) //nolint:errcheck

	listings, err := gw.List(ctx, "alice", models.RoleEmployee, AccessRequest{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
	for _, l := range listings {
		if l.Accessible {
			t.Error("no hint should mean inaccessible")
		}
		if l.AccessReason != "Location/WiFi not provided" {
			t.Errorf("reason = %q", l.AccessReason)
		}
		if l.KeyEnc != "" {
			t.Error("key material must not leak into listings")
		}
	}

	listings, _ = gw.List(ctx, "alice", models.RoleEmployee, insideOffice())
	for _, l := range listings {
		if !l.Accessible {
			t.Errorf("in-office listing should be accessible: %q", l.AccessReason)
		}
	}
}

func TestDeleteRemovesBlobThenMetadata(t *testing.T) {
	gw, store := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	f, _ := gw.Upload(ctx, "admin", models.RoleAdmin, "gone.txt", []byte("x"))

	if err := gw.Delete(ctx, models.RoleEmployee, f.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("employee delete: expected ErrForbidden, got %v", err)
	}
	if err := gw.Delete(ctx, models.RoleAdmin, f.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetFile(ctx, f.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("metadata should be gone")
	}
	if _, err := store.GetFileBlob(ctx, f.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("blob should be gone")
	}
	if err := gw.Delete(ctx, models.RoleAdmin, f.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestAccessUnknownFile(t *testing.T) {
	gw, _ := newTestGateway(t)
	_, err := gw.Access(context.Background(), "admin", models.RoleAdmin, "no-such-id", AccessRequest{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTamperedBlobFailsClosed(t *testing.T) {
	gw, store := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	f, _ := gw.Upload(ctx, "admin", models.RoleAdmin, "x.txt", []byte("payload"))

	store.mu.Lock()
	store.blobs[f.ID][len(store.blobs[f.ID])-1] ^= 0xff
	store.mu.Unlock()

	if _, err := gw.Access(ctx, "admin", models.RoleAdmin, f.ID, AccessRequest{}); !errors.Is(err, crypto.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for tampered blob, got %v", err)
	}
}

func TestStats(t *testing.T) {
	gw, _ := newTestGateway(t)
	workingHours(gw)
	ctx := context.Background()
	f, _ := gw.Upload(ctx, "admin", models.RoleAdmin, "a.txt", []byte("12345"))
	gw.Upload(ctx, "admin", models.RoleAdmin, "b.txt", []byte("123"))        //nolint:errcheck
	gw.Access(ctx, "admin", models.RoleAdmin, f.ID, AccessRequest{})         //nolint:errcheck

	stats, err := gw.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalFiles != 2 || stats.TotalSize != 8 || stats.TotalAccesses != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMimeTable(t *testing.T) {
	cases := map[string]string{
		"a.PDF":   "application/pdf",
		"b.jpeg":  "image/jpeg",
		"c.json":  "application/json",
		"d.bin":   "application/octet-stream",
		"noext":   "application/octet-stream",
		"e.md":    "text/markdown",
	}
	for name, want := range cases {
		if got := mimeForFilename(name); got != want {
			t.Errorf("mimeForFilename(%q) = %q, want %q", name, got, want)
		}
	}
}
