// Package gateway orchestrates every file operation: it decides access via
// the policy engine, moves ciphertext through the crypto layer, and records
// each decision in the audit trail before the outcome reaches the caller.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/geocrypt/internal/audit"
	"github.com/org/geocrypt/internal/core"
	"github.com/org/geocrypt/internal/crypto"
	"github.com/org/geocrypt/internal/policy"
	"github.com/org/geocrypt/internal/storage"
	"github.com/org/geocrypt/pkg/models"
)

// ErrForbidden is returned when the principal's role does not permit the
// operation at all, independent of any policy decision.
var ErrForbidden = errors.New("operation not permitted for role")

// DeniedError carries the policy decision behind a denial so handlers can
// return the structured reason and per-check results.
type DeniedError struct {
	Decision policy.Decision
}

func (e *DeniedError) Error() string {
	return e.Decision.Reason
}

// AccessRequest is the client-supplied context for a policy decision.
type AccessRequest struct {
	Latitude  *float64
	Longitude *float64
	SSID      string
}

func (r AccessRequest) hasHint() bool {
	return r.Latitude != nil || r.Longitude != nil || r.SSID != ""
}

// FileContent is decrypted file data ready to serve.
type FileContent struct {
	Filename string
	MIME     string
	Data     []byte
}

// Gateway is the file-access orchestrator.
type Gateway struct {
	store  storage.Store
	engine *policy.Engine
	keys   *core.KeyManager
	audit  *audit.Logger
	pool   *crypto.Pool

	now func() time.Time
}

// New wires a Gateway.
func New(store storage.Store, engine *policy.Engine, keys *core.KeyManager, auditor *audit.Logger, pool *crypto.Pool) *Gateway {
	return &Gateway{
		store:  store,
		engine: engine,
		keys:   keys,
		audit:  auditor,
		pool:   pool,
		now:    time.Now,
	}
}

// Upload encrypts data under a fresh per-file key and persists metadata and
// ciphertext. Only administrators may upload. The plaintext key never
// touches storage: it is wrapped against the service keypair first.
func (g *Gateway) Upload(ctx context.Context, username string, role models.Role, filename string, data []byte) (*models.EncryptedFile, error) {
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if filename == "" || len(data) == 0 {
		return nil, fmt.Errorf("filename and content are required")
	}

	fileKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = g.pool.Do(ctx, func() error {
		var encErr error
		blob, encErr = crypto.Encrypt(data, fileKey)
		return encErr
	})
	if err != nil {
		return nil, err
	}
	wrapped, err := g.keys.WrapKey(fileKey)
	if err != nil {
		return nil, err
	}

	algorithm := crypto.AlgorithmHybridMLKEM
	if g.keys.Mode() == crypto.ModeClassical {
		algorithm = crypto.AlgorithmClassical
	}
	f := &models.EncryptedFile{
		ID:         uuid.NewString(),
		Filename:   filepath.Base(filename),
		UploadedBy: username,
		UploadedAt: g.now().UTC(),
		Size:       int64(len(data)),
		Algorithm:  algorithm,
		KeyEnc:     crypto.KeyToString(wrapped),
	}
	if err := g.store.CreateFile(ctx, f, blob); err != nil {
		return nil, fmt.Errorf("storing file: %w", err)
	}
	log.Info().Str("file_id", f.ID).Str("filename", f.Filename).
		Str("uploaded_by", username).Int64("size", f.Size).Msg("file uploaded")
	return f, nil
}

// List returns every stored file annotated with the access decision for
// the requesting principal, computed without touching any ciphertext.
func (g *Gateway) List(ctx context.Context, username string, role models.Role, req AccessRequest) ([]*models.FileListing, error) {
	files, err := g.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	decision, _, err := g.decide(ctx, username, role, req)
	if err != nil {
		return nil, err
	}

	out := make([]*models.FileListing, 0, len(files))
	for _, f := range files {
		entry := &models.FileListing{
			EncryptedFile: *f,
			Accessible:    decision.Allowed,
			AccessReason:  decision.Reason,
			Validations:   decision.Validations,
		}
		entry.KeyEnc = ""
		out = append(out, entry)
	}
	return out, nil
}

// Access decrypts and returns a file if the policy decision allows it. The
// decision is written to the audit trail before anything is returned, for
// denials as much as for grants.
func (g *Gateway) Access(ctx context.Context, username string, role models.Role, fileID string, req AccessRequest) (*FileContent, error) {
	f, err := g.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	decision, grantID, err := g.decide(ctx, username, role, req)
	if err != nil {
		return nil, err
	}
	g.audit.Record(ctx, &models.AccessLog{
		Username:  username,
		FileID:    f.ID,
		Filename:  f.Filename,
		Action:    models.ActionAccess,
		Timestamp: g.now().UTC(),
		Success:   decision.Allowed,
		Reason:    decision.Reason,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		WiFiSSID:  req.SSID,
		GrantID:   grantID,
	})
	if !decision.Allowed {
		return nil, &DeniedError{Decision: decision}
	}

	blob, err := g.store.GetFileBlob(ctx, fileID)
	if err != nil {
		return nil, err
	}
	wrapped, err := crypto.KeyFromString(f.KeyEnc)
	if err != nil {
		return nil, fmt.Errorf("decoding wrapped key: %w", err)
	}
	var data []byte
	err = g.pool.Do(ctx, func() error {
		fileKey, unwrapErr := g.keys.UnwrapKey(wrapped)
		if unwrapErr != nil {
			return unwrapErr
		}
		data, unwrapErr = crypto.Decrypt(blob, fileKey)
		return unwrapErr
	})
	if err != nil {
		return nil, err
	}
	return &FileContent{
		Filename: f.Filename,
		MIME:     mimeForFilename(f.Filename),
		Data:     data,
	}, nil
}

// Delete removes a file, ciphertext first. A crash between the two steps
// leaves unreferenced metadata, never an orphaned blob.
func (g *Gateway) Delete(ctx context.Context, role models.Role, fileID string) error {
	if role != models.RoleAdmin {
		return ErrForbidden
	}
	if _, err := g.store.GetFile(ctx, fileID); err != nil {
		return err
	}
	if err := g.store.DeleteFileBlob(ctx, fileID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := g.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	log.Info().Str("file_id", fileID).Msg("file deleted")
	return nil
}

// Stats summarises the stored corpus.
func (g *Gateway) Stats(ctx context.Context) (*models.FileStats, error) {
	return g.store.FileStats(ctx)
}

// Validate evaluates the policy for the principal without touching a file,
// for the endpoint clients use to pre-check their situation.
func (g *Gateway) Validate(ctx context.Context, username string, role models.Role, req AccessRequest) (policy.Decision, error) {
	decision, _, err := g.decide(ctx, username, role, req)
	return decision, err
}

// decide computes the access decision for a principal. Administrators pass
// unconditionally. For employees an active work-from-home grant overrides
// the policy; a request carrying no location or network hint fails before
// evaluation.
func (g *Gateway) decide(ctx context.Context, username string, role models.Role, req AccessRequest) (policy.Decision, string, error) {
	if role == models.RoleAdmin {
		return policy.Decision{
			Allowed: true,
			Reason:  "Administrator access",
			Validations: map[string]bool{
				policy.CheckLocation: true,
				policy.CheckNetwork:  true,
				policy.CheckTime:     true,
			},
		}, "", nil
	}

	pol, err := g.store.GetAccessPolicy(ctx)
	if err != nil {
		return policy.Decision{}, "", fmt.Errorf("loading access policy: %w", err)
	}

	now := g.now()
	grant, err := g.store.LatestApprovedGrant(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return policy.Decision{}, "", err
	}
	var grantID string
	if grant != nil && grant.WindowActive(now) {
		grantID = grant.ID
	} else {
		grant = nil
	}

	if grant == nil && !req.hasHint() {
		return policy.Decision{
			Allowed: false,
			Reason:  "Location/WiFi not provided",
			Validations: map[string]bool{
				policy.CheckLocation: false,
				policy.CheckNetwork:  false,
				policy.CheckTime:     false,
			},
		}, "", nil
	}

	decision := g.engine.Evaluate(policy.Request{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		SSID:      req.SSID,
		Now:       now,
	}, pol, grant)
	return decision, grantID, nil
}

var mimeByExt = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".txt":  "text/plain",
	".log":  "text/plain",
	".json": "application/json",
	".csv":  "text/csv",
	".md":   "text/markdown",
}

func mimeForFilename(name string) string {
	if mt, ok := mimeByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}
