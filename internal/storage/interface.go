package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/geocrypt/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// Store defines the persistence interface for geocrypt.
type Store interface {
	// Principals
	CreatePrincipal(ctx context.Context, p *models.Principal) error
	GetPrincipal(ctx context.Context, username string) (*models.Principal, error)
	UpdatePrincipal(ctx context.Context, p *models.Principal) error
	ListPrincipals(ctx context.Context) ([]*models.Principal, error)
	DeletePrincipal(ctx context.Context, username string) error

	// Access policy (singleton)
	GetAccessPolicy(ctx context.Context) (*models.AccessPolicy, error)
	PutAccessPolicy(ctx context.Context, pol *models.AccessPolicy) error

	// Work-from-home grants
	CreateGrant(ctx context.Context, g *models.WFHGrant) error
	GetGrant(ctx context.Context, id string) (*models.WFHGrant, error)
	UpdateGrant(ctx context.Context, g *models.WFHGrant) error
	ListGrants(ctx context.Context, username string) ([]*models.WFHGrant, error)
	LatestApprovedGrant(ctx context.Context, username string) (*models.WFHGrant, error)

	// Encrypted files. Metadata and ciphertext live in separate rows;
	// deletion removes the blob first so a metadata row without a blob is
	// the only partial state that can survive a crash.
	CreateFile(ctx context.Context, f *models.EncryptedFile, blob []byte) error
	GetFile(ctx context.Context, id string) (*models.EncryptedFile, error)
	GetFileBlob(ctx context.Context, id string) ([]byte, error)
	ListFiles(ctx context.Context) ([]*models.EncryptedFile, error)
	DeleteFileBlob(ctx context.Context, id string) error
	DeleteFile(ctx context.Context, id string) error
	FileStats(ctx context.Context) (*models.FileStats, error)

	// Audit
	WriteAccessLog(ctx context.Context, entry *models.AccessLog) error
	QueryAccessLogs(ctx context.Context, filter LogFilter) ([]*models.AccessLog, error)

	// Service key material
	GetServiceKeypair(ctx context.Context) (mode string, public, secret []byte, err error)
	PutServiceKeypair(ctx context.Context, mode string, public, secret []byte) error

	// Lifecycle
	Close()
}

// LogFilter specifies query parameters for access-log retrieval.
type LogFilter struct {
	Username string
	FileID   string
	Since    *time.Time
	Limit    int
	Offset   int
}
