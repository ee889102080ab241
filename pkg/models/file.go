package models

import "time"

// EncryptedFile is the metadata record for a file stored encrypted at rest.
// The ciphertext blob itself lives in a separate object row so deletion can
// remove the blob before the metadata. KeyEnc is the base64-encoded per-file
// symmetric key; a fresh key is generated for every upload and never reused.
type EncryptedFile struct {
	ID         string    `json:"file_id"`
	Filename   string    `json:"filename"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
	Size       int64     `json:"size"`
	Algorithm  string    `json:"algorithm"`
	KeyEnc     string    `json:"-"`
}

// FileListing is one entry of a List response: metadata plus the access
// decision computed for the requesting principal, without decrypting.
type FileListing struct {
	EncryptedFile
	Accessible   bool              `json:"accessible"`
	AccessReason string            `json:"access_reason"`
	Validations  map[string]bool   `json:"validations,omitempty"`
}

// FileStats summarises the stored corpus for the admin dashboard.
type FileStats struct {
	TotalFiles    int64 `json:"total_files"`
	TotalSize     int64 `json:"total_size_bytes"`
	TotalAccesses int64 `json:"total_accesses"`
}
