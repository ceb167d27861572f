// Package service defines the crash-ingestion domain: the entities from
// the data model, the storer contracts the metadata repository implements,
// and the token authenticator built on top of them.
package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/worldline-go/types"
)

// CrashState is the lifecycle state of a Crash row.
type CrashState string

const (
	CrashPending   CrashState = "pending"
	CrashProcessed CrashState = "processed"
	CrashFailed    CrashState = "failed"
)

// AnnotationKind distinguishes the five required system annotations from
// anything else the client submits.
type AnnotationKind string

const (
	AnnotationSystem AnnotationKind = "system"
	AnnotationUser   AnnotationKind = "user"
)

// Entitlement is a named capability attached to an API token.
type Entitlement string

const (
	EntitlementSymbolUpload   Entitlement = "symbol-upload"
	EntitlementMinidumpUpload Entitlement = "minidump-upload"
	EntitlementToken          Entitlement = "token"
)

// Product owns versions, symbols, and crashes.
type Product struct {
	ID               uuid.UUID
	Name             string
	AcceptingCrashes bool
}

// Version identifies a build of a product by name, content hash, and tag.
type Version struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Name      string
	Hash      string
	Tag       string
}

// Symbol is a Breakpad symbol file record keyed by (product, module, build).
type Symbol struct {
	ID          uuid.UUID
	ProductID   uuid.UUID
	OS          string
	Arch        string
	BuildID     string
	ModuleID    string
	StoragePath string
}

// StorageKey returns the deterministic object-store key for this symbol.
func (s Symbol) StorageKey() string {
	return "symbols/" + s.ModuleID + "-" + s.BuildID
}

// Crash is a single crash report, created pending by intake and promoted to
// processed (or failed) by the worker.
type Crash struct {
	ID                  uuid.UUID
	ProductID           uuid.UUID
	Version             string
	Channel             string
	Commit              string
	BuildID             string
	State               CrashState
	MinidumpStorageID   *uuid.UUID
	Report              []byte // raw JSON, nil until processed
	Signature           *string
	SubmissionTimestamp time.Time
}

// Attachment is a file uploaded alongside a crash, promoted from the
// descriptor JSON to a row once the worker finishes processing.
type Attachment struct {
	ID          uuid.UUID
	CrashID     uuid.UUID
	ProductID   uuid.UUID
	Name        string
	Filename    string
	MimeType    string
	Size        int64
	StoragePath string
	StorageID   uuid.UUID
}

// Annotation is a single key/value pair submitted with a crash.
type Annotation struct {
	ID        uuid.UUID
	CrashID   uuid.UUID
	ProductID uuid.UUID
	Key       string
	Value     string
	Kind      AnnotationKind
}

// APIToken gates every upload endpoint on an entitlement and, optionally,
// a product scope.
type APIToken struct {
	ID           uuid.UUID
	TokenID      uuid.UUID // public half of the bearer credential
	TokenHash    string    // argon2id hash of the secret half
	ProductID    *uuid.UUID
	UserID       *uuid.UUID
	Entitlements map[Entitlement]struct{}
	ExpiresAt    types.Null[types.Time]
	IsActive     bool
	LastUsedAt   types.Null[types.Time]
}

// HasEntitlement reports whether the token carries the given entitlement.
func (t APIToken) HasEntitlement(e Entitlement) bool {
	_, ok := t.Entitlements[e]
	return ok
}

// IsValid reports whether the token is currently usable: active and not
// expired.
func (t APIToken) IsValid(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.ExpiresAt.Valid && !t.ExpiresAt.V.Time.After(now) {
		return false
	}
	return true
}

// ScopedToProduct reports whether the token is unscoped (any product) or
// scoped to productID.
func (t APIToken) ScopedToProduct(productID uuid.UUID) bool {
	return t.ProductID == nil || *t.ProductID == productID
}

// BlobRef identifies a single object-store blob recorded in a crash
// descriptor: a minidump or an attachment.
type BlobRef struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	StoragePath string `json:"storage_path"`
	StorageID   uuid.UUID `json:"storage_id"`
}

// AttachmentRef is a BlobRef plus the field name it arrived under.
type AttachmentRef struct {
	BlobRef
	Name string `json:"name"`
}

// CrashDescriptor is the authoritative record of an intake event, written
// to crashes/{crash_id}.json before the processing job is enqueued. It is
// everything the worker needs to reprocess a crash without re-reading the
// original HTTP request.
type CrashDescriptor struct {
	CrashID             uuid.UUID         `json:"crash_id"`
	SubmissionTimestamp time.Time         `json:"submission_timestamp"`
	AuthorizedProduct   uuid.UUID         `json:"authorized_product"`
	Product             string            `json:"product"`
	Version             string            `json:"version"`
	Channel             string            `json:"channel"`
	Commit              string            `json:"commit"`
	BuildID             string            `json:"build_id"`
	Minidump            BlobRef           `json:"minidump"`
	Attachments         []AttachmentRef   `json:"attachments"`
	Annotations         map[string]string `json:"annotations"`
}
