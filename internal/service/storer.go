package service

import (
	"context"

	"github.com/google/uuid"
)

// SortDirection orders a QueryParams sort column.
type SortDirection int

const (
	SortAscending SortDirection = iota
	SortDescending
)

// SortColumn is one (column, direction) pair in a QueryParams ordered sort.
type SortColumn struct {
	Column    string
	Direction SortDirection
}

// Range is a half-open row range [Offset, Offset+Limit) for pagination.
type Range struct {
	Offset int
	Limit  int
}

// QueryParams carries an optional substring filter, an ordered sort, and an
// optional row range to every repository List call. The repository
// validates every column name in Sort against a per-entity allow-list and
// returns apperrors.ErrInvalidColumn otherwise.
type QueryParams struct {
	Filter string
	Sort   []SortColumn
	Range  *Range
}

// Tx is the transactional handle returned by BeginAdmin. Intake uses it for
// a single crash-row insert; the worker uses it for crash-update plus
// attachment/annotation inserts. Commit must only be called after every
// blob write referenced by the transaction is durable.
type Tx interface {
	CrashStorer
	AttachmentStorer
	AnnotationStorer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ProductStorer reads and writes Product rows.
type ProductStorer interface {
	GetProductByName(ctx context.Context, name string) (*Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	ListProducts(ctx context.Context, q QueryParams) ([]Product, error)
}

// VersionStorer reads and writes Version rows.
type VersionStorer interface {
	GetVersion(ctx context.Context, productID uuid.UUID, name string) (*Version, error)
	ListVersions(ctx context.Context, productID uuid.UUID, q QueryParams) ([]Version, error)
}

// SymbolStorer reads and writes Symbol rows. UpsertSymbol overwrites any
// existing row for the same (product, module_id, build_id) — last write
// wins, per the data-model invariant.
type SymbolStorer interface {
	UpsertSymbol(ctx context.Context, tx SymbolTx, sym Symbol) error
	GetSymbol(ctx context.Context, productID uuid.UUID, moduleID, buildID string) (*Symbol, error)
	ListSymbols(ctx context.Context, q QueryParams) ([]Symbol, error)
}

// SymbolTx is the transactional handle the symbol store uses: insert row,
// then stream the blob, then commit.
type SymbolTx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CrashStorer reads and writes Crash rows.
type CrashStorer interface {
	CreatePendingCrash(ctx context.Context, c Crash) (*Crash, error)
	GetCrash(ctx context.Context, id uuid.UUID) (*Crash, error)
	ListCrashes(ctx context.Context, q QueryParams) ([]Crash, error)
	CompleteCrash(ctx context.Context, id uuid.UUID, report []byte, signature string) error
	FailCrash(ctx context.Context, id uuid.UUID, reason string) error
	DeleteCrash(ctx context.Context, id uuid.UUID) error
}

// AttachmentStorer creates attachment rows once the worker promotes them
// from the descriptor JSON.
type AttachmentStorer interface {
	CreateAttachment(ctx context.Context, a Attachment) error
	ListAttachments(ctx context.Context, crashID uuid.UUID) ([]Attachment, error)
}

// AnnotationStorer creates annotation rows once the worker promotes them
// from the descriptor JSON.
type AnnotationStorer interface {
	CreateAnnotation(ctx context.Context, a Annotation) error
	ListAnnotations(ctx context.Context, crashID uuid.UUID) ([]Annotation, error)
}

// APITokenStorer reads and writes API token rows.
type APITokenStorer interface {
	GetAPITokenByTokenID(ctx context.Context, tokenID uuid.UUID) (*APIToken, error)
	TouchLastUsed(ctx context.Context, tokenID uuid.UUID) error
}

// AdminStorer is the full metadata repository surface, including the
// transactional handle used by intake and the worker.
type AdminStorer interface {
	ProductStorer
	VersionStorer
	SymbolStorer
	CrashStorer
	AttachmentStorer
	AnnotationStorer
	APITokenStorer

	BeginAdmin(ctx context.Context) (Tx, error)
	BeginSymbol(ctx context.Context) (SymbolTx, error)

	// ReferencedBlobUUIDs returns the set of minidump/attachment storage
	// ids referenced by metadata rows, for the orphan reaper.
	ReferencedBlobUUIDs(ctx context.Context) (map[uuid.UUID]struct{}, error)

	Close() error
}
