package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/breakpad"
	"github.com/crashvault/crashvault/internal/service"
)

// UploadSymbols implements POST /symbols/upload?product=<name>&version=<name>
// (spec §4.4): one transaction per request, one symbol row plus one blob
// write per valid symbols_file field.
func (s *Server) UploadSymbols(w http.ResponseWriter, r *http.Request) {
	ctx, token, err := s.Auth.Authorize(r.Context(), r, service.EntitlementSymbolUpload)
	if err != nil {
		writeError(w, err)
		return
	}

	productName := r.URL.Query().Get("product")
	version := r.URL.Query().Get("version")
	if productName == "" || version == "" {
		writeError(w, apperrors.Validation("product and version query parameters are required"))
		return
	}

	product, err := s.Store.GetProductByName(ctx, productName)
	if err != nil {
		writeError(w, apperrors.Metadata(err, "look up product %q", productName))
		return
	}
	if product == nil {
		writeError(w, apperrors.NotFound("product %s not found", productName))
		return
	}
	if !token.ScopedToProduct(product.ID) {
		writeError(w, apperrors.Authorization("token is not scoped to product %s", productName))
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, apperrors.Validation("invalid multipart body: %v", err))
		return
	}

	blobs := &blobSet{}

	if err := s.consumeSymbolUpload(ctx, mr, product.ID, blobs); err != nil {
		blobs.cleanup(ctx, s.Objects)
		writeError(w, err)
		return
	}

	writeOK(w, nil)
}

func (s *Server) consumeSymbolUpload(ctx context.Context, mr *multipart.Reader, productID uuid.UUID, blobs *blobSet) error {
	tx, err := s.Store.BeginSymbol(ctx)
	if err != nil {
		return apperrors.Metadata(err, "begin symbol transaction")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			tx.Rollback(ctx)
			return apperrors.Validation("read multipart body: %v", err)
		}

		if part.FormName() != "symbols_file" || part.Header.Get("Content-Type") != "application/octet-stream" {
			part.Close()
			continue
		}

		if err := s.consumeSymbolField(ctx, tx, part, productID, blobs); err != nil {
			part.Close()
			tx.Rollback(ctx)
			return err
		}
		part.Close()
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Storage(err, "commit symbol transaction")
	}

	return nil
}

func (s *Server) consumeSymbolField(ctx context.Context, tx service.SymbolTx, part *multipart.Part, productID uuid.UUID, blobs *blobSet) error {
	header, body, err := breakpad.PeekModuleHeader(part)
	if err != nil {
		return apperrors.Validation("invalid symbols file header")
	}

	sym := service.Symbol{
		ID:        uuid.New(),
		ProductID: productID,
		OS:        header.OS,
		Arch:      header.Arch,
		BuildID:   header.BuildID,
		ModuleID:  header.ModuleID,
	}
	sym.StoragePath = sym.StorageKey()

	if err := s.Store.UpsertSymbol(ctx, tx, sym); err != nil {
		return apperrors.Metadata(err, "upsert symbol row")
	}

	if _, err := s.Objects.PutStream(ctx, sym.StoragePath, body); err != nil {
		return apperrors.Storage(err, "store symbol blob %q", sym.StoragePath)
	}
	blobs.track(sym.StoragePath)

	return nil
}
