// Package api is the HTTP surface spec §6 describes: minidump intake,
// symbol upload, and token minting, each gated by the token authenticator
// on its required entitlement.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/objectstore"
	"github.com/crashvault/crashvault/internal/queue"
	"github.com/crashvault/crashvault/internal/service"
)

// requiredAnnotations are the annotation keys spec §4.5 demands on every
// minidump upload.
var requiredAnnotations = []string{"product", "version", "channel", "commit", "build_id"}

const maxNonReleaseAge = 2 * 365 * 24 * time.Hour

// crashInfo accumulates a single upload's fields as the multipart stream is
// consumed, field by field, in arrival order (spec §4.5).
type crashInfo struct {
	crashID     uuid.UUID
	minidump    *service.BlobRef
	attachments []service.AttachmentRef
	annotations map[string]string
}

// UploadMinidump implements POST /minidump/upload.
func (s *Server) UploadMinidump(w http.ResponseWriter, r *http.Request) {
	ctx, token, err := s.Auth.Authorize(r.Context(), r, service.EntitlementMinidumpUpload)
	if err != nil {
		writeError(w, err)
		return
	}
	if token.ProductID == nil {
		writeError(w, apperrors.Authorization("token must be scoped to a product"))
		return
	}

	blobs := &blobSet{}

	info, err := s.consumeMinidumpUpload(ctx, r, blobs)
	if err != nil {
		blobs.cleanup(ctx, s.Objects)
		writeError(w, err)
		return
	}

	if err := s.finalizeMinidumpUpload(ctx, token, info, blobs); err != nil {
		blobs.cleanup(ctx, s.Objects)
		writeError(w, err)
		return
	}

	writeOK(w, map[string]any{"crash_id": info.crashID})
}

func (s *Server) consumeMinidumpUpload(ctx context.Context, r *http.Request, blobs *blobSet) (*crashInfo, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperrors.Validation("invalid multipart body: %v", err)
	}

	info := &crashInfo{
		crashID:     uuid.New(),
		annotations: map[string]string{},
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Validation("read multipart body: %v", err)
		}

		if err := s.consumePart(ctx, part, info, blobs); err != nil {
			part.Close()
			return nil, err
		}
		part.Close()
	}

	if info.minidump == nil {
		return nil, apperrors.Validation("upload_file_minidump is required")
	}

	return info, nil
}

func (s *Server) consumePart(ctx context.Context, part *multipart.Part, info *crashInfo, blobs *blobSet) error {
	contentType := part.Header.Get("Content-Type")
	name := part.FormName()

	if contentType == "application/octet-stream" {
		if name == "upload_file_minidump" {
			if info.minidump != nil {
				return apperrors.Validation("multiple upload_file_minidump fields")
			}
			ref, err := s.storeBlob(ctx, objectstore.PrefixMinidumps, part, blobs)
			if err != nil {
				return err
			}
			info.minidump = ref
			return nil
		}

		ref, err := s.storeBlob(ctx, objectstore.PrefixAttachments, part, blobs)
		if err != nil {
			return err
		}
		info.attachments = append(info.attachments, service.AttachmentRef{BlobRef: *ref, Name: name})
		return nil
	}

	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || !strings.HasPrefix(mediaType, "text/") {
			return apperrors.Validation("annotation %q has unsupported content-type %q", name, contentType)
		}
	}

	if !isPrintableASCII(name) {
		return apperrors.Validation("annotation key %q is not printable ASCII", name)
	}

	value, err := io.ReadAll(part)
	if err != nil {
		return apperrors.Validation("read annotation %q: %v", name, err)
	}
	info.annotations[name] = string(value)

	return nil
}

func (s *Server) storeBlob(ctx context.Context, prefix string, part *multipart.Part, blobs *blobSet) (*service.BlobRef, error) {
	id := uuid.New()
	key := prefix + id.String()

	size, err := s.Objects.PutStream(ctx, key, part)
	if err != nil {
		return nil, apperrors.Storage(err, "store blob %q", key)
	}
	blobs.track(key)

	return &service.BlobRef{
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Size:        size,
		StoragePath: key,
		StorageID:   id,
	}, nil
}

func isPrintableASCII(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// finalizeMinidumpUpload validates the accumulated crashInfo, commits the
// pending crash row, writes the crash descriptor, and enqueues the
// processing job — spec §4.5's end-of-multipart steps.
func (s *Server) finalizeMinidumpUpload(ctx context.Context, token *service.APIToken, info *crashInfo, blobs *blobSet) error {
	for _, key := range requiredAnnotations {
		if _, ok := info.annotations[key]; !ok {
			return apperrors.Validation("required annotation '%s' is missing", key)
		}
	}

	productName := info.annotations["product"]
	channel := info.annotations["channel"]
	buildIDRaw := info.annotations["build_id"]

	buildTime, err := time.Parse(time.RFC3339, buildIDRaw)
	if err != nil {
		return apperrors.Validation("build_id annotation is not an RFC 3339 timestamp")
	}
	if channel != "release" && time.Since(buildTime) > maxNonReleaseAge {
		return apperrors.Validation("build_id is too old for a non-release channel")
	}

	product, err := s.Store.GetProductByName(ctx, productName)
	if err != nil {
		return apperrors.Metadata(err, "look up product %q", productName)
	}
	if product == nil {
		return apperrors.NotFound("Product %s not found", productName)
	}
	if !token.ScopedToProduct(product.ID) {
		return apperrors.Authorization("token is not scoped to product %s", productName)
	}
	if !product.AcceptingCrashes {
		// Distinct from the not-found case above: the product exists but
		// has crash collection turned off.
		return apperrors.Validation("product %s is not accepting crashes", productName)
	}

	now := time.Now().UTC()

	// The crash row, the descriptor write, and the enqueue all live behind
	// one transaction: nothing commits until the job is ready to enqueue,
	// so a failure at any step rolls the row back instead of leaving a
	// pending crash with no job coming (spec §4.5, §5).
	tx, err := s.Store.BeginAdmin(ctx)
	if err != nil {
		return apperrors.Metadata(err, "begin transaction")
	}

	crash := service.Crash{
		ID:                  info.crashID,
		ProductID:           product.ID,
		Version:             info.annotations["version"],
		Channel:             channel,
		Commit:              info.annotations["commit"],
		BuildID:             buildIDRaw,
		MinidumpStorageID:   &info.minidump.StorageID,
		SubmissionTimestamp: now,
	}

	if _, err := tx.CreatePendingCrash(ctx, crash); err != nil {
		tx.Rollback(ctx)
		return apperrors.Metadata(err, "create pending crash")
	}

	descriptor := service.CrashDescriptor{
		CrashID:             info.crashID,
		SubmissionTimestamp: now,
		AuthorizedProduct:   product.ID,
		Product:             productName,
		Version:             info.annotations["version"],
		Channel:             channel,
		Commit:              info.annotations["commit"],
		BuildID:             buildIDRaw,
		Minidump:            *info.minidump,
		Attachments:         info.attachments,
		Annotations:         info.annotations,
	}

	data, err := json.Marshal(descriptor)
	if err != nil {
		tx.Rollback(ctx)
		return apperrors.Processing(err, "marshal crash descriptor")
	}

	descriptorKey := fmt.Sprintf("%s%s.json", objectstore.PrefixCrashes, info.crashID)
	if err := s.Objects.Put(ctx, descriptorKey, bytes.NewReader(data), int64(len(data))); err != nil {
		tx.Rollback(ctx)
		return apperrors.Storage(err, "store crash descriptor")
	}
	blobs.track(descriptorKey)

	if err := s.Queue.Enqueue(ctx, queue.Job{Descriptor: descriptor}); err != nil {
		tx.Rollback(ctx)
		return apperrors.Storage(err, "enqueue processing job")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Metadata(err, "commit transaction")
	}

	return nil
}
