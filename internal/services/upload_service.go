package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mitrakirim/api/internal/domain"
	pstorage "github.com/mitrakirim/api/internal/platform/storage"
	"github.com/mitrakirim/api/internal/repositories"
)

const (
	maxProofPhotoSize         = int64(10 * 1024 * 1024) // 10 MiB
	proofUploadExpiry         = 15 * time.Minute
	uploadLoggerEventIssued   = "upload.proof.issued"
	uploadLoggerEventRejected = "upload.proof.rejected"
)

var (
	// ErrUploadInvalidInput indicates the caller provided an invalid argument.
	ErrUploadInvalidInput = errors.New("upload: invalid input")
	// ErrUploadForbidden indicates the caller may not upload proof for the order.
	ErrUploadForbidden = errors.New("upload: forbidden")
	// ErrUploadOrderNotFound indicates the referenced order does not exist.
	ErrUploadOrderNotFound = errors.New("upload: order not found")
	// ErrUploadUnavailable wraps signer or repository outages.
	ErrUploadUnavailable = errors.New("upload: unavailable")
)

var (
	allowedProofPhotoTypes = map[string]struct{}{
		"pickup":   {},
		"delivery": {},
		"failed":   {},
	}

	proofContentExtensions = map[string]string{
		"image/jpeg": "jpg",
		"image/jpg":  "jpg",
		"image/png":  "png",
		"image/webp": "webp",
	}
)

// ProofUploadSigner issues V4 signed URLs for storage objects.
type ProofUploadSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error)
}

// UploadServiceDeps wires dependencies for the proof upload service.
type UploadServiceDeps struct {
	Orders      repositories.OrderRepository
	Signer      ProofUploadSigner
	Bucket      string
	Expiry      time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type uploadService struct {
	orders repositories.OrderRepository
	signer ProofUploadSigner
	bucket string
	expiry time.Duration
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewUploadService constructs an UploadService backed by the provided dependencies.
func NewUploadService(deps UploadServiceDeps) (UploadService, error) {
	if deps.Orders == nil {
		return nil, errors.New("upload service: order repository is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("upload service: signer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("upload service: bucket is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	expiry := deps.Expiry
	if expiry <= 0 {
		expiry = proofUploadExpiry
	}

	return &uploadService{
		orders: deps.Orders,
		signer: deps.Signer,
		bucket: bucket,
		expiry: expiry,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

func (s *uploadService) SignProofUpload(ctx context.Context, cmd ProofUploadCommand) (SignedUploadResponse, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return SignedUploadResponse{}, fmt.Errorf("%w: order id is required", ErrUploadInvalidInput)
	}

	photoType := strings.ToLower(strings.TrimSpace(cmd.PhotoType))
	if _, ok := allowedProofPhotoTypes[photoType]; !ok {
		return SignedUploadResponse{}, fmt.Errorf("%w: photo type %q not allowed", ErrUploadInvalidInput, cmd.PhotoType)
	}

	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	ext, ok := proofContentExtensions[contentType]
	if !ok {
		return SignedUploadResponse{}, fmt.Errorf("%w: content type %q not allowed", ErrUploadInvalidInput, cmd.ContentType)
	}

	if cmd.SizeBytes > maxProofPhotoSize {
		return SignedUploadResponse{}, fmt.Errorf("%w: size exceeds maximum (%d)", ErrUploadInvalidInput, maxProofPhotoSize)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return SignedUploadResponse{}, s.mapRepositoryError(err)
	}

	if err := s.authorize(cmd.Actor, order.MitraID, order.DriverID); err != nil {
		s.logger(ctx, uploadLoggerEventRejected, map[string]any{
			"orderId":   orderID,
			"actorId":   cmd.Actor.ID,
			"actorType": string(cmd.Actor.Type),
		})
		return SignedUploadResponse{}, err
	}

	fileName := fmt.Sprintf("%s.%s", s.newID(), ext)
	objectKey, err := pstorage.BuildObjectPath(pstorage.PurposeProofPhoto, pstorage.PathParams{
		OrderID:   orderID,
		PhotoType: photoType,
		FileName:  fileName,
	})
	if err != nil {
		return SignedUploadResponse{}, fmt.Errorf("%w: %v", ErrUploadInvalidInput, err)
	}

	result, err := s.signer.SignedURL(ctx, s.bucket, objectKey, pstorage.SignedURLOptions{
		Upload: &pstorage.UploadOptions{
			Method:              "PUT",
			ContentType:         contentType,
			AllowedContentTypes: allowedProofContentTypes(),
			MaxSize:             maxProofPhotoSize,
			ExpiresIn:           s.expiry,
		},
	})
	if err != nil {
		return SignedUploadResponse{}, fmt.Errorf("%w: %v", ErrUploadUnavailable, err)
	}

	s.logger(ctx, uploadLoggerEventIssued, map[string]any{
		"orderId":   orderID,
		"objectKey": objectKey,
		"photoType": photoType,
		"expiresAt": result.ExpiresAt,
	})

	return SignedUploadResponse{
		ObjectKey: objectKey,
		URL:       result.URL,
		ExpiresAt: result.ExpiresAt,
		Method:    result.Method,
		Headers:   result.Headers,
	}, nil
}

func (s *uploadService) authorize(actor Actor, mitraID string, driverID *string) error {
	actorID := strings.TrimSpace(actor.ID)
	if actorID == "" {
		return fmt.Errorf("%w: actor id is required", ErrUploadInvalidInput)
	}

	switch actor.Type {
	case domain.ActorSystem:
		return nil
	case domain.ActorMitra:
		if actorID != mitraID {
			return fmt.Errorf("%w: order belongs to another mitra", ErrUploadForbidden)
		}
		return nil
	case domain.ActorDriver:
		if driverID == nil || *driverID != actorID {
			return fmt.Errorf("%w: order is not assigned to this driver", ErrUploadForbidden)
		}
		return nil
	default:
		return fmt.Errorf("%w: role %q may not upload proof photos", ErrUploadForbidden, actor.Type)
	}
}

func (s *uploadService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUploadOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUploadUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUploadUnavailable, err)
}

func allowedProofContentTypes() []string {
	types := make([]string, 0, len(proofContentExtensions))
	for ct := range proofContentExtensions {
		types = append(types, ct)
	}
	return types
}
