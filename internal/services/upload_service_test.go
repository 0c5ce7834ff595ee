package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mitrakirim/api/internal/domain"
	pstorage "github.com/mitrakirim/api/internal/platform/storage"
)

type stubUploadSigner struct {
	signFn func(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error)
}

func (s *stubUploadSigner) SignedURL(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error) {
	if s.signFn != nil {
		return s.signFn(ctx, bucket, object, opts)
	}
	return pstorage.SignedURLResult{}, errors.New("unexpected SignedURL call")
}

func newTestUploadService(t *testing.T, orders *stubOrderRepo, signer *stubUploadSigner) UploadService {
	t.Helper()
	svc, err := NewUploadService(UploadServiceDeps{
		Orders:      orders,
		Signer:      signer,
		Bucket:      "mitrakirim-proofs",
		Clock:       func() time.Time { return fixedNow },
		IDGenerator: func() string { return "01J8ZZZZZZZZZZZZZZZZZZZZZZ" },
	})
	if err != nil {
		t.Fatalf("NewUploadService returned error: %v", err)
	}
	return svc
}

func TestSignProofUploadIssuesKeyAndURL(t *testing.T) {
	order := sampleOrder(domain.OrderStatusDriverAtPickup)
	order.DriverID = valuePtr("driver-1")
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			if id != order.ID {
				t.Fatalf("unexpected order id %s", id)
			}
			return order, nil
		},
	}

	var signedObject string
	signer := &stubUploadSigner{
		signFn: func(_ context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error) {
			if bucket != "mitrakirim-proofs" {
				t.Fatalf("unexpected bucket %s", bucket)
			}
			if opts.Upload == nil || opts.Upload.ContentType != "image/jpeg" {
				t.Fatalf("unexpected upload options: %+v", opts.Upload)
			}
			if opts.Upload.MaxSize != maxProofPhotoSize {
				t.Fatalf("expected max size %d, got %d", maxProofPhotoSize, opts.Upload.MaxSize)
			}
			signedObject = object
			return pstorage.SignedURLResult{
				URL:       "https://storage.googleapis.com/mitrakirim-proofs/" + object,
				Method:    "PUT",
				ExpiresAt: fixedNow.Add(proofUploadExpiry),
				Headers:   map[string]string{"Content-Type": "image/jpeg"},
			}, nil
		},
	}

	svc := newTestUploadService(t, orders, signer)
	res, err := svc.SignProofUpload(context.Background(), ProofUploadCommand{
		OrderID:     order.ID,
		Actor:       Actor{ID: "driver-1", Type: domain.ActorDriver},
		PhotoType:   "pickup",
		ContentType: "image/jpeg",
		SizeBytes:   2 << 20,
	})
	if err != nil {
		t.Fatalf("SignProofUpload returned error: %v", err)
	}

	wantKey := "orders/" + order.ID + "/proof/pickup/01J8ZZZZZZZZZZZZZZZZZZZZZZ.jpg"
	if res.ObjectKey != wantKey {
		t.Fatalf("expected object key %s, got %s", wantKey, res.ObjectKey)
	}
	if signedObject != wantKey {
		t.Fatalf("signer received object %s, want %s", signedObject, wantKey)
	}
	if !strings.HasSuffix(res.URL, wantKey) {
		t.Fatalf("unexpected URL %s", res.URL)
	}
	if !res.ExpiresAt.Equal(fixedNow.Add(proofUploadExpiry)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}
	if res.Method != "PUT" {
		t.Fatalf("expected PUT method, got %s", res.Method)
	}
}

func TestSignProofUploadRejectsContentType(t *testing.T) {
	svc := newTestUploadService(t, &stubOrderRepo{}, &stubUploadSigner{})

	_, err := svc.SignProofUpload(context.Background(), ProofUploadCommand{
		OrderID:     "ord_1",
		Actor:       Actor{ID: "driver-1", Type: domain.ActorDriver},
		PhotoType:   "pickup",
		ContentType: "application/pdf",
	})
	if !errors.Is(err, ErrUploadInvalidInput) {
		t.Fatalf("expected ErrUploadInvalidInput, got %v", err)
	}
}

func TestSignProofUploadRejectsUnknownPhotoType(t *testing.T) {
	svc := newTestUploadService(t, &stubOrderRepo{}, &stubUploadSigner{})

	_, err := svc.SignProofUpload(context.Background(), ProofUploadCommand{
		OrderID:     "ord_1",
		Actor:       Actor{ID: "driver-1", Type: domain.ActorDriver},
		PhotoType:   "selfie",
		ContentType: "image/png",
	})
	if !errors.Is(err, ErrUploadInvalidInput) {
		t.Fatalf("expected ErrUploadInvalidInput, got %v", err)
	}
}

func TestSignProofUploadForbidsUnassignedDriver(t *testing.T) {
	order := sampleOrder(domain.OrderStatusDriverAtPickup)
	order.DriverID = valuePtr("driver-1")
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}

	svc := newTestUploadService(t, orders, &stubUploadSigner{})
	_, err := svc.SignProofUpload(context.Background(), ProofUploadCommand{
		OrderID:     order.ID,
		Actor:       Actor{ID: "driver-2", Type: domain.ActorDriver},
		PhotoType:   "delivery",
		ContentType: "image/png",
	})
	if !errors.Is(err, ErrUploadForbidden) {
		t.Fatalf("expected ErrUploadForbidden, got %v", err)
	}
}

func TestSignProofUploadMapsMissingOrder(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return domain.Order{}, stubRepoError{notFound: true}
		},
	}

	svc := newTestUploadService(t, orders, &stubUploadSigner{})
	_, err := svc.SignProofUpload(context.Background(), ProofUploadCommand{
		OrderID:     "ord_missing",
		Actor:       Actor{ID: "mitra-1", Type: domain.ActorMitra},
		PhotoType:   "pickup",
		ContentType: "image/webp",
	})
	if !errors.Is(err, ErrUploadOrderNotFound) {
		t.Fatalf("expected ErrUploadOrderNotFound, got %v", err)
	}
}
