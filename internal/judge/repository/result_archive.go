package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"klausjudge/internal/common/storage"
	"klausjudge/internal/judge/model"
	appErr "klausjudge/pkg/errors"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// ResultArchive keeps the full per-test detail that the submissions row drops.
type ResultArchive interface {
	Archive(ctx context.Context, result model.SubmissionResult) (string, error)
}

// ObjectResultArchive stores zstd-compressed JSON results in object storage.
type ObjectResultArchive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
}

func NewObjectResultArchive(store storage.ObjectStorage, bucket, prefix string) *ObjectResultArchive {
	return &ObjectResultArchive{storage: store, bucket: bucket, prefix: prefix}
}

// ObjectKey returns <prefix>/<submission id>.json.zst.
func (a *ObjectResultArchive) ObjectKey(result model.SubmissionResult) string {
	return path.Join(a.prefix, result.SubmissionID.String()+".json.zst")
}

// Archive uploads the result and returns its object key.
func (a *ObjectResultArchive) Archive(ctx context.Context, result model.SubmissionResult) (string, error) {
	if a.storage == nil {
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("archive storage is not configured")
	}
	data, err := EncodeResult(result)
	if err != nil {
		return "", err
	}
	key := a.ObjectKey(result)
	opts := storage.PutOptions{
		ContentType:     "application/json",
		ContentEncoding: "zstd",
		Metadata:        map[string]string{"verdict": result.FinalVerdict.String()},
	}
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "archive result failed")
	}
	return key, nil
}

// Load fetches and decodes the archived result of a submission.
func (a *ObjectResultArchive) Load(ctx context.Context, submissionID uuid.UUID) (model.SubmissionResult, error) {
	if a.storage == nil {
		return model.SubmissionResult{}, appErr.New(appErr.ServiceUnavailable).WithMessage("archive storage is not configured")
	}
	key := a.ObjectKey(model.SubmissionResult{SubmissionID: submissionID})
	obj, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		return model.SubmissionResult{}, appErr.Wrapf(err, appErr.StorageError, "open archived result failed")
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return model.SubmissionResult{}, appErr.Wrapf(err, appErr.StorageError, "read archived result failed")
	}
	return DecodeResult(data)
}

// EncodeResult serializes a result as zstd-compressed JSON.
func EncodeResult(result model.SubmissionResult) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result failed: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// DecodeResult reverses EncodeResult.
func DecodeResult(data []byte) (model.SubmissionResult, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return model.SubmissionResult{}, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return model.SubmissionResult{}, fmt.Errorf("decompress result failed: %w", err)
	}
	var result model.SubmissionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.SubmissionResult{}, fmt.Errorf("decode result failed: %w", err)
	}
	return result, nil
}
