// Package audit best-effort archives a settlement receipt to S3/R2 under
// settlements/<roomID>.json, independent of whether the outbound transfer
// itself succeeded. This answers the §9 open question about a durable
// settlement outbox without making settlement itself transactional — a
// reconciliation trail, not a fix to durability (spec.md §9, SPEC_FULL §12).
// Grounded on Musterbox-LLC-game-publish-system's utils/r2.go R2-over-S3
// client construction and upload shape.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Archiver uploads settlement receipts to an S3-compatible bucket.
type Archiver struct {
	client *s3.Client
	bucket string
	log    *zap.Logger
}

// New constructs an Archiver against an S3 or R2-compatible endpoint. It
// returns a nil *Archiver (valid, every method a no-op) when bucket is
// empty, the same "degrade gracefully" shape iliyamo-cinema-seat-reservation
// uses for its optional Redis client.
func New(ctx context.Context, bucket, region, endpoint, accessKey, secretKey string, log *zap.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: load aws config: %w", err)
	}

	var client *s3.Client
	if endpoint != "" {
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	} else {
		client = s3.NewFromConfig(cfg)
	}
	return &Archiver{client: client, bucket: bucket, log: log}, nil
}

// Archive implements settlement.ReceiptArchiver. receipt is any JSON-
// marshalable value — settlement.Receipt in practice — kept as `any` here so
// this leaf package never imports internal/settlement.
func (a *Archiver) Archive(ctx context.Context, receipt any) {
	if a == nil {
		return
	}
	body, err := json.Marshal(receipt)
	if err != nil {
		a.log.Warn("audit: marshal receipt failed", zap.Error(err))
		return
	}

	key := fmt.Sprintf("settlements/%s.json", roomIDFromJSON(body))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.log.Warn("audit: upload failed", zap.String("key", key), zap.Error(err))
	}
}

// roomIDFromJSON extracts the RoomID field from an already-marshaled
// receipt so this package stays decoupled from settlement.Receipt's concrete
// type.
func roomIDFromJSON(body []byte) string {
	var partial struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(body, &partial); err != nil || partial.RoomID == "" {
		return "unknown"
	}
	return partial.RoomID
}
