package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/invoiceos/docstack/interfaces"
	docerrors "github.com/invoiceos/docstack/internal/errors"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/internal/utils"
	"github.com/invoiceos/docstack/services/storage/aws_client"
)

// documentStorage implements DocumentStorage on top of an S3-compatible client
type documentStorage struct {
	client     aws_client.S3Client
	bucketName string
	cdnDomain  string
	keyPrefix  string
}

type StorageConfig struct {
	BucketName string
	CDNDomain  string
	KeyPrefix  string
}

func NewDocumentStorage(client aws_client.S3Client, config StorageConfig) interfaces.DocumentStorage {
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "invoices"
	}
	return &documentStorage{
		client:     client,
		bucketName: config.BucketName,
		cdnDomain:  config.CDNDomain,
		keyPrefix:  prefix,
	}
}

// Store uploads document bytes under a content-addressed key. The key embeds
// the content hash so re-uploads of identical bytes land on the same object.
func (s *documentStorage) Store(ctx context.Context, data []byte, contentType string, suggestedName string) (*interfaces.StoredObject, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "documentStorage.Store")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	key := s.objectKey(data, contentType, suggestedName)
	span.SetTag("storage.key", key)

	uploadInput := s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if err := s.client.Upload(ctx, uploadInput); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("%w: %v", docerrors.ErrUploadFailed, err)
	}

	return &interfaces.StoredObject{
		Bucket: s.bucketName,
		Key:    key,
		URL:    s.publicURL(key),
	}, nil
}

func (s *documentStorage) objectKey(data []byte, contentType, suggestedName string) string {
	sum := sha256.Sum256(data)
	name := utils.SanitizeFilename(suggestedName)
	if name == "document" {
		name = "document." + utils.GetFileExtensionFromContentType(contentType)
	}
	return fmt.Sprintf("%s/%s/%s", s.keyPrefix, hex.EncodeToString(sum[:]), name)
}

func (s *documentStorage) publicURL(key string) string {
	if s.cdnDomain != "" {
		return "https://" + s.cdnDomain + "/" + key
	}
	return ""
}
