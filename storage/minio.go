package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"countcoach/config"
	"countcoach/core/overlay"
	"countcoach/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var minioClient *minio.Client

// InitMinio initializes the MinIO client and ensures the bucket exists.
func InitMinio(cfg *config.Config) error {
	logger.Info("connecting to MinIO",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		err = client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	logger.Info("MinIO client initialized")
	return nil
}

// GetMinioClient returns the MinIO client instance.
func GetMinioClient() *minio.Client {
	return minioClient
}

// UploadObject stores an object from a reader.
func UploadObject(ctx context.Context, cfg *config.Config, objectPath string, r io.Reader, size int64, contentType string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}
	_, err := minioClient.PutObject(ctx, cfg.MinioBucket, objectPath, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}
	return nil
}

// DownloadToFile fetches an object into a local file, creating parent
// directories as needed.
func DownloadToFile(ctx context.Context, cfg *config.Config, objectPath, localPath string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}

	object, err := minioClient.GetObject(ctx, cfg.MinioBucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to get object %s: %w", objectPath, err)
	}
	defer object.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, object); err != nil {
		return fmt.Errorf("failed to download %s: %w", objectPath, err)
	}
	return nil
}

// DeleteObject removes an object.
func DeleteObject(ctx context.Context, cfg *config.Config, objectPath string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}
	err := minioClient.RemoveObject(ctx, cfg.MinioBucket, objectPath, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectPath, err)
	}
	return nil
}

// ListObjects prints every object under prefix; used by the minio command.
func ListObjects(cfg *config.Config, prefix string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count := 0
	var totalSize int64
	for object := range minioClient.ListObjects(ctx, cfg.MinioBucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return fmt.Errorf("failed to list objects: %w", object.Err)
		}
		fmt.Printf("  %-60s %10d bytes  %s\n", object.Key, object.Size, object.LastModified.Format(time.RFC3339))
		count++
		totalSize += object.Size
	}
	fmt.Printf("Total: %d objects, %d bytes\n", count, totalSize)
	return nil
}

// SampleSource reads overlay sample assets from the bucket's sample prefix.
// It implements overlay.Source.
type SampleSource struct {
	Cfg *config.Config
}

// Fetch opens the object for one sample key.
func (s SampleSource) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	if minioClient == nil {
		return nil, fmt.Errorf("MinIO client not initialized")
	}

	objectPath := s.Cfg.SamplePrefix + overlay.SampleFileName(key)
	object, err := minioClient.GetObject(ctx, s.Cfg.MinioBucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get sample %s: %w", objectPath, err)
	}
	// GetObject is lazy; a missing key only surfaces on the first read.
	if _, err := object.Stat(); err != nil {
		object.Close()
		if strings.Contains(err.Error(), "key does not exist") || minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, overlay.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to stat sample %s: %w", objectPath, err)
	}
	return object, nil
}
