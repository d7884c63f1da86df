package service

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/pladee42/alt-history-reel/config"
)

// Distributor pushes finished reels and their working assets to object
// storage and hands back shareable URLs.
type Distributor struct {
	client *minio.Client
	bucket string
	log    *logrus.Entry
}

func NewDistributor(cfg *config.Config) (*Distributor, error) {
	client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	return &Distributor{
		client: client,
		bucket: cfg.MinIO.Bucket,
		log:    logrus.WithField("component", "distributor"),
	}, nil
}

func (d *Distributor) ensureBucket(ctx context.Context) error {
	exists, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := d.client.MakeBucket(ctx, d.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		d.log.WithField("bucket", d.bucket).Info("bucket created")
	}
	return nil
}

// UploadVideo uploads a rendered reel and returns a presigned URL valid for
// 72 hours.
func (d *Distributor) UploadVideo(ctx context.Context, localPath, scenarioID string) (string, error) {
	if err := d.ensureBucket(ctx); err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("reels/%s/%s", scenarioID, filepath.Base(localPath))
	_, err := d.client.FPutObject(ctx, d.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		return "", fmt.Errorf("upload reel: %w", err)
	}

	presigned, err := d.client.PresignedGetObject(ctx, d.bucket, objectName, 72*time.Hour, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign reel url: %w", err)
	}

	d.log.WithFields(logrus.Fields{"scenario": scenarioID, "object": objectName}).Info("reel uploaded")
	return presigned.String(), nil
}

// UploadFolder backs up every file in a scenario's working directory under
// assets/<id>/. Best-effort archival of keyframes and clips for later reuse.
func (d *Distributor) UploadFolder(ctx context.Context, localDir, scenarioID string) error {
	if err := d.ensureBucket(ctx); err != nil {
		return err
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("read asset dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		localPath := filepath.Join(localDir, entry.Name())
		objectName := fmt.Sprintf("assets/%s/%s", scenarioID, entry.Name())
		_, err := d.client.FPutObject(ctx, d.bucket, objectName, localPath, minio.PutObjectOptions{
			ContentType: contentTypeFor(entry.Name()),
		})
		if err != nil {
			return fmt.Errorf("upload asset %s: %w", entry.Name(), err)
		}
	}

	d.log.WithFields(logrus.Fields{"scenario": scenarioID, "files": len(entries)}).Info("assets archived")
	return nil
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
