package files

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type FileStorage struct {
	cl     *minio.Client
	Bucket string
}

type Config struct {
	Url      string
	Login    string
	Password string
	Bucket   string
	Secure   bool
}

func NewFileStorage(cfg Config) (*FileStorage, error) {
	client, err := minio.New(cfg.Url, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Login, cfg.Password, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}
	return &FileStorage{cl: client, Bucket: cfg.Bucket}, nil
}

func (s *FileStorage) GetFile(ctx context.Context, filename string) (io.ReadCloser, error) {
	file, err := s.cl.GetObject(ctx, s.Bucket, filename, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return file, nil
}
