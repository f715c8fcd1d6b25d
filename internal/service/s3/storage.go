// storage.go
package s3

import (
	"context"
	"io"
)

// S3Object определяет интерфейс для объектов S3.
// ContentRange заполнен только для частичных объектов.
type S3Object interface {
	io.ReadCloser
	ContentLength() int64
	ContentType() string
	ContentRange() string
}

// s3Object реализует интерфейс S3Object
type s3Object struct {
	io.ReadCloser
	contentLength int64
	contentType   string
	contentRange  string
}

func (o *s3Object) ContentLength() int64 {
	return o.contentLength
}

func (o *s3Object) ContentType() string {
	return o.contentType
}

func (o *s3Object) ContentRange() string {
	return o.contentRange
}

// Storage определяет интерфейс для работы с S3-совместимым хранилищем
// медиа-артефактов. media_ref каждой версии служит ключом объекта.
// GetObjectRange с end < 0 читает от start до конца объекта.
type Storage interface {
	UploadBytes(key string, data []byte) error
	GetObject(ctx context.Context, key string) (S3Object, error)
	GetObjectRange(ctx context.Context, key string, start, end int64) (S3Object, error)
	DeleteObject(key string) error
}
