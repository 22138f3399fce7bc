package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

type S3 struct {
	Client *minio.Client
	Bucket string
	secure bool
}

func NewS3(endpoint, region, bucket, accessKey, secretKey, sessionToken string, useSSL, forcePathStyle, insecure bool) (*S3, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(accessKey, secretKey, sessionToken),
		Secure:    useSSL,
		Region:    region,
		Transport: transport,
		BucketLookup: func() minio.BucketLookupType {
			if forcePathStyle {
				return minio.BucketLookupPath
			}
			return minio.BucketLookupDNS
		}(),
	})
	if err != nil {
		return nil, err
	}
	return &S3{Client: client, Bucket: bucket, secure: useSSL}, nil
}

func (s *S3) Name() string { return "s3" }

func (s *S3) Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	return s.put(ctx, key, reader, size, minio.PutObjectOptions{UserMetadata: metadata})
}

func (s *S3) put(ctx context.Context, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.Client.PutObject(ctx, s.Bucket, key, reader, size, opts); err != nil {
		return unavailable("put", key, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.get(ctx, key, minio.GetObjectOptions{})
}

func (s *S3) get(ctx context.Context, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	ssec := opts.ServerSideEncryption != nil
	obj, err := s.Client.GetObject(ctx, s.Bucket, key, opts)
	if err != nil {
		return nil, mapS3Error("get", key, err, ssec)
	}
	// GetObject is lazy; Stat surfaces a missing key or a rejected SSE-C key now.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapS3Error("get", key, err, ssec)
	}
	return obj, nil
}

func (s *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapS3Error("stat", key, err, false)
	}
	return ObjectInfo{Key: key, Size: stat.Size, Modified: stat.LastModified, ETag: stat.ETag, Metadata: stat.UserMetadata}, nil
}

func (s *S3) List(ctx context.Context, prefix, delimiter string) ([]ObjectInfo, error) {
	ch := s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	infos := []ObjectInfo{}
	for obj := range ch {
		if obj.Err != nil {
			return nil, unavailable("list", prefix, obj.Err)
		}
		infos = append(infos, ObjectInfo{Key: obj.Key, Size: obj.Size, Modified: obj.LastModified, ETag: obj.ETag})
	}
	return collapse(infos, prefix, delimiter), nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.Client.RemoveObject(ctx, s.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return unavailable("delete", key, err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, unavailable("stat", key, err)
	}
	return true, nil
}

// SupportsSSEC reports whether customer keys may be sent to this endpoint;
// S3 only accepts them over TLS.
func (s *S3) SupportsSSEC() bool { return s.secure }

func (s *S3) PutSSEC(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string, encKey []byte) error {
	sse, err := encrypt.NewSSEC(encKey)
	if err != nil {
		return vaulterr.Invalid("sse-c key: %v", err)
	}
	return s.put(ctx, key, reader, size, minio.PutObjectOptions{UserMetadata: metadata, ServerSideEncryption: sse})
}

func (s *S3) GetSSEC(ctx context.Context, key string, encKey []byte) (io.ReadCloser, error) {
	sse, err := encrypt.NewSSEC(encKey)
	if err != nil {
		return nil, vaulterr.Invalid("sse-c key: %v", err)
	}
	return s.get(ctx, key, minio.GetObjectOptions{ServerSideEncryption: sse})
}

func mapS3Error(op, key string, err error, ssec bool) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return notFound(key)
	case "AccessDenied":
		if ssec {
			// S3 answers a wrong SSE-C key with 403.
			return &vaulterr.ObjectError{Op: op, Key: key, Err: fmt.Errorf("%w: %v", vaulterr.ErrAuthenticationFailure, err)}
		}
	}
	return unavailable(op, key, err)
}
