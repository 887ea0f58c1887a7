package storage

import (
	"context"
	"fmt"

	"github.com/cuemby/medallion/internal/config"
)

type s3Factory struct {
	kind Kind
}

func (f s3Factory) Validate(spec config.StorageSpec) error {
	if spec.Bucket == "" {
		return fmt.Errorf("storage: %s requires a bucket", f.kind)
	}
	return nil
}

func (f s3Factory) Create(spec config.StorageSpec) (Backend, error) {
	return NewS3Backend(context.Background(), spec, f.kind)
}

func init() {
	Register(string(KindObjectStore), s3Factory{kind: KindObjectStore})
	Register(string(KindBlob), s3Factory{kind: KindBlob})
}
