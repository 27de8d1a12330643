package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"bus-booking/booking/domain"
)

// FileObjectStore grava cada objeto como arquivo em dir.
//
// A escrita vai para um arquivo temporário no mesmo diretório e depois é
// renomeada, então leitores nunca veem um snapshot pela metade. ContentType e
// CacheControl não têm onde ser guardados e são ignorados.
type FileObjectStore struct {
	dir string
}

func NewFileObjectStore(dir string) *FileObjectStore {
	return &FileObjectStore{dir: dir}
}

func (s *FileObjectStore) Path(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *FileObjectStore) Put(ctx context.Context, obj domain.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !filepath.IsLocal(obj.Key) {
		return fmt.Errorf("object key %q escapes store directory", obj.Key)
	}

	dst := s.Path(obj.Key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(obj.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
