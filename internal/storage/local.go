package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore хранит доказательства в файловой системе.
type LocalStore struct {
	rootPath       string
	maxUploadBytes int64
}

// NewLocalStore создаёт файловое хранилище.
func NewLocalStore(rootPath string, maxUploadMB int64) (*LocalStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &LocalStore{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// Save сохраняет файл и возвращает относительный путь в Key.
func (s *LocalStore) Save(ctx context.Context, disputeID uuid.UUID, originalName string, r io.Reader) (*StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, obj, ext, err := readLimited(r, s.maxUploadBytes)
	if err != nil {
		return nil, err
	}

	disputeDir := filepath.Join(s.rootPath, disputeID.String())
	if err := os.MkdirAll(disputeDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог спора: %w", err)
	}

	fileName := objectName(obj, originalName, ext)
	targetPath := filepath.Join(disputeDir, fileName)
	tempPath := targetPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	obj.Key = filepath.ToSlash(filepath.Join(disputeID.String(), fileName))
	return obj, nil
}

// Open открывает сохранённый файл по ключу.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target := filepath.Join(s.rootPath, filepath.Clean("/"+key))
	f, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("storage: не удалось открыть файл: %w", err)
	}
	return f, nil
}
