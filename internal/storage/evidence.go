// Package storage хранит файлы доказательств по спорам.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

const sniffLen = 512

// StoredObject сохранённый файл.
type StoredObject struct {
	Key      string
	Size     int64
	MimeType string
	SHA256   string
}

// EvidenceStore хранилище файлов доказательств.
type EvidenceStore interface {
	Save(ctx context.Context, disputeID uuid.UUID, originalName string, r io.Reader) (*StoredObject, error)
}

var allowedMimeTypes = map[string]string{
	"application/pdf": ".pdf",
	"application/zip": ".zip",
	"text/plain":      ".txt",
}

// Sniff определяет тип файла по содержимому. Разрешены изображения, PDF, ZIP и текст UTF-8.
func Sniff(head []byte) (mime, ext string, err error) {
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	kind, _ := filetype.Match(head)
	if kind != filetype.Unknown {
		if filetype.IsImage(head) {
			return kind.MIME.Value, "." + kind.Extension, nil
		}
		if ext, ok := allowedMimeTypes[kind.MIME.Value]; ok {
			return kind.MIME.Value, ext, nil
		}
		return "", "", apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("неподдерживаемый тип файла (%s). Разрешены изображения, PDF, ZIP и текст", kind.MIME.Value))
	}
	if isText(head) {
		return "text/plain", ".txt", nil
	}
	return "", "", apperror.New(apperror.ErrCodeValidation, "не удалось определить тип файла")
}

func isText(head []byte) bool {
	if len(head) == 0 || bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	// обрезанный на границе многобайтный символ допустим
	for i := 0; i < utf8.UTFMax && len(head) > 0; i++ {
		if utf8.Valid(head) {
			return true
		}
		head = head[:len(head)-1]
	}
	return false
}

// readLimited читает файл целиком, проверяя лимит, тип и контрольную сумму.
func readLimited(r io.Reader, maxBytes int64) ([]byte, *StoredObject, string, error) {
	limited := io.LimitedReader{R: r, N: maxBytes + 1}
	data, err := io.ReadAll(&limited)
	if err != nil {
		return nil, nil, "", fmt.Errorf("storage: ошибка чтения файла: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, nil, "", apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("размер файла превышает лимит %d байт", maxBytes))
	}
	if len(data) == 0 {
		return nil, nil, "", apperror.New(apperror.ErrCodeValidation, "файл не может быть пустым")
	}

	mime, ext, err := Sniff(data)
	if err != nil {
		return nil, nil, "", err
	}

	sum := sha256.Sum256(data)
	return data, &StoredObject{
		Size:     int64(len(data)),
		MimeType: mime,
		SHA256:   hex.EncodeToString(sum[:]),
	}, ext, nil
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" || name == "." {
		name = "evidence"
	}
	return name
}

// objectName имя файла: префикс хеша и очищенное исходное имя с расширением по реальному типу.
func objectName(obj *StoredObject, originalName, ext string) string {
	base := strings.TrimSuffix(sanitizeFilename(originalName), filepath.Ext(originalName))
	if base == "" {
		base = "evidence"
	}
	return fmt.Sprintf("%s_%s%s", obj.SHA256[:16], base, ext)
}
