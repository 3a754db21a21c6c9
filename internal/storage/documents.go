package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

// Допустимые типы документов проверки личности.
var allowedTypes = map[string]struct{}{
	"jpg": {},
	"png": {},
	"pdf": {},
}

// DocumentStorage хранит документы KYC на диске. Тип файла определяется по
// содержимому, а не по расширению из запроса.
type DocumentStorage struct {
	basePath string
	maxSize  int64
}

// NewDocumentStorage создаёт хранилище и его корневой каталог.
func NewDocumentStorage(basePath string, maxSizeMB int64) (*DocumentStorage, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create base dir %w", err)
	}
	return &DocumentStorage{basePath: basePath, maxSize: maxSizeMB << 20}, nil
}

// Save проверяет и записывает документ, возвращая путь относительно корня
// хранилища.
func (s *DocumentStorage) Save(userID uuid.UUID, data []byte) (string, error) {
	if int64(len(data)) > s.maxSize {
		return "", fmt.Errorf("storage: файл превышает допустимый размер")
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return "", fmt.Errorf("storage: не удалось определить тип файла")
	}
	if _, ok := allowedTypes[kind.Extension]; !ok {
		return "", fmt.Errorf("storage: тип файла %s не поддерживается", kind.Extension)
	}

	dir := filepath.Join(s.basePath, userID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("storage: create user dir %w", err)
	}
	name := uuid.New().String() + "." + kind.Extension
	full := filepath.Join(dir, name)
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("storage: write document %w", err)
	}
	return filepath.Join(userID.String(), name), nil
}

// Read возвращает содержимое документа по относительному пути.
func (s *DocumentStorage) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.Clean(relPath)))
	if err != nil {
		return nil, fmt.Errorf("storage: read document %w", err)
	}
	return data, nil
}
