package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store keeps generated documents under the media root.
type Store struct {
	root string
}

// NewStore returns a store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Write atomically replaces rel with data and returns the absolute path.
func (s *Store) Write(rel string, data []byte) (string, error) {
	path, err := s.path(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// Read returns the stored bytes of rel.
func (s *Store) Read(rel string) ([]byte, error) {
	path, err := s.path(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *Store) path(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("document path %q escapes media root", rel)
	}
	return filepath.Join(s.root, clean), nil
}

var unsafeName = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_")

// POFileName is purchase_orders/Purchase_Order_<po_number>_<vendor>.pdf.
func POFileName(poNumber, vendorName string) string {
	return fmt.Sprintf("purchase_orders/Purchase_Order_%s_%s.pdf", poNumber, unsafeName.Replace(strings.TrimSpace(vendorName)))
}

// OutwardFileName is outward/<document_number>.pdf.
func OutwardFileName(documentNumber string) string {
	return "outward/" + unsafeName.Replace(documentNumber) + ".pdf"
}
