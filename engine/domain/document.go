package domain

import (
	"path/filepath"
	"strings"
)

// DocumentName derives a document's name from its source path: the base
// name with the final extension removed.
func DocumentName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
