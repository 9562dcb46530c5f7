package languages

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

// NewLangConfigFromFile reads <path>/config.json. The directory name is the
// language id unless the file sets one.
func NewLangConfigFromFile(path string) (*models.Language, error) {
	file, err := os.Open(filepath.Join(path, "config.json"))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	lang := &models.Language{IsActive: true, TimeMultiplier: 1, MemoryMultiplier: 1}
	if err := json.NewDecoder(file).Decode(lang); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", file.Name())
	}
	if lang.Id == "" {
		lang.Id = filepath.Base(path)
	}
	return lang, nil
}

// LoadDir loads every language directory under root.
func LoadDir(root string) ([]models.Language, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read languages dir")
	}
	var langs []models.Language
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		lang, err := NewLangConfigFromFile(filepath.Join(root, entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		langs = append(langs, *lang)
	}
	return langs, nil
}
