package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ev-agent/backend/pkg/logger"
)

// Document is a named source text. Immutable once loaded.
type Document struct {
	Name string
	Text string
}

// Chunk is the unit of retrieval. ChunkID is the sequential position of the
// chunk within its source and is used only for citation display.
type Chunk struct {
	ChunkID int
	Source  string
	Text    string
}

// LoadDocuments reads the corpus files. Missing or empty files are skipped
// silently; content that is not valid UTF-8 is decoded leniently by dropping
// the offending bytes.
func LoadDocuments(paths []string) []Document {
	docs := make([]Document, 0, len(paths))

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Corpus file unreadable, skipping",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}

		text := string(data)
		if !utf8.ValidString(text) {
			text = strings.ToValidUTF8(text, "")
			logger.Warn("Corpus file is not valid UTF-8, decoded leniently",
				zap.String("path", path),
			)
		}

		if strings.TrimSpace(text) == "" {
			continue
		}

		docs = append(docs, Document{
			Name: filepath.Base(path),
			Text: text,
		})
	}

	logger.Info("Corpus loaded",
		zap.Int("requested", len(paths)),
		zap.Int("loaded", len(docs)),
	)

	return docs
}
