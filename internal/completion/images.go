package completion

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/openai"
)

const imageFilePrefix = "claude_image_"

// saveImages writes each image under dir and returns the file paths in
// order. Files written before a failure are removed.
func saveImages(dir string, images []openai.Image) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	paths := make([]string, 0, len(images))
	for _, image := range images {
		path := filepath.Join(dir, imageFilePrefix+uuid.NewString()+"."+image.Ext)
		if err := os.WriteFile(path, image.Data, 0o600); err != nil {
			for _, written := range paths {
				_ = os.Remove(written)
			}
			return nil, fmt.Errorf("write image %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func removeImages(logger zerolog.Logger, paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("remove image file")
		}
	}
}
