package artifact

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ZstdExt is appended to compressed artifacts.
const ZstdExt = ".zst"

// CompressZstd compresses inputPath into inputPath+".zst" and removes the
// original on success.
func CompressZstd(inputPath string) (string, error) {
	outputPath := inputPath + ZstdExt

	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("open input file: %w", err)
	}
	defer inFile.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	defer outFile.Close()

	writer, err := zstd.NewWriter(outFile)
	if err != nil {
		return "", fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.Copy(writer, inFile); err != nil {
		writer.Close()
		return "", fmt.Errorf("compress file: %w", err)
	}
	// Close flushes the final frame; an error here means a truncated artifact.
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish zstd frame: %w", err)
	}
	if err := outFile.Sync(); err != nil {
		return "", fmt.Errorf("sync output file: %w", err)
	}

	if err := os.Remove(inputPath); err != nil {
		return "", fmt.Errorf("remove original file: %w", err)
	}

	return outputPath, nil
}
