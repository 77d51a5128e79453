package diarize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rollcall/internal/services"
)

// ExtractClip cuts [startSeconds, endSeconds) out of source into dest as a
// 16 kHz mono pcm_s16le WAV, the engine's embedding input format.
func ExtractClip(ctx context.Context, ffmpegBinary, source string, startSeconds, endSeconds float64, dest string) error {
	if strings.TrimSpace(source) == "" {
		return services.Wrap(services.ErrValidation, "diarize", "extract clip", "source path is required", nil)
	}
	if startSeconds < 0 || endSeconds <= startSeconds {
		return services.Wrap(services.ErrValidation, "diarize", "extract clip", fmt.Sprintf("empty clip range %.2f..%.2f", startSeconds, endSeconds), nil)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "diarize", "extract clip", "create clip directory", err)
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(startSeconds),
		"-t", formatSeconds(endSeconds - startSeconds),
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	cmd := commandContext(ctx, ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrExternalTool, "diarize", "extract clip", strings.TrimSpace(string(output)), err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
