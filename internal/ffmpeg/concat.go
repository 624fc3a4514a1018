/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ffmpeg

import (
	"fmt"
	"os"
	"strings"

	"github.com/friendsincode/grimnir_tv/internal/models"
)

// WriteConcatFile writes an ffconcat list for the demuxer. Paths are single
// quoted with embedded quotes escaped; in/out trims become inpoint/outpoint.
func WriteConcatFile(path string, clips []models.Clip) error {
	var sb strings.Builder
	sb.WriteString("ffconcat version 1.0\n")

	for _, clip := range clips {
		if clip.Path == "" {
			continue
		}
		fmt.Fprintf(&sb, "file '%s'\n", escapeConcatPath(clip.Path))
		if clip.In > 0 {
			fmt.Fprintf(&sb, "inpoint %g\n", clip.In)
		}
		if clip.Out > clip.In && clip.Out > 0 {
			fmt.Fprintf(&sb, "outpoint %g\n", clip.Out)
		}
	}

	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
