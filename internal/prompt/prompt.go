// internal/prompt/prompt.go
// Package prompt builds the instruction sent to a narrative provider. The
// instruction depends only on the file's name, size and MIME type, so the
// same file always produces the same instruction.
package prompt

import (
	"embed"
	"fmt"
	"strconv"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

//go:embed templates/*.txt
var templates embed.FS

var (
	base       = mustRead("base")
	byCategory = map[model.Category]string{
		model.CategoryImage:    mustRead("image"),
		model.CategoryVideo:    mustRead("video"),
		model.CategoryAudio:    mustRead("audio"),
		model.CategoryDocument: mustRead("document"),
	}
)

func mustRead(name string) string {
	b, err := templates.ReadFile("templates/" + name + ".txt")
	if err != nil {
		panic(fmt.Sprintf("prompt: missing template %s: %v", name, err))
	}
	return string(b)
}

// Build returns the metadata context followed by the category instruction.
func Build(file model.EvidenceFile) string {
	category := file.Category
	if _, ok := byCategory[category]; !ok {
		category = model.CategoryForMIME(file.MimeType)
	}
	return Context(file) + "\n" + base + "\n" + byCategory[category]
}

// Context describes the file to the provider.
func Context(file model.EvidenceFile) string {
	name := file.Name
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("\nFile Information:\n- Name: %s\n- Size: %s MB\n- Type: %s\n\nAnalysis Context: Tamil Nadu Police Evidence Investigation\n",
		name, SizeMB(file.Size()), file.MimeType)
}

// SizeMB formats a byte count in MiB rounded to two decimals.
func SizeMB(size int64) string {
	mb := float64(size) / (1024 * 1024)
	return strconv.FormatFloat(float64(int64(mb*100+0.5))/100, 'f', -1, 64)
}
