package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/model"
)

func TestBuildSelectsCategoryInstruction(t *testing.T) {
	tests := []struct {
		filename string
		want     string
		notWant  string
	}{
		{"scene.jpg", "IMAGE ANALYSIS - BE SPECIFIC:", "VIDEO ANALYSIS"},
		{"cctv.mp4", "VIDEO ANALYSIS - INCLUDE TIMESTAMPS:", "IMAGE ANALYSIS"},
		{"call.mp3", "AUDIO ANALYSIS - INCLUDE TIMESTAMPS:", "DOCUMENT ANALYSIS"},
		{"fir.pdf", "DOCUMENT ANALYSIS - BE SPECIFIC:", "AUDIO ANALYSIS"},
		{"blob.unknownext", "DOCUMENT ANALYSIS - BE SPECIFIC:", "IMAGE ANALYSIS"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			file := model.NewEvidenceFile(tt.filename, []byte("x"), "")
			got := Build(file)

			assert.Contains(t, got, tt.want)
			assert.NotContains(t, got, tt.notWant)
			assert.Contains(t, got, "You are a Tamil Nadu Police evidence analyst.")
			assert.Contains(t, got, "- Name: "+tt.filename)
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	file := model.NewEvidenceFile("cctv.mp4", make([]byte, 3*1024*1024), "")

	first := Build(file)
	second := Build(file)

	assert.Equal(t, first, second)
	assert.True(t, strings.Index(first, "File Information:") < strings.Index(first, "CRITICAL REQUIREMENTS:"))
	assert.Contains(t, first, "- Size: 3 MB")
	assert.Contains(t, first, "- Type: video/mp4")
}

func TestSizeMB(t *testing.T) {
	assert.Equal(t, "0", SizeMB(0))
	assert.Equal(t, "1.5", SizeMB(1536*1024))
	assert.Equal(t, "0.01", SizeMB(10*1024))
	assert.Equal(t, "100", SizeMB(100*1024*1024))
}
