// internal/model/evidence.go
// Package model defines the data structures shared across the evidence service.
// These structures represent evidence files, analysis results, cases and reports.
package model

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// Category is the coarse media class of an evidence file.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryDocument Category = "document"
)

// DefaultMimeType is used when the MIME type of a file cannot be determined.
const DefaultMimeType = "application/octet-stream"

// evidenceTypes covers container formats the built-in table may not know.
var evidenceTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".bmp":  "image/bmp",
	".txt":  "text/plain",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

func init() {
	for ext, typ := range evidenceTypes {
		if mime.TypeByExtension(ext) == "" {
			_ = mime.AddExtensionType(ext, typ)
		}
	}
}

// CategoryForMIME maps a MIME type onto its media category.
// Anything that is not image, video or audio is treated as a document.
func CategoryForMIME(mimeType string) Category {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	case strings.HasPrefix(mimeType, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return CategoryAudio
	default:
		return CategoryDocument
	}
}

// DetectMimeType resolves the MIME type of an upload from its filename,
// then the declared content type, then DefaultMimeType.
func DetectMimeType(filename, declared string) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
		return byExt
	}
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != DefaultMimeType {
			return mediaType
		}
	}
	return DefaultMimeType
}

// Mode selects how much analysis the orchestrator performs.
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeAdvanced Mode = "advanced"
)

// EvidenceFile is a single uploaded piece of evidence. It is immutable once read.
type EvidenceFile struct {
	Name     string   // Original filename as uploaded
	Content  []byte   // Raw file bytes
	MimeType string   // Resolved MIME type
	Category Category // Media category derived from MimeType
}

// NewEvidenceFile builds an EvidenceFile, resolving MIME type and category.
func NewEvidenceFile(name string, content []byte, declaredType string) EvidenceFile {
	mimeType := DetectMimeType(name, declaredType)
	return EvidenceFile{
		Name:     filepath.Base(name),
		Content:  content,
		MimeType: mimeType,
		Category: CategoryForMIME(mimeType),
	}
}

// Size returns the file size in bytes.
func (f EvidenceFile) Size() int64 { return int64(len(f.Content)) }

// AnalysisResult is the unit persisted per upload.
type AnalysisResult struct {
	Filename          string            `json:"filename"`                    // Original filename
	OriginalMediaType string            `json:"original_media_type"`         // MIME type used for analysis
	Category          Category          `json:"category"`                    // Media category
	Narrative         string            `json:"narrative_text"`              // Provider or fallback narrative
	Provider          string            `json:"provider"`                    // Narrator that produced the text
	Degraded          bool              `json:"degraded"`                    // True when the fallback report was used
	AdvancedFeatures  *AdvancedFeatures `json:"advanced_features,omitempty"` // Present only for successful advanced runs
	FileHash          string            `json:"file_hash"`                   // SHA-256 of the original bytes
	Size              int64             `json:"size"`                        // Size in bytes
	Language          string            `json:"language,omitempty"`          // Report language
	CreatedAt         time.Time         `json:"created_at"`                  // When the analysis finished
	CaseID            string            `json:"case_id,omitempty"`           // Linked case, if any
	EvidenceID        string            `json:"evidence_id,omitempty"`       // Linked evidence, if any
}

// AdvancedFeatures is the structured layer added on top of a narrative.
// Video results fill the track/scene/timeline fields, image results the
// face/object/safety fields.
type AdvancedFeatures struct {
	Category        Category       `json:"category"`
	SceneChanges    int            `json:"scene_changes,omitempty"`
	ObjectsTracked  int            `json:"objects_tracked,omitempty"`
	TextDetections  int            `json:"text_detections,omitempty"`
	Timeline        *Timeline      `json:"detailed_timeline,omitempty"`
	FacesDetected   int            `json:"faces_detected,omitempty"`
	ObjectsDetected int            `json:"objects_detected,omitempty"`
	TextFound       bool           `json:"text_found,omitempty"`
	ContentSafety   *SafeSearch    `json:"content_safety,omitempty"`
	Summary         *MediaSummary  `json:"analysis_summary,omitempty"`
	KeyFrames       []KeyFrame     `json:"key_frames,omitempty"`
	Analysis        *MediaAnalysis `json:"media_analysis,omitempty"`
}

// HasTimeline reports whether a timeline was produced, even an empty one.
func (a *AdvancedFeatures) HasTimeline() bool {
	return a != nil && a.Timeline != nil
}

// KeyFrame is a still extracted from a video at a timeline timestamp.
type KeyFrame struct {
	FrameNumber int64   `json:"frame_number"`
	TimestampS  float64 `json:"timestamp"`
	Formatted   string  `json:"timestamp_formatted"`
	ImageData   string  `json:"image_data"` // base64 JPEG
}

// Answer is the Q&A responder output.
type Answer struct {
	Text       string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// Case groups evidence under one investigation. It is the lifetime owner
// of its Evidence records.
type Case struct {
	ID            string    `json:"id,omitempty"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	OfficerID     string    `json:"officerId"`
	EvidenceType  string    `json:"evidenceType,omitempty"`
	Language      string    `json:"language,omitempty"`
	Status        string    `json:"status"`
	EvidenceCount int64     `json:"evidenceCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CaseStatusActive is the status every new case starts with.
const CaseStatusActive = "active"

// CreateCaseRequest carries the caller-supplied case fields.
type CreateCaseRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	OfficerID    string `json:"officerId"`
	EvidenceType string `json:"evidenceType"`
	Language     string `json:"language"`
}

// CaseFilter narrows a case listing. Empty fields match everything.
type CaseFilter struct {
	Status    string
	OfficerID string
}

// Evidence is one analysed file attached to a case.
type Evidence struct {
	ID               string            `json:"evidenceId"`
	CaseID           string            `json:"caseId"`
	Filename         string            `json:"filename"`
	BlobURL          string            `json:"fileUrl"`
	Narrative        string            `json:"analysis"`
	AdvancedFeatures *AdvancedFeatures `json:"advanced_features,omitempty"`
	AnalysisType     Mode              `json:"analysisType"`
	FileType         string            `json:"fileType"`
	Language         string            `json:"language"`
	FileHash         string            `json:"fileHash"`
	AnalysisStatus   string            `json:"analysisStatus"`
	Degraded         bool              `json:"degraded"`
	AddedAt          time.Time         `json:"addedAt"`
}

// AnalysisStatusCompleted marks evidence whose analysis has been stored.
const AnalysisStatusCompleted = "completed"

// Report is the retrievable record of one generated PDF report.
type Report struct {
	ID                string            `json:"id,omitempty"`
	Filename          string            `json:"filename"`
	EvidenceURL       string            `json:"evidence_url"`
	OriginalMediaType string            `json:"original_media_type"`
	Narrative         string            `json:"analysis"`
	AdvancedFeatures  *AdvancedFeatures `json:"advanced_features,omitempty"`
	PDF               []byte            `json:"pdf_bytes"`
	FileHash          string            `json:"file_hash"`
	CaseID            string            `json:"case_id,omitempty"`
	EvidenceID        string            `json:"evidence_id,omitempty"`
	Language          string            `json:"language"`
	Timestamp         time.Time         `json:"timestamp"`
}
