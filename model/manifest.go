package model

import "time"

// ModelFormat is the closed set of artifact format tags (spec §3).
type ModelFormat string

const (
	FormatGGUF                 ModelFormat = "GGUF"
	FormatONNX                 ModelFormat = "ONNX"
	FormatTensorRT              ModelFormat = "TENSORRT"
	FormatTorchScript          ModelFormat = "TORCHSCRIPT"
	FormatTensorFlowSavedModel ModelFormat = "TENSORFLOW_SAVED_MODEL"
	FormatSafetensors          ModelFormat = "SAFETENSORS"
	FormatPyTorch              ModelFormat = "PYTORCH"
	FormatUnknown              ModelFormat = "UNKNOWN"
)

// Artifact describes the on-disk/remote location of one format of a model.
type Artifact struct {
	URI      string // file://... or http(s)://..., treated opaquely (spec §6)
	Checksum string
	SizeBytes int64
	MimeType  string
}

// ResourceRequirements are the device/memory requirements of spec §3.
type ResourceRequirements struct {
	MinMemoryBytes       int64
	RecommendedMemoryBytes int64
	MinVRAMBytes         int64
	MinCores             *int
	DiskSpaceBytes       *int64
}

// ModelManifest is immutable (spec §3).
type ModelManifest struct {
	ID            string
	DisplayName   string
	Version       string
	TenantID      string
	Artifacts     map[ModelFormat]Artifact
	Devices       []string
	Resources     ResourceRequirements
	Metadata      map[string]interface{}
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SupportsFormat reports whether the manifest has an artifact for format.
func (m *ModelManifest) SupportsFormat(f ModelFormat) bool {
	if m == nil {
		return false
	}
	_, ok := m.Artifacts[f]
	return ok
}

// SupportsDevice reports whether device is among the manifest's devices.
func (m *ModelManifest) SupportsDevice(device string) bool {
	if m == nil {
		return false
	}
	for _, d := range m.Devices {
		if d == device {
			return true
		}
	}
	return false
}

// ProviderCapabilities describes what a provider can do (spec §3).
type ProviderCapabilities struct {
	Streaming        bool
	FunctionCalling  bool
	Multimodal       bool
	Embeddings       bool
	MaxContextTokens int
	MaxOutputTokens  int
	SupportedModels  map[string]struct{} // empty = all
	Languages        []string
	Features         map[string]struct{}
}

// SupportsModel reports whether the capability set covers modelID; an
// empty SupportedModels set means "all models" (spec §4.3).
func (c ProviderCapabilities) SupportsModel(modelID string) bool {
	if len(c.SupportedModels) == 0 {
		return true
	}
	_, ok := c.SupportedModels[modelID]
	return ok
}

// HasFeature reports whether feature tag is present.
func (c ProviderCapabilities) HasFeature(tag string) bool {
	_, ok := c.Features[tag]
	return ok
}
