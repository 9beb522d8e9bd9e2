package model

import "testing"

func TestModelManifest_SupportsFormatAndDevice(t *testing.T) {
	m := &ModelManifest{
		Artifacts: map[ModelFormat]Artifact{FormatGGUF: {URI: "file:///m.gguf"}},
		Devices:   []string{"cpu", "cuda:0"},
	}

	if !m.SupportsFormat(FormatGGUF) {
		t.Error("expected GGUF to be supported")
	}
	if m.SupportsFormat(FormatONNX) {
		t.Error("expected ONNX not to be supported")
	}
	if !m.SupportsDevice("cuda:0") {
		t.Error("expected cuda:0 to be supported")
	}
	if m.SupportsDevice("cuda:1") {
		t.Error("expected cuda:1 not to be supported")
	}
}

func TestModelManifest_NilReceiverIsSafe(t *testing.T) {
	var m *ModelManifest
	if m.SupportsFormat(FormatGGUF) {
		t.Error("expected a nil manifest to support nothing")
	}
	if m.SupportsDevice("cpu") {
		t.Error("expected a nil manifest to support no device")
	}
}

func TestProviderCapabilities_SupportsModel(t *testing.T) {
	all := ProviderCapabilities{}
	if !all.SupportsModel("anything") {
		t.Error("expected an empty SupportedModels set to mean 'all models'")
	}

	scoped := ProviderCapabilities{SupportedModels: map[string]struct{}{"m1": {}}}
	if !scoped.SupportsModel("m1") {
		t.Error("expected m1 to be supported")
	}
	if scoped.SupportsModel("m2") {
		t.Error("expected m2 not to be supported")
	}
}

func TestProviderCapabilities_HasFeature(t *testing.T) {
	c := ProviderCapabilities{Features: map[string]struct{}{"json_mode": {}}}
	if !c.HasFeature("json_mode") {
		t.Error("expected json_mode to be present")
	}
	if c.HasFeature("grammar") {
		t.Error("expected grammar not to be present")
	}
}
