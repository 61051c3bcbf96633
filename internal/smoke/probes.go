package smoke

import (
	"encoding/json"
	"fmt"
	"net/http"

	"modelprov/internal/runtime"
	"modelprov/pkg/types"
)

// Probe names.
const (
	ProbeLiveliness = "liveliness"
	ProbeModels     = "models"
	ProbeVersion    = "version"
	ProbeTags       = "tags"
	ProbeGenerate   = "generate"
)

// Probes returns the checks for the service described by spec.
func Probes(spec types.DeploymentSpec) []Probe {
	base := spec.Endpoint()
	model := spec.ServedModel()
	if spec.Kind == types.KindProxy {
		models := Probe{
			Name:  ProbeModels,
			URL:   base + "/v1/models",
			Check: listsModel(model),
		}
		if spec.Backend.MasterKey != "" {
			models.Header = http.Header{"Authorization": {"Bearer " + spec.Backend.MasterKey}}
		}
		return []Probe{
			{Name: ProbeLiveliness, URL: base + "/health/liveliness", Gate: true},
			models,
		}
	}

	probes := []Probe{
		{Name: ProbeVersion, URL: base + "/api/version", Gate: true, Check: runtimeVersion},
		{Name: ProbeTags, URL: base + "/api/tags", Check: hasTag(model)},
	}
	if spec.SmokeGenerate {
		body, _ := json.Marshal(map[string]any{
			"model":   model,
			"prompt":  "Reply with OK.",
			"stream":  false,
			"options": map[string]any{"num_predict": 8},
		})
		probes = append(probes, Probe{
			Name:   ProbeGenerate,
			Method: http.MethodPost,
			URL:    base + "/api/generate",
			Body:   body,
			Check:  generated,
		})
	}
	return probes
}

func listsModel(id string) func([]byte) (string, error) {
	return func(body []byte) (string, error) {
		var doc struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return "", fmt.Errorf("decode model list: %w", err)
		}
		for _, m := range doc.Data {
			if m.ID == id {
				return "serving " + id, nil
			}
		}
		return "", fmt.Errorf("model %s not listed", id)
	}
}

func runtimeVersion(body []byte) (string, error) {
	var doc struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode version: %w", err)
	}
	if doc.Version == "" {
		return "", fmt.Errorf("empty version")
	}
	return "version " + doc.Version, nil
}

func hasTag(name string) func([]byte) (string, error) {
	want := runtime.Normalize(name)
	return func(body []byte) (string, error) {
		var doc struct {
			Models []struct {
				Name string `json:"name"`
			} `json:"models"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return "", fmt.Errorf("decode tags: %w", err)
		}
		for _, m := range doc.Models {
			if runtime.Normalize(m.Name) == want {
				return "found " + want, nil
			}
		}
		return "", fmt.Errorf("model %s not in store", want)
	}
}

func generated(body []byte) (string, error) {
	var doc struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode generate: %w", err)
	}
	if !doc.Done {
		return "", fmt.Errorf("generation did not finish")
	}
	return fmt.Sprintf("generated %d bytes", len(doc.Response)), nil
}
