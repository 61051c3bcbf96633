package render

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"modelprov/pkg/types"
)

// envRef is how the proxy reads a value from its environment at startup.
func envRef(name string) string { return "os.environ/" + name }

type proxyConfig struct {
	ModelList       []proxyModel     `yaml:"model_list"`
	LiteLLMSettings proxySettings    `yaml:"litellm_settings"`
	GeneralSettings *generalSettings `yaml:"general_settings,omitempty"`
}

type proxyModel struct {
	ModelName string      `yaml:"model_name"`
	Params    proxyParams `yaml:"litellm_params"`
}

type proxyParams struct {
	Model      string `yaml:"model"`
	APIBase    string `yaml:"api_base"`
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version,omitempty"`
}

type proxySettings struct {
	DropParams bool `yaml:"drop_params"`
}

type generalSettings struct {
	MasterKey string `yaml:"master_key"`
}

func proxyDeclarative(spec types.DeploymentSpec) ([]byte, error) {
	alias := spec.ServedModel()
	if err := firstError(
		checkPattern(yamlSyntax, "model", spec.Runtime.Model, modelPattern),
		yamlSyntax.check("alias", alias),
	); err != nil {
		return nil, err
	}
	cfg := proxyConfig{
		ModelList: []proxyModel{{
			ModelName: alias,
			Params: proxyParams{
				Model:   spec.Runtime.Model,
				APIBase: envRef(EnvBackendBase),
				APIKey:  envRef(EnvBackendKey),
			},
		}},
		LiteLLMSettings: proxySettings{DropParams: true},
	}
	if spec.Backend.APIVersion != "" {
		cfg.ModelList[0].Params.APIVersion = envRef(EnvBackendVersion)
	}
	if spec.Backend.MasterKey != "" {
		cfg.GeneralSettings = &generalSettings{MasterKey: envRef(EnvMasterKey)}
	}
	return marshalYAML(cfg)
}

type runtimeConfig struct {
	Alias      string               `yaml:"alias"`
	BaseModel  string               `yaml:"base_model"`
	Endpoint   string               `yaml:"endpoint"`
	KeepAlive  string               `yaml:"keep_alive,omitempty"`
	HugePages  int                  `yaml:"hugepages,omitempty"`
	Parameters []types.ProfileParam `yaml:"parameters,omitempty"`
}

func runtimeDeclarative(spec types.DeploymentSpec) ([]byte, error) {
	if err := checkPattern(yamlSyntax, "model", spec.Runtime.Model, modelPattern); err != nil {
		return nil, err
	}
	if spec.Runtime.Profile != "" {
		if err := checkPattern(yamlSyntax, "profile", spec.Runtime.Profile, profilePattern); err != nil {
			return nil, err
		}
	}
	cfg := runtimeConfig{
		Alias:      spec.ServedModel(),
		BaseModel:  spec.Runtime.Model,
		Endpoint:   spec.Endpoint(),
		HugePages:  spec.Runtime.HugePages,
		Parameters: spec.Runtime.Overrides(),
	}
	if spec.Runtime.KeepAlive != 0 {
		cfg.KeepAlive = formatKeepAlive(spec.Runtime.KeepAlive)
	}
	return marshalYAML(cfg)
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return buf.Bytes(), nil
}
