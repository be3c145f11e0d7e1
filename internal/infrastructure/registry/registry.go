package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/template"
	"github.com/everettbu/chatsafe/pkg/errors"
)

// ModelDefaults holds a model's default generation parameters.
type ModelDefaults struct {
	Temperature   float64 `json:"temperature" yaml:"temperature"`
	TopP          float64 `json:"top_p" yaml:"top_p"`
	TopK          int     `json:"top_k" yaml:"top_k"`
	RepeatPenalty float64 `json:"repeat_penalty" yaml:"repeat_penalty"`
	MaxTokens     int     `json:"max_tokens" yaml:"max_tokens"`
}

// ModelResources describes what a model needs from the host.
type ModelResources struct {
	MinRAMGB  float64 `json:"min_ram_gb" yaml:"min_ram_gb"`
	EstDiskGB float64 `json:"est_disk_gb" yaml:"est_disk_gb"`
	// GPULayers is -1 for all layers, 0 for CPU only.
	GPULayers int `json:"gpu_layers" yaml:"gpu_layers"`
	Threads   int `json:"threads" yaml:"threads"`
}

// ModelConfig is one registry entry.
type ModelConfig struct {
	ID            string                 `json:"id" yaml:"id"`
	Name          string                 `json:"name" yaml:"name"`
	Path          string                 `json:"path" yaml:"path"`
	CtxWindow     int                    `json:"ctx_window" yaml:"ctx_window"`
	TemplateID    string                 `json:"template_id" yaml:"template_id"`
	StopSequences []string               `json:"stop_sequences" yaml:"stop_sequences"`
	EOSToken      string                 `json:"eos_token" yaml:"eos_token"`
	Defaults      ModelDefaults          `json:"defaults" yaml:"defaults"`
	Resources     ModelResources         `json:"resources" yaml:"resources"`
	Default       bool                   `json:"default" yaml:"default"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Data is the on-disk registry document.
type Data struct {
	Version   string            `json:"version" yaml:"version"`
	Templates []template.Config `json:"templates" yaml:"templates"`
	Models    []ModelConfig     `json:"models" yaml:"models"`
}

// Registry resolves model ids to their configuration and prompt template.
// The catalog can be swapped by the file watcher, so all reads go through
// the mutex.
type Registry struct {
	mu             sync.RWMutex
	models         map[string]ModelConfig
	templates      map[string]template.Config
	defaultModelID string

	path     string
	modelDir string
	logger   *zap.Logger
}

// Load reads the registry at path, writing the built-in default registry
// first if the file does not exist.
func Load(path, modelDir string, logger *zap.Logger) (*Registry, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.NewInternalErrorWithCause("create registry directory", err)
		}
		if err := os.WriteFile(path, []byte(defaultRegistryJSON), 0644); err != nil {
			return nil, errors.NewInternalErrorWithCause("write default registry", err)
		}
		logger.Info("Wrote built-in model registry", zap.String("path", path))
	}

	r := &Registry{
		path:     path,
		modelDir: modelDir,
		logger:   logger.With(zap.String("component", "registry")),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// reload re-reads the registry file and swaps the catalog. On failure the
// previous catalog stays in place.
func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return errors.NewInternalErrorWithCause("read registry", err)
	}

	data, err := decode(r.path, raw)
	if err != nil {
		return err
	}

	models, templates, defaultID, err := index(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.models = models
	r.templates = templates
	r.defaultModelID = defaultID
	r.mu.Unlock()

	return nil
}

// decode parses the document as YAML or JSON depending on the extension.
func decode(path string, raw []byte) (Data, error) {
	var data Data
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return Data{}, errors.NewInternalErrorWithCause("parse registry yaml", err)
		}
	default:
		if err := json.Unmarshal(raw, &data); err != nil {
			return Data{}, errors.NewInternalErrorWithCause("parse registry json", err)
		}
	}
	return data, nil
}

// index validates the document and builds the lookup maps. With no model
// marked default, the first model in file order becomes the default.
func index(data Data) (map[string]ModelConfig, map[string]template.Config, string, error) {
	templates := make(map[string]template.Config, len(data.Templates))
	for _, tpl := range data.Templates {
		if _, ok := templates[tpl.ID]; ok {
			return nil, nil, "", errors.NewInternalError(fmt.Sprintf("duplicate template id %q", tpl.ID))
		}
		templates[tpl.ID] = tpl
	}

	models := make(map[string]ModelConfig, len(data.Models))
	defaultID := ""
	for _, model := range data.Models {
		if _, ok := models[model.ID]; ok {
			return nil, nil, "", errors.NewInternalError(fmt.Sprintf("duplicate model id %q", model.ID))
		}
		if model.CtxWindow <= 0 {
			return nil, nil, "", errors.NewInternalError(fmt.Sprintf("model %q has invalid ctx_window %d", model.ID, model.CtxWindow))
		}
		if _, ok := templates[model.TemplateID]; !ok {
			return nil, nil, "", errors.NewInternalError(fmt.Sprintf("model %q references unknown template %q", model.ID, model.TemplateID))
		}
		if model.Default {
			if defaultID != "" {
				return nil, nil, "", errors.NewInternalError("multiple default models specified")
			}
			defaultID = model.ID
		}
		models[model.ID] = model
	}

	if defaultID == "" && len(data.Models) > 0 {
		defaultID = data.Models[0].ID
		first := models[defaultID]
		first.Default = true
		models[defaultID] = first
	}

	return models, templates, defaultID, nil
}

// Model returns the configuration for id.
func (r *Registry) Model(id string) (ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, ok := r.models[id]
	if !ok {
		return ModelConfig{}, errors.NewModelNotFoundError(fmt.Sprintf("model not found: %s", id))
	}
	return model, nil
}

// DefaultModel returns the registry's default model.
func (r *Registry) DefaultModel() (ModelConfig, error) {
	r.mu.RLock()
	id := r.defaultModelID
	r.mu.RUnlock()

	if id == "" {
		return ModelConfig{}, errors.NewInternalError("no default model configured")
	}
	return r.Model(id)
}

// Template returns the template configuration for id.
func (r *Registry) Template(id string) (template.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.templates[id]
	if !ok {
		return template.Config{}, errors.NewInternalError(fmt.Sprintf("template not found: %s", id))
	}
	return tpl, nil
}

// ModelTemplate returns the template used by the given model.
func (r *Registry) ModelTemplate(modelID string) (template.Config, error) {
	model, err := r.Model(modelID)
	if err != nil {
		return template.Config{}, err
	}
	return r.Template(model.TemplateID)
}

// ModelPath returns the absolute path of the model's weights file.
func (r *Registry) ModelPath(modelID string) (string, error) {
	model, err := r.Model(modelID)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.modelDir, model.Path), nil
}

// GenerationParams builds params from the model's defaults with a fresh
// request id.
func (r *Registry) GenerationParams(modelID string) (chat.GenerationParams, error) {
	model, err := r.Model(modelID)
	if err != nil {
		return chat.GenerationParams{}, err
	}
	return chat.GenerationParams{
		RequestID:     uuid.NewString(),
		Temperature:   model.Defaults.Temperature,
		MaxTokens:     model.Defaults.MaxTokens,
		TopP:          model.Defaults.TopP,
		TopK:          model.Defaults.TopK,
		RepeatPenalty: model.Defaults.RepeatPenalty,
		StopSequences: append([]string(nil), model.StopSequences...),
	}, nil
}

// ApplyOverrides merges the request's sampling overrides onto the model
// defaults.
func (r *Registry) ApplyOverrides(modelID string, req *chat.ChatRequest) (chat.GenerationParams, error) {
	base, err := r.GenerationParams(modelID)
	if err != nil {
		return chat.GenerationParams{}, err
	}
	return req.Params(base.RequestID, base), nil
}

// ListModels returns all model ids sorted.
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ModelConfigs returns all models sorted by id.
func (r *Registry) ModelConfigs() []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelConfig, 0, len(r.models))
	for _, model := range r.models {
		out = append(out, model)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CheckResources reports whether the host has enough free memory for the
// model. Hosts without /proc/meminfo are assumed sufficient.
func (r *Registry) CheckResources(modelID string) (bool, error) {
	model, err := r.Model(modelID)
	if err != nil {
		return false, err
	}

	availGB, ok := memAvailableGB()
	if !ok {
		return true, nil
	}
	return availGB >= model.Resources.MinRAMGB, nil
}

// Export renders the current catalog as pretty-printed JSON.
func (r *Registry) Export() (string, error) {
	r.mu.RLock()
	data := Data{
		Version:   "1.0",
		Templates: make([]template.Config, 0, len(r.templates)),
		Models:    make([]ModelConfig, 0, len(r.models)),
	}
	for _, tpl := range r.templates {
		data.Templates = append(data.Templates, tpl)
	}
	for _, model := range r.models {
		data.Models = append(data.Models, model)
	}
	r.mu.RUnlock()

	sort.Slice(data.Templates, func(i, j int) bool { return data.Templates[i].ID < data.Templates[j].ID })
	sort.Slice(data.Models, func(i, j int) bool { return data.Models[i].ID < data.Models[j].ID })

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", errors.NewInternalErrorWithCause("export registry", err)
	}
	return string(out), nil
}

// memAvailableGB reads MemAvailable from /proc/meminfo.
func memAvailableGB() (float64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, false
		}
		return kb / (1024 * 1024), true
	}
	return 0, false
}
