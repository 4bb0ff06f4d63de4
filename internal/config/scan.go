package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelInfo describes one rig found under the models directory.
type ModelInfo struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Motions     []string `json:"motions"`
	Expressions []string `json:"expressions"`
}

type modelFile struct {
	FileReferences struct {
		Motions     map[string][]json.RawMessage `json:"Motions"`
		Expressions []struct {
			Name string `json:"Name"`
		} `json:"Expressions"`
	} `json:"FileReferences"`
}

// ExpressionOverrides maps an expression label to parameter deltas.
type ExpressionOverrides map[string]map[string]float64

type overridesPayload struct {
	Expressions ExpressionOverrides `yaml:"expressions"`
}

// ScanModels executes the scanModels function.
func ScanModels(modelsDir string) []ModelInfo {
	models := []ModelInfo{}
	if modelsDir == "" {
		return models
	}
	_ = filepath.WalkDir(modelsDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d == nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".model3.json") {
			return nil
		}
		info, err := ReadModelInfo(path)
		if err != nil {
			return nil
		}
		if rel, relErr := filepath.Rel(modelsDir, path); relErr == nil {
			info.Path = filepath.ToSlash(rel)
		}
		models = append(models, info)
		return nil
	})
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models
}

// ReadModelInfo parses a *.model3.json file. Motions are reported as
// Group_index, matching the names accepted by play_motion.
func ReadModelInfo(path string) (ModelInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelInfo{}, err
	}
	var payload modelFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return ModelInfo{}, fmt.Errorf("parse %s: %w", path, err)
	}

	info := ModelInfo{
		Name:        strings.TrimSuffix(filepath.Base(path), ".model3.json"),
		Path:        path,
		Motions:     []string{},
		Expressions: []string{},
	}
	groups := make([]string, 0, len(payload.FileReferences.Motions))
	for group := range payload.FileReferences.Motions {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	for _, group := range groups {
		for i := range payload.FileReferences.Motions[group] {
			info.Motions = append(info.Motions, fmt.Sprintf("%s_%d", group, i))
		}
	}
	for _, expr := range payload.FileReferences.Expressions {
		if expr.Name != "" {
			info.Expressions = append(info.Expressions, expr.Name)
		}
	}
	return info, nil
}

// ReadExpressionOverrides reads per-label parameter deltas from a yaml file
// shaped as `expressions: {happy: {ParamMouthForm: 0.6}}`.
func ReadExpressionOverrides(path string) (ExpressionOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload overridesPayload
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if payload.Expressions == nil {
		return ExpressionOverrides{}, nil
	}
	return payload.Expressions, nil
}
