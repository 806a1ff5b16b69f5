// Package pipeline loads, mutates and re-serializes Tekton pipeline
// definition files. Migration scripts rewrite the file with yq-style
// tooling, so after an apply pass the document is round-tripped through the
// YAML model to restore a consistent formatting, preserving the
// block-sequence indentation convention detected in the input.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the Tekton document kind of a definition file.
type Kind string

const (
	KindPipeline    Kind = "Pipeline"
	KindPipelineRun Kind = "PipelineRun"
)

const defaultIndent = 2

// Definition is a loaded pipeline definition file.
type Definition struct {
	Path string
	Kind Kind

	root   *yaml.Node
	indent int
	mode   os.FileMode
}

// Load parses the pipeline definition at path. Only Pipeline and
// PipelineRun documents are supported.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat pipeline file %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file %s: %w", path, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("pipeline file %s is not a YAML mapping document", path)
	}

	kindNode := mappingValue(root.Content[0], "kind")
	if kindNode == nil {
		return nil, fmt.Errorf("pipeline file %s has no kind", path)
	}
	kind := Kind(kindNode.Value)
	switch kind {
	case KindPipeline, KindPipelineRun:
	default:
		return nil, fmt.Errorf("pipeline file %s has unsupported kind %q", path, kindNode.Value)
	}

	return &Definition{
		Path:   path,
		Kind:   kind,
		root:   &root,
		indent: detectIndent(root.Content[0]),
		mode:   info.Mode().Perm(),
	}, nil
}

// Save re-serializes the definition to its file.
func (d *Definition) Save() error {
	data, err := d.render(d.root)
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.Path, data, d.mode); err != nil {
		return fmt.Errorf("failed to write pipeline file %s: %w", d.Path, err)
	}
	return nil
}

func (d *Definition) render(node *yaml.Node) ([]byte, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(d.indent)
	if err := enc.Encode(node); err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to serialize pipeline document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to serialize pipeline document: %w", err)
	}
	return []byte(sb.String()), nil
}

// WithWorkableFile invokes fn with the path of a plain Pipeline document
// that migration scripts may mutate in place.
//
// For a Pipeline definition that is the file itself; if fn changed it, the
// document is load-dump round-tripped to restore consistent formatting.
//
// For a PipelineRun definition, the embedded spec.pipelineSpec is extracted
// into a temporary standalone Pipeline document; if fn changed it, the
// mutated spec is spliced back and the original file rewritten. Scripts
// therefore see the same document shape either way.
func (d *Definition) WithWorkableFile(fn func(path string) error) error {
	switch d.Kind {
	case KindPipeline:
		return d.withPipelineFile(fn)
	case KindPipelineRun:
		return d.withPipelineRunFile(fn)
	default:
		return fmt.Errorf("unsupported pipeline kind %q", d.Kind)
	}
}

func (d *Definition) withPipelineFile(fn func(path string) error) error {
	before, err := fileChecksum(d.Path)
	if err != nil {
		return err
	}

	if err := fn(d.Path); err != nil {
		return err
	}

	after, err := fileChecksum(d.Path)
	if err != nil {
		return err
	}
	if after == before {
		return nil
	}

	// Reload so in-memory state follows the scripts' edits, then dump to
	// normalize formatting.
	reloaded, err := Load(d.Path)
	if err != nil {
		return err
	}
	reloaded.indent = d.indent
	d.root = reloaded.root
	return d.Save()
}

func (d *Definition) withPipelineRunFile(fn func(path string) error) error {
	spec := mappingValue(d.root.Content[0], "spec")
	if spec == nil {
		return fmt.Errorf("pipeline run %s has no spec", d.Path)
	}
	pipelineSpec := mappingValue(spec, "pipelineSpec")
	if pipelineSpec == nil {
		return fmt.Errorf("pipeline run %s has no spec.pipelineSpec", d.Path)
	}

	// Scripts operate on a standalone Pipeline document so they do not
	// need to understand the PipelineRun embedding.
	tempDoc := &yaml.Node{
		Kind: yaml.DocumentNode,
		Content: []*yaml.Node{{
			Kind: yaml.MappingNode,
			Content: []*yaml.Node{
				scalarNode("kind"), scalarNode(string(KindPipeline)),
				scalarNode("spec"), pipelineSpec,
			},
		}},
	}
	data, err := d.render(tempDoc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "*-pipeline")
	if err != nil {
		return fmt.Errorf("failed to create temporary pipeline file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary pipeline file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write temporary pipeline file: %w", err)
	}

	before, err := fileChecksum(tmpName)
	if err != nil {
		return err
	}

	if err := fn(tmpName); err != nil {
		return err
	}

	after, err := fileChecksum(tmpName)
	if err != nil {
		return err
	}
	if after == before {
		return nil
	}

	modified, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("failed to read back temporary pipeline file: %w", err)
	}
	var modifiedRoot yaml.Node
	if err := yaml.Unmarshal(modified, &modifiedRoot); err != nil {
		return fmt.Errorf("migration output is not valid YAML: %w", err)
	}
	if modifiedRoot.Kind != yaml.DocumentNode || len(modifiedRoot.Content) == 0 {
		return fmt.Errorf("migration output is not a YAML document")
	}
	modifiedSpec := mappingValue(modifiedRoot.Content[0], "spec")
	if modifiedSpec == nil {
		return fmt.Errorf("migration output lost the spec section")
	}

	setMappingValue(spec, "pipelineSpec", modifiedSpec)
	return d.Save()
}

// UpdateBundleReference rewrites every bundle reference of repo in the
// document to point at newTag and newDigest, returning whether anything
// changed. The caller persists with Save.
func (d *Definition) UpdateBundleReference(repo, newTag, newDigest string) bool {
	replacement := fmt.Sprintf("%s:%s@%s", repo, newTag, newDigest)
	changed := false

	var walk func(node *yaml.Node)
	walk = func(node *yaml.Node) {
		if node.Kind == yaml.ScalarNode {
			if strings.HasPrefix(node.Value, repo+":") || strings.HasPrefix(node.Value, repo+"@") {
				if node.Value != replacement {
					node.Value = replacement
					changed = true
				}
			}
			return
		}
		for _, child := range node.Content {
			walk(child)
		}
	}
	walk(d.root)
	return changed
}

// mappingValue returns the value node for key in a mapping node, or nil.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// setMappingValue replaces the value for key in a mapping node, appending
// the pair when absent.
func setMappingValue(node *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			node.Content[i+1] = value
			return
		}
	}
	node.Content = append(node.Content, scalarNode(key), value)
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// detectIndent infers the mapping indentation step from the first nested
// block mapping, defaulting to two spaces.
func detectIndent(root *yaml.Node) int {
	var find func(node *yaml.Node) int
	find = func(node *yaml.Node) int {
		if node.Kind == yaml.MappingNode {
			for i := 1; i < len(node.Content); i += 2 {
				value := node.Content[i]
				if value.Kind == yaml.MappingNode && len(value.Content) > 0 &&
					value.Line != node.Content[i-1].Line {
					if step := value.Content[0].Column - node.Content[i-1].Column; step > 0 {
						return step
					}
				}
			}
		}
		for _, child := range node.Content {
			if step := find(child); step > 0 {
				return step
			}
		}
		return 0
	}
	if step := find(root); step > 0 {
		return step
	}
	return defaultIndent
}

func fileChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
