// Package config loads keel configuration files written in HCL and
// decodes them into the intermediate representation consumed by the
// engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/keel-iac/keel/internal/logging"
)

var configFileSchema = hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "resource", LabelNames: []string{"type", "name"}},
		{Type: "output", LabelNames: []string{"name"}},
	},
}

var resourceSchema = hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "provider"},
		{Name: "count"},
		{Name: "for_each"},
		{Name: "timeout"},
		{Name: "depends_on"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "lifecycle"},
	},
}

// resourceMetaAttrs mirrors resourceSchema; these attributes configure
// the resource itself and never land in Properties.
var resourceMetaAttrs = map[string]bool{
	"provider":   true,
	"count":      true,
	"for_each":   true,
	"timeout":    true,
	"depends_on": true,
}

var lifecycleSchema = hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "create_before_destroy"},
		{Name: "prevent_destroy"},
		{Name: "ignore_changes"},
	},
}

// Load reads configuration from a file or directory. For a directory,
// every .hcl file is loaded in lexical order and merged into a single
// config.
func Load(path string) (*ir.Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config directory: %w", err)
		}
		files = files[:0]
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".hcl") {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
		sort.Strings(files)
		if len(files) == 0 {
			return nil, fmt.Errorf("no .hcl files found in %s", path)
		}
	}

	cfg := &ir.Config{
		Resources: []*ir.Resource{},
		Outputs:   map[string]any{},
	}
	seen := make(map[string]string)

	for _, file := range files {
		if err := loadFile(file, cfg, seen); err != nil {
			return nil, err
		}
	}

	logging.Debug("loaded config", "files", len(files), "resources", len(cfg.Resources))
	return cfg, nil
}

func loadFile(filename string, cfg *ir.Config, seen map[string]string) error {
	src, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	hclFile, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse %s: %w", filename, diags)
	}

	content, diags := hclFile.Body.Content(&configFileSchema)
	if diags.HasErrors() {
		return fmt.Errorf("invalid config in %s: %w", filename, diags)
	}

	for _, block := range content.Blocks {
		switch block.Type {
		case "resource":
			res, err := decodeResourceBlock(block)
			if err != nil {
				return fmt.Errorf("%s: %w", filename, err)
			}
			addr := res.Address()
			if prev, ok := seen[addr]; ok {
				return fmt.Errorf("%s: duplicate resource %s (first declared in %s)", filename, addr, prev)
			}
			seen[addr] = filename
			cfg.Resources = append(cfg.Resources, res)
		case "output":
			attrs, diags := block.Body.JustAttributes()
			if diags.HasErrors() {
				return fmt.Errorf("%s: invalid output %q: %w", filename, block.Labels[0], diags)
			}
			attr, ok := attrs["value"]
			if !ok {
				return fmt.Errorf("%s: output %q is missing a value attribute", filename, block.Labels[0])
			}
			val, err := evalAttr(attr)
			if err != nil {
				return fmt.Errorf("%s: output %q: %w", filename, block.Labels[0], err)
			}
			cfg.Outputs[block.Labels[0]] = val
		}
	}

	return nil
}

func decodeResourceBlock(block *hcl.Block) (*ir.Resource, error) {
	res := &ir.Resource{
		Type:       block.Labels[0],
		Name:       block.Labels[1],
		Properties: map[string]any{},
	}

	content, remain, diags := block.Body.PartialContent(&resourceSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid resource %s.%s: %w", res.Type, res.Name, diags)
	}

	if attr, ok := content.Attributes["provider"]; ok {
		val, err := evalAttr(attr)
		if err != nil {
			return nil, err
		}
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("resource %s.%s: provider must be a string", res.Type, res.Name)
		}
		res.Provider = s
	}
	if res.Provider == "" {
		res.Provider = providerForType(res.Type)
	}

	if attr, ok := content.Attributes["count"]; ok {
		val, err := evalAttr(attr)
		if err != nil {
			return nil, err
		}
		n, ok := val.(int64)
		if !ok || n < 0 {
			return nil, fmt.Errorf("resource %s.%s: count must be a non-negative integer", res.Type, res.Name)
		}
		res.Count = int(n)
	}

	if attr, ok := content.Attributes["for_each"]; ok {
		val, err := evalAttr(attr)
		if err != nil {
			return nil, err
		}
		m, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("resource %s.%s: for_each must be a map", res.Type, res.Name)
		}
		res.ForEach = m
	}

	if res.Count > 0 && res.ForEach != nil {
		return nil, fmt.Errorf("resource %s.%s: count and for_each are mutually exclusive", res.Type, res.Name)
	}

	if attr, ok := content.Attributes["timeout"]; ok {
		val, err := evalAttr(attr)
		if err != nil {
			return nil, err
		}
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("resource %s.%s: timeout must be a duration string", res.Type, res.Name)
		}
		res.Timeout = s
	}

	if attr, ok := content.Attributes["depends_on"]; ok {
		val, err := evalAttr(attr)
		if err != nil {
			return nil, err
		}
		list, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("resource %s.%s: depends_on must be a list of addresses", res.Type, res.Name)
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("resource %s.%s: depends_on entries must be strings", res.Type, res.Name)
			}
			res.DependsOn = append(res.DependsOn, s)
		}
	}

	for _, inner := range content.Blocks {
		if inner.Type != "lifecycle" {
			continue
		}
		lc, err := decodeLifecycleBlock(inner)
		if err != nil {
			return nil, fmt.Errorf("resource %s.%s: %w", res.Type, res.Name, err)
		}
		res.Lifecycle = lc
	}

	// The remainder body still carries the declared blocks, so
	// JustAttributes would reject it. Read the raw attributes and skip
	// the meta ones consumed above.
	body, ok := remain.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("invalid resource %s.%s: unsupported body syntax", res.Type, res.Name)
	}
	for name, attr := range body.Attributes {
		if resourceMetaAttrs[name] {
			continue
		}
		val, err := evalAttr(attr.AsHCLAttribute())
		if err != nil {
			return nil, fmt.Errorf("resource %s.%s: attribute %s: %w", res.Type, res.Name, name, err)
		}
		res.Properties[name] = val
	}

	return res, nil
}

func decodeLifecycleBlock(block *hcl.Block) (*ir.Lifecycle, error) {
	content, diags := block.Body.Content(&lifecycleSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid lifecycle block: %w", diags)
	}

	lc := &ir.Lifecycle{}

	if attr, ok := content.Attributes["create_before_destroy"]; ok {
		val, err := evalAttr(attr)
		if err != nil {
			return nil, err
		}
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("create_before_destroy must be a bool")
		}
		lc.CreateBeforeDestroy = b
	}

	if attr, ok := content.Attributes["prevent_destroy"]; ok {
		val, err := evalAttr(attr)
		if err != nil {
			return nil, err
		}
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("prevent_destroy must be a bool")
		}
		lc.PreventDestroy = b
	}

	if attr, ok := content.Attributes["ignore_changes"]; ok {
		val, err := evalAttr(attr)
		if err != nil {
			return nil, err
		}
		list, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("ignore_changes must be a list of attribute names")
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("ignore_changes entries must be strings")
			}
			lc.IgnoreChanges = append(lc.IgnoreChanges, s)
		}
	}

	return lc, nil
}

// evalCtx exposes count and each as placeholder tokens so templates
// like "${count.index}" survive parsing and get substituted during
// resource expansion.
var evalCtx = &hcl.EvalContext{
	Variables: map[string]cty.Value{
		"count": cty.ObjectVal(map[string]cty.Value{
			"index": cty.StringVal("${count.index}"),
		}),
		"each": cty.ObjectVal(map[string]cty.Value{
			"key":   cty.StringVal("${each.key}"),
			"value": cty.StringVal("${each.value}"),
		}),
	},
}

func evalAttr(attr *hcl.Attribute) (any, error) {
	val, diags := attr.Expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to evaluate %s: %w", attr.Name, diags)
	}
	return ctyToGo(val)
}

// ctyToGo converts an evaluated cty value into plain Go values, the
// same shapes json.Unmarshal would produce plus int64 for whole
// numbers.
func ctyToGo(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if i, acc := bf.Int64(); acc == 0 {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			converted, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			converted, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			out[kv.AsString()] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}

// providerForType derives a provider name from a resource type.
// "docker_container" maps to docker, "local:File" maps to local, and a
// bare type falls back to the null provider.
func providerForType(typ string) string {
	if idx := strings.Index(typ, ":"); idx > 0 {
		return typ[:idx]
	}
	if idx := strings.Index(typ, "_"); idx > 0 {
		return typ[:idx]
	}
	return "null"
}
