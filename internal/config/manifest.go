package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile 兼容两种 YAML 写法：顶层列表，或带 assets 键的映射。
type manifestFile struct {
	Assets []string `yaml:"assets"`
}

// LoadManifestFile 读取 YAML 预缓存清单。
func LoadManifestFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	var list []string
	if err := yaml.Unmarshal(b, &list); err == nil {
		return list, nil
	}

	var doc manifestFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("解析清单失败: %w", err)
	}
	return doc.Assets, nil
}

// PrecacheManifest 合并内联清单与清单文件，保持首次出现的顺序并去重。
func (w WorkerConfig) PrecacheManifest() ([]string, error) {
	entries := append([]string(nil), w.Manifest...)
	if w.ManifestFile != "" {
		fromFile, err := LoadManifestFile(w.ManifestFile)
		if err != nil {
			return nil, err
		}
		for i, entry := range fromFile {
			if err := validateManifestEntry(entry); err != nil {
				return nil, newFieldError(fmt.Sprintf("%s[%d]", w.ManifestFile, i), err.Error())
			}
		}
		entries = append(entries, fromFile...)
	}

	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out, nil
}
