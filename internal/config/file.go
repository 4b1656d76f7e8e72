package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format 表示配置文档的序列化格式。
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatOf 根据文件扩展名推断配置格式，未知扩展名按 YAML 处理。
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// ReadDocument 读取并解析配置文档。
func ReadDocument(path string) (map[string]any, error) {
	if path == "" {
		return nil, fmt.Errorf("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	doc, err := DecodeDocument(FormatOf(path), content)
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return doc, nil
}

// DecodeDocument 将原始内容解析为配置文档。
func DecodeDocument(format Format, content []byte) (map[string]any, error) {
	doc := map[string]any{}
	if len(bytes.TrimSpace(content)) == 0 {
		return doc, nil
	}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(content, &doc)
	case FormatTOML:
		_, err = toml.Decode(string(content), &doc)
	default:
		err = yaml.Unmarshal(content, &doc)
	}
	if err != nil {
		return nil, err
	}
	normalized, _ := normalize(doc).(map[string]any)
	return normalized, nil
}

// EncodeDocument 按指定格式序列化配置文档。
func EncodeDocument(format Format, doc map[string]any) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// WriteDocument 先写入临时文件再重命名，避免保存过程中留下半个文件。
func WriteDocument(path string, doc map[string]any) error {
	content, err := EncodeDocument(FormatOf(path), doc)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("写入配置失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("写入配置失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("保存配置失败: %w", err)
	}
	return nil
}
