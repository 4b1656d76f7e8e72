package config

import (
	"fmt"
	"sync"
)

// Store 把级联配置与其所在的文件绑定，支持运行期重新加载和保存。
type Store struct {
	mu      sync.Mutex
	path    string
	cascade *Cascade
}

// NewStore 创建绑定到 path 的配置存储。
func NewStore(path string, cascade *Cascade) *Store {
	if cascade == nil {
		cascade = NewCascade()
	}
	return &Store{path: path, cascade: cascade}
}

// Path 返回配置文件路径。
func (s *Store) Path() string { return s.path }

// Cascade 返回运行期使用的级联配置。
func (s *Store) Cascade() *Cascade { return s.cascade }

// Load 重新读取配置文件并替换级联配置的全部内容。
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return fmt.Errorf("配置文件路径为空")
	}
	doc, err := ReadDocument(s.path)
	if err != nil {
		return err
	}
	s.cascade.Replace(doc)
	return nil
}

// Save 把当前级联配置（含覆盖层）写回配置文件。
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return fmt.Errorf("配置文件路径为空")
	}
	return WriteDocument(s.path, s.cascade.Snapshot())
}
