// Package sanitize 过滤项目描述中的敏感词，在项目创建和更新时调用。
package sanitize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"CollabFM/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultWords 内置敏感词表
var DefaultWords = []string{"damn", "hell", "crap", "bastard", "bloody"}

// Sanitizer 按整词、忽略大小写替换敏感词为等长星号
type Sanitizer struct {
	mu      sync.RWMutex
	words   []string
	pattern *regexp.Regexp
}

// New 使用给定词表创建过滤器
func New(words []string) *Sanitizer {
	s := &Sanitizer{}
	s.SetWords(words)
	return s
}

// SetWords 替换词表，空白项会被忽略
func (s *Sanitizer) SetWords(words []string) {
	cleaned := make([]string, 0, len(words))
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		cleaned = append(cleaned, w)
		quoted = append(quoted, regexp.QuoteMeta(w))
	}

	var pattern *regexp.Regexp
	if len(quoted) > 0 {
		pattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}

	s.mu.Lock()
	s.words = cleaned
	s.pattern = pattern
	s.mu.Unlock()
}

// Words 返回当前词表副本
func (s *Sanitizer) Words() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.words...)
}

// Clean 返回过滤后的文本
func (s *Sanitizer) Clean(text string) string {
	s.mu.RLock()
	pattern := s.pattern
	s.mu.RUnlock()
	if pattern == nil || text == "" {
		return text
	}
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		return strings.Repeat("*", utf8.RuneCountInString(match))
	})
}

// wordFile 词表文件格式:
//
//	words:
//	  - foo
//	  - bar
type wordFile struct {
	Words []string `yaml:"words"`
}

// LoadFile 从 YAML 文件读取词表
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f wordFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse denylist %s: %w", path, err)
	}
	return f.Words, nil
}

// Watch 监听词表文件，变更后重新加载，直到 ctx 结束。
// 监听的是所在目录，编辑器以重命名方式保存文件时也能收到事件。
func (s *Sanitizer) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				words, err := LoadFile(path)
				if err != nil {
					logger.Warn("[Sanitize] 重新加载敏感词表失败", logger.String("path", path), logger.ErrorField(err))
					continue
				}
				s.SetWords(words)
				logger.Info("[Sanitize] 敏感词表已更新", logger.Int("count", len(words)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("[Sanitize] 文件监听错误", logger.ErrorField(err))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
