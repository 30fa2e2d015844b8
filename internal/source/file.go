package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
	payloadschema "horse.fit/flashpoint/schema"
)

const maxLineBytes = 4 * 1024 * 1024

// FileSource reads a JSON array, a JSON-lines file, or every *.json/*.jsonl file in a directory.
// Invalid records are skipped and logged.
type FileSource struct {
	path   string
	logger zerolog.Logger
}

func NewFileSource(path string, logger zerolog.Logger) *FileSource {
	return &FileSource{path: strings.TrimSpace(path), logger: logger}
}

func (s *FileSource) Name() string {
	return "file:" + s.path
}

func (s *FileSource) Articles(ctx context.Context) ([]model.Article, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	var out []model.Article
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", path, err)
		}
		articles, rejected := Decode(path, data)
		for _, rec := range rejected {
			s.logger.Warn().Err(rec.Err).Str("file", rec.Origin).Int("index", rec.Index).Msg("skipping invalid article record")
		}
		out = append(out, articles...)
	}
	return out, nil
}

func (s *FileSource) files() ([]string, error) {
	if s.path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	if !info.IsDir() {
		return []string{s.path}, nil
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", s.path, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".json" || ext == ".jsonl" {
			files = append(files, filepath.Join(s.path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Decode parses data as a JSON array of article payloads, or as one payload per line.
func Decode(origin string, data []byte) ([]model.Article, []RecordError) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, []RecordError{{Origin: origin, Index: 0, Err: fmt.Errorf("decode JSON array: %w", err)}}
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			raws = append(raws, json.RawMessage(bytes.Clone(line)))
		}
		if err := scanner.Err(); err != nil {
			return nil, []RecordError{{Origin: origin, Index: len(raws), Err: fmt.Errorf("scan lines: %w", err)}}
		}
	}

	articles := make([]model.Article, 0, len(raws))
	var rejected []RecordError
	for i, raw := range raws {
		item, err := payloadschema.ValidateArticlePayload(raw)
		if err != nil {
			rejected = append(rejected, RecordError{Origin: origin, Index: i, Err: err})
			continue
		}
		articles = append(articles, item.Article())
	}
	return articles, rejected
}
