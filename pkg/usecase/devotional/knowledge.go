package devotional

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

// Knowledge supplies the reference material devotionals and replies are based on
type Knowledge interface {
	Load(ctx context.Context) (string, error)
}

var knowledgeExts = map[string]bool{
	".txt":  true,
	".md":   true,
	".json": true,
}

// StaticKnowledge is a fixed text
type StaticKnowledge string

func (k StaticKnowledge) Load(ctx context.Context) (string, error) {
	return string(k), nil
}

// DirKnowledge reads every text, markdown and JSON file in a directory. JSON
// files contribute their string values.
type DirKnowledge struct {
	dir string
}

func NewDirKnowledge(dir string) *DirKnowledge {
	return &DirKnowledge{dir: dir}
}

func (k *DirKnowledge) Load(ctx context.Context) (string, error) {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		if os.IsNotExist(err) {
			logging.From(ctx).Warn("knowledge base directory not found", "dir", k.dir)
			return "", nil
		}
		return "", goerr.Wrap(err, "failed to read knowledge base directory", goerr.V("dir", k.dir))
	}

	var docs []document
	for _, entry := range entries {
		if entry.IsDir() || !knowledgeExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(k.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logging.From(ctx).Warn("skip unreadable knowledge file", "path", path, "error", err)
			continue
		}
		docs = append(docs, document{name: entry.Name(), data: data})
	}
	return joinDocuments(ctx, docs), nil
}

// StorageKnowledge reads documents under a prefix of an object storage bucket
type StorageKnowledge struct {
	storage adapter.Storage
	prefix  string
}

func NewStorageKnowledge(storage adapter.Storage, prefix string) *StorageKnowledge {
	return &StorageKnowledge{storage: storage, prefix: prefix}
}

func (k *StorageKnowledge) Load(ctx context.Context) (string, error) {
	keys, err := k.storage.List(ctx, k.prefix)
	if err != nil {
		return "", goerr.Wrap(err, "failed to list knowledge base objects")
	}

	var docs []document
	for _, key := range keys {
		if !knowledgeExts[strings.ToLower(filepath.Ext(key))] {
			continue
		}
		data, err := k.read(ctx, key)
		if err != nil {
			logging.From(ctx).Warn("skip unreadable knowledge object", "key", key, "error", err)
			continue
		}
		docs = append(docs, document{name: key, data: data})
	}
	return joinDocuments(ctx, docs), nil
}

func (k *StorageKnowledge) read(ctx context.Context, key string) ([]byte, error) {
	r, err := k.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read knowledge object", goerr.V("key", key))
	}
	return data, nil
}

type document struct {
	name string
	data []byte
}

func joinDocuments(ctx context.Context, docs []document) string {
	sort.Slice(docs, func(i, j int) bool { return docs[i].name < docs[j].name })

	var b strings.Builder
	for _, doc := range docs {
		text := string(doc.data)
		if strings.EqualFold(filepath.Ext(doc.name), ".json") {
			extracted, err := jsonText(doc.data)
			if err != nil {
				logging.From(ctx).Warn("skip malformed json document", "name", doc.name, "error", err)
				continue
			}
			text = extracted
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		b.WriteString("=== ")
		b.WriteString(filepath.Base(doc.name))
		b.WriteString(" ===\n")
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// jsonText collects string values of a JSON document in document order
func jsonText(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", goerr.Wrap(err, "invalid json")
	}

	var parts []string
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				parts = append(parts, s)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		}
	}
	walk(v)
	return strings.Join(parts, "\n"), nil
}

// TruncateRunes cuts s to at most n runes. A non-positive n keeps s whole.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
