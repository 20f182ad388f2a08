package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// QrelsEntry is one labeled query with its relevant fqnames. Kinds carries
// per-fqname kind labels when the qrels file spells them out.
type QrelsEntry struct {
	Query    string
	Relevant []string
	Kinds    map[string]string
}

type qrelsItem struct {
	Query           string            `json:"query"`
	Relevant        []json.RawMessage `json:"relevant"`
	RelevantFQNames []json.RawMessage `json:"relevant_fqnames"`
}

type qrelsRef struct {
	FQName string `json:"fqname"`
	Kind   string `json:"kind"`
}

// LoadQrels reads labeled queries from a .json file (array of objects) or a
// .jsonl file (one object per line). Each object needs a non-empty "query"
// and a "relevant" (or "relevant_fqnames") list whose entries are fqname
// strings or {fqname, kind} objects. An empty relevant list is allowed; the
// runner excludes such queries from the recall mean.
func LoadQrels(path string) ([]QrelsEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []QrelsEntry
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		for i, raw := range strings.Split(string(data), "\n") {
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			var item qrelsItem
			if err := json.Unmarshal([]byte(line), &item); err != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
			}
			entry, err := normalizeItem(item)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
			}
			entries = append(entries, entry)
		}
	} else {
		var items []qrelsItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%s: qrels must be a list of objects: %w", path, err)
		}
		for i, item := range items {
			entry, err := normalizeItem(item)
			if err != nil {
				return nil, fmt.Errorf("%s item %d: %w", path, i, err)
			}
			entries = append(entries, entry)
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no qrels rows found in %s", path)
	}
	return entries, nil
}

func normalizeItem(item qrelsItem) (QrelsEntry, error) {
	entry := QrelsEntry{Query: strings.TrimSpace(item.Query)}
	if entry.Query == "" {
		return entry, fmt.Errorf("qrels item must include non-empty 'query'")
	}

	raws := item.Relevant
	if raws == nil {
		raws = item.RelevantFQNames
	}
	if raws == nil {
		return entry, fmt.Errorf("qrels item must include list field 'relevant' (or 'relevant_fqnames')")
	}

	for _, raw := range raws {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				entry.Relevant = append(entry.Relevant, s)
			}
			continue
		}
		var ref qrelsRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return entry, fmt.Errorf("relevant entries must be fqname strings or {fqname, kind} objects")
		}
		fq := strings.TrimSpace(ref.FQName)
		if fq == "" {
			return entry, fmt.Errorf("relevant object must include non-empty 'fqname'")
		}
		entry.Relevant = append(entry.Relevant, fq)
		if kind := strings.TrimSpace(ref.Kind); kind != "" {
			if entry.Kinds == nil {
				entry.Kinds = make(map[string]string)
			}
			entry.Kinds[fq] = kind
		}
	}
	return entry, nil
}
