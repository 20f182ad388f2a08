package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"codemap/internal/store"
)

// settings is the merged configuration every command starts from.
// Precedence: changed flags, then CODEMAP_* environment variables, then a
// .codemap.yaml file (working directory or home), then defaults.
type settings struct {
	DB         string `mapstructure:"db"`
	SourceRoot string `mapstructure:"source_root"`
	OllamaURL  string `mapstructure:"ollama_url"`
	Model      string `mapstructure:"model"`
	Summarizer string `mapstructure:"summarizer"`
	CodexBin   string `mapstructure:"codex_bin"`
}

func loadSettings() (settings, error) {
	v := viper.New()
	v.SetDefault("db", "")
	v.SetDefault("source_root", "")
	v.SetDefault("ollama_url", "http://localhost:11434")
	v.SetDefault("model", "qwen2.5:7b")
	v.SetDefault("summarizer", "ollama")
	v.SetDefault("codex_bin", "codex")

	v.SetConfigName(".codemap")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	v.SetEnvPrefix("CODEMAP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	pf := rootCmd.PersistentFlags()
	for key, name := range map[string]string{
		"db":          "db",
		"source_root": "source-root",
		"ollama_url":  "ollama",
		"model":       "model",
		"summarizer":  "summarizer",
		"codex_bin":   "codex-bin",
	} {
		if err := v.BindPFlag(key, pf.Lookup(name)); err != nil {
			return settings{}, err
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("parse config: %w", err)
	}
	return s, nil
}

// dbPath resolves the database location. With no explicit path the index
// lives under the source root, falling back to the working directory.
func (s settings) dbPath() (string, error) {
	if s.DB != "" {
		return s.DB, nil
	}
	root := s.SourceRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = wd
	}
	return filepath.Join(root, ".codemap", "index.db"), nil
}

// openStore opens an existing index, refusing to create one implicitly.
func openStore(dbPath string) (*store.SQLiteStore, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("index not found at %s\nRun 'codemap index <path>' first to build the index", dbPath)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return st, nil
}

// sourceRoot returns the tree snippets are read from: the configured root
// if set, otherwise the root recorded by the last indexing run.
func sourceRoot(st store.Store, s settings) (string, error) {
	if s.SourceRoot != "" {
		return filepath.Abs(s.SourceRoot)
	}
	root, err := st.GetMeta("source_root")
	if err != nil {
		return "", err
	}
	if root == "" {
		return "", fmt.Errorf("source root unknown: pass --source-root or re-run 'codemap index <path>'")
	}
	return root, nil
}

// parseKindsCSV splits a --kinds value like "class,function" into a slice,
// dropping empty segments. Validation happens in the retrieve layer.
func parseKindsCSV(raw string) []string {
	var kinds []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
