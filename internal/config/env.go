package config

import (
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads key=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := godotenv.Read(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays the environment-style settings onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = n
			}
		}
	}

	str("DATABASE_URL", &cfg.Database.DSN)
	str("EMBEDDING_MODEL", &cfg.AI.EmbedModel)
	num("EMBEDDING_DIMENSION", &cfg.AI.EmbedDimension)
	str("GENERATION_MODEL", &cfg.AI.GenerateModel)
	str("VECTOR_INDEX_TYPE", &cfg.VectorIndex.Type)
	str("VECTOR_INDEX_NAME", &cfg.VectorIndex.Name)
	num("VECTOR_INDEX_TIMEOUT", &cfg.VectorIndex.Timeout)
	num("EMBED_BATCH_SIZE", &cfg.Pipeline.BatchSize)
	num("EMBED_ITEM_DELAY_MS", &cfg.Pipeline.ItemDelayMS)
	num("EMBED_BATCH_DELAY_MS", &cfg.Pipeline.BatchDelayMS)
	float("RATE_LIMIT_RPS", &cfg.Pipeline.RatePerSecond)
	num("ANSWER_TOP_K", &cfg.Answer.TopK)
	if v, ok := lookup("ANSWER_MIN_SCORE"); ok {
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 32); err == nil {
			cfg.Answer.MinScore = float32(n)
		}
	}

	if v, ok := lookup("GEMINI_API_KEY"); ok && v != "" {
		setProviderKey(cfg, "gemini", v)
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		setProviderKey(cfg, "openai", v)
	}
	if v, ok := lookup("OPENROUTER_API_KEY"); ok && v != "" {
		setProviderKey(cfg, "openrouter", v)
	}
}

// setProviderKey fills api_key for every provider entry of the given name,
// adding a gemini entry when none is configured at all.
func setProviderKey(cfg *Config, name, key string) {
	apply := func(items []ProviderConfig) []ProviderConfig {
		found := false
		for i := range items {
			if !strings.EqualFold(items[i].Name, name) {
				continue
			}
			found = true
			if items[i].Data == nil {
				items[i].Data = map[string]interface{}{}
			}
			if s, _ := items[i].Data["api_key"].(string); s == "" {
				items[i].Data["api_key"] = key
			}
		}
		if !found && len(items) == 0 && name == "gemini" {
			items = append(items, ProviderConfig{Name: name, Data: map[string]interface{}{"api_key": key}})
		}
		return items
	}
	cfg.AI.Embed = apply(cfg.AI.Embed)
	cfg.AI.Generate = apply(cfg.AI.Generate)
}
