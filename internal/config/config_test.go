package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.StorageDriver != StorageDriverFilesystem || cfg.DataDir != defaultDataDir {
		t.Fatalf("unexpected storage defaults %#v", cfg)
	}
	if cfg.RecommendCacheTTL != 24*time.Hour || cfg.RecommendCacheCapacity != 0 {
		t.Fatalf("unexpected cache defaults ttl=%s capacity=%d", cfg.RecommendCacheTTL, cfg.RecommendCacheCapacity)
	}
	if cfg.RecommendMinRating != 4.0 || cfg.RecommendCacheDepth != 20 {
		t.Fatalf("unexpected recommendation defaults %#v", cfg)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.PersonalizationEnabled() {
		t.Fatalf("expected personalization to be disabled without an api key")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SHELF_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("SHELF_STORAGE_DRIVER", "SQLite")
	t.Setenv("SHELF_RECOMMEND_CACHE_CAPACITY", "500")
	t.Setenv("SHELF_PERSONALIZER_API_KEY", "key")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SigningSecret != "from-env" || cfg.StorageDriver != StorageDriverSQLite {
		t.Fatalf("expected env overrides, got %#v", cfg)
	}
	if cfg.RecommendCacheCapacity != 500 || !cfg.PersonalizationEnabled() {
		t.Fatalf("expected env overrides, got %#v", cfg)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	testCases := map[string]func(values map[string]any){
		"missing secret":    func(values map[string]any) { delete(values, "auth.signing_secret") },
		"unknown driver":    func(values map[string]any) { values["storage.driver"] = "postgres" },
		"negative capacity": func(values map[string]any) { values["recommend.cache_capacity"] = -1 },
		"rating too high":   func(values map[string]any) { values["recommend.min_rating"] = 6.0 },
	}
	for name, mutate := range testCases {
		t.Run(name, func(t *testing.T) {
			values := map[string]any{"auth.signing_secret": "secret"}
			mutate(values)
			configViper := NewViper()
			for key, value := range values {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
