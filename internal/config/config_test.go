package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected port '8080', got '%s'", cfg.Server.Port)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Errorf("expected db driver 'sqlite', got '%s'", cfg.DB.Driver)
	}
	if cfg.Cache.DefaultTTL != 24*time.Hour {
		t.Errorf("expected default ttl 24h, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Engine.MaxWalkDistance != 5 {
		t.Errorf("expected max walk distance 5, got %d", cfg.Engine.MaxWalkDistance)
	}
	if len(cfg.Engine.DefaultWrite) != 1 || cfg.Engine.DefaultWrite[0] != "login" {
		t.Errorf("expected default write [login], got %v", cfg.Engine.DefaultWrite)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WIKI_DB_DRIVER", "mysql")
	t.Setenv("WIKI_DB_DSN", "wiki:secret@tcp(localhost:3306)/wiki?parseTime=true")
	t.Setenv("WIKI_ENGINE_MAX_WALK_DISTANCE", "7")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.DB.Driver != "mysql" {
		t.Errorf("expected db driver 'mysql', got '%s'", cfg.DB.Driver)
	}
	if cfg.Engine.MaxWalkDistance != 7 {
		t.Errorf("expected max walk distance 7, got %d", cfg.Engine.MaxWalkDistance)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr bool
	}{
		{"defaults are valid", func(v *viper.Viper) {}, false},
		{"unknown db driver", func(v *viper.Viper) { v.Set("db.driver", "postgres") }, true},
		{"sqlite cache without file", func(v *viper.Viper) { v.Set("cache.file_path", "") }, true},
		{"memory cache without file", func(v *viper.Viper) {
			v.Set("cache.driver", "memory")
			v.Set("cache.file_path", "")
		}, false},
		{"tls without cert", func(v *viper.Viper) { v.Set("server.tls.enabled", true) }, true},
		{"zero walk distance", func(v *viper.Viper) { v.Set("engine.max_walk_distance", 0) }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			tc.mutate(v)

			_, err := unmarshal(v)
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
