package service

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"go-wiki-engine/internal/acl"
	"go-wiki-engine/internal/cache"
	"go-wiki-engine/internal/content"
)

// ConfigTitle is the page holding the site configuration as YAML.
const ConfigTitle = "Config"

// NavItem is one entry of the navigation bar.
type NavItem struct {
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Shortcut string `yaml:"shortcut,omitempty" json:"shortcut,omitempty"`
}

// Permissions are the rules applied to pages without their own.
type Permissions struct {
	Read  []string `yaml:"read" json:"read"`
	Write []string `yaml:"write" json:"write"`
}

// SiteConfig is the editable configuration of the wiki.
type SiteConfig struct {
	Navigation []NavItem `yaml:"navigation" json:"navigation"`
	Admin      struct {
		Email string `yaml:"email" json:"email"`
	} `yaml:"admin" json:"admin"`
	Service struct {
		Title              string      `yaml:"title" json:"title"`
		Domain             string      `yaml:"domain" json:"domain"`
		CSSList            []string    `yaml:"css_list" json:"css_list"`
		DefaultPermissions Permissions `yaml:"default_permissions" json:"default_permissions"`
	} `yaml:"service" json:"service"`
	Highlight struct {
		Style              string   `yaml:"style" json:"style"`
		SupportedLanguages []string `yaml:"supported_languages" json:"supported_languages"`
	} `yaml:"highlight" json:"highlight"`
}

// DefaultSiteConfig returns the configuration used when the Config page is
// missing or does not set a value.
func DefaultSiteConfig(defaults acl.Rules) *SiteConfig {
	c := &SiteConfig{
		Navigation: []NavItem{
			{Name: "Home", URL: "/Home"},
			{Name: "Changes", URL: "/sp.changes", Shortcut: "C"},
		},
	}
	c.Service.CSSList = []string{"/static/css/base.css"}
	c.Service.DefaultPermissions = Permissions{Read: defaults.Read, Write: defaults.Write}
	c.Highlight.Style = "default"
	return c
}

// ParseSiteConfig reads a Config page body over the defaults.
func ParseSiteConfig(body string, defaults acl.Rules) (*SiteConfig, error) {
	c := DefaultSiteConfig(defaults)
	text := strings.TrimSpace(content.RemoveMetadata(body))
	if text == "" {
		return c, nil
	}
	if err := yaml.Unmarshal([]byte(text), c); err != nil {
		return nil, fmt.Errorf("failed to parse site configuration: %w", err)
	}
	return c, nil
}

// Rules returns the default page rules of the site.
func (c *SiteConfig) Rules() acl.Rules {
	return acl.Rules{Read: c.Service.DefaultPermissions.Read, Write: c.Service.DefaultPermissions.Write}
}

// SiteConfig returns the current site configuration. A Config page that
// no longer parses is logged and ignored.
func (s *PageService) SiteConfig(ctx context.Context) *SiteConfig {
	c, err := cache.Memo(s.cache, cache.ConfigKey(), nil, func() (*SiteConfig, error) {
		page, err := s.records.Find(ctx, ConfigTitle)
		if err != nil {
			return nil, err
		}
		if page == nil || page.Revision == 0 {
			return DefaultSiteConfig(s.defaults), nil
		}
		return ParseSiteConfig(page.Body, s.defaults)
	})
	if err != nil {
		s.log.Error(err, "Failed to load site configuration, using defaults")
		return DefaultSiteConfig(s.defaults)
	}
	return c
}
