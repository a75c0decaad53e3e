package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable. Provider-specific settings are
// checked when the platform registry is built.
func (c *Config) Validate() error {
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validatePlatforms(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validatePermissions(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWatcher() error {
	seen := make(map[string]struct{}, len(c.Watcher.HotFolders))
	for i, folder := range c.Watcher.HotFolders {
		if folder.Path == "" {
			return fmt.Errorf("watcher.hot_folders[%d].path must be set", i)
		}
		if _, ok := seen[folder.Path]; ok {
			return fmt.Errorf("watcher.hot_folders[%d].path %q is listed twice", i, folder.Path)
		}
		seen[folder.Path] = struct{}{}
		if folder.Platform != "" {
			if _, ok := c.PlatformByName(folder.Platform); !ok {
				return fmt.Errorf("watcher.hot_folders[%d].platform %q is not a configured platform", i, folder.Platform)
			}
		}
	}
	return nil
}

func (c *Config) validatePlatforms() error {
	names := make(map[string]struct{}, len(c.Platforms))
	for i, platform := range c.Platforms {
		if platform.Name == "" {
			return fmt.Errorf("platforms[%d].name must be set", i)
		}
		if platform.Type == "" {
			return fmt.Errorf("platforms[%d].type must be set", i)
		}
		key := strings.ToLower(platform.Name)
		if _, ok := names[key]; ok {
			return fmt.Errorf("platforms[%d].name %q is not unique", i, platform.Name)
		}
		names[key] = struct{}{}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.DefaultPlatform != "" {
		if _, ok := c.PlatformByName(c.Pipeline.DefaultPlatform); !ok {
			return fmt.Errorf("pipeline.default_platform %q is not a configured platform", c.Pipeline.DefaultPlatform)
		}
	}
	if c.Pipeline.ThumbOffsetSeconds < 0 {
		return errors.New("pipeline.thumb_offset_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validatePermissions() error {
	for _, capability := range c.Permissions.Allow {
		if !slices.Contains(Capabilities, capability) {
			return fmt.Errorf("permissions.allow: unknown capability %q", capability)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
