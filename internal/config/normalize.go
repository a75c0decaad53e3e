package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWatcher(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeSupervisor()
	c.normalizePlatforms()
	c.normalizeNotifications()
	c.normalizePermissions()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.public_dir", &c.Paths.PublicDir, defaultPublicDir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeWatcher() error {
	if c.Watcher.StabilityWindowMS <= 0 {
		c.Watcher.StabilityWindowMS = defaultStabilityWindowMS
	}
	if c.Watcher.PollIntervalMS <= 0 {
		c.Watcher.PollIntervalMS = defaultPollIntervalMS
	}
	for i := range c.Watcher.HotFolders {
		folder := &c.Watcher.HotFolders[i]
		path, err := expandPath(strings.TrimSpace(folder.Path))
		if err != nil {
			return fmt.Errorf("watcher.hot_folders[%d].path: %w", i, err)
		}
		folder.Path = path
		folder.Platform = strings.TrimSpace(folder.Platform)
		folder.Group = strings.TrimSpace(folder.Group)
	}
	return nil
}

func (c *Config) normalizePipeline() {
	p := &c.Pipeline
	p.DefaultPlatform = strings.TrimSpace(p.DefaultPlatform)
	if p.MaxConcurrentUploads <= 0 {
		p.MaxConcurrentUploads = defaultMaxConcurrentUploads
	}
	if p.SyncInterval <= 0 {
		p.SyncInterval = defaultSyncInterval
	}
	if p.SyncAttempts <= 0 {
		p.SyncAttempts = defaultSyncAttempts
	}
	if p.MergeWaitInterval <= 0 {
		p.MergeWaitInterval = defaultMergeWaitInterval
	}
	if p.MergeWaitAttempts <= 0 {
		p.MergeWaitAttempts = defaultMergeWaitAttempts
	}
	if p.ThumbOffsetSeconds < 0 {
		p.ThumbOffsetSeconds = defaultThumbOffsetSeconds
	}
	if p.SpriteColumns <= 0 {
		p.SpriteColumns = defaultSpriteColumns
	}
	if p.SpriteThumbWidth <= 0 {
		p.SpriteThumbWidth = defaultSpriteThumbWidth
	}
	if strings.TrimSpace(p.FFmpegBinary) == "" {
		p.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(p.FFprobeBinary) == "" {
		p.FFprobeBinary = "ffprobe"
	}
}

func (c *Config) normalizeSupervisor() {
	s := &c.Supervisor
	s.AnonymousUser = strings.TrimSpace(s.AnonymousUser)
	if s.AnonymousUser == "" {
		s.AnonymousUser = defaultAnonymousUser
	}
	if s.StopGrace <= 0 {
		s.StopGrace = defaultStopGrace
	}
	if s.AckTimeout <= 0 {
		s.AckTimeout = defaultAckTimeout
	}
	if s.RestartDelay <= 0 {
		s.RestartDelay = defaultRestartDelay
	}
	if s.MaxRestarts < 0 {
		s.MaxRestarts = 0
	}
}

func (c *Config) normalizePlatforms() {
	for i := range c.Platforms {
		c.Platforms[i].Name = strings.TrimSpace(c.Platforms[i].Name)
		c.Platforms[i].Type = strings.ToLower(strings.TrimSpace(c.Platforms[i].Type))
		if c.Platforms[i].Settings == nil {
			c.Platforms[i].Settings = map[string]any{}
		}
	}
}

func (c *Config) normalizeNotifications() {
	brokers := c.Notifications.Brokers[:0]
	for _, broker := range c.Notifications.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Notifications.Brokers = brokers
	c.Notifications.Topic = strings.TrimSpace(c.Notifications.Topic)
	if c.Notifications.Topic == "" {
		c.Notifications.Topic = defaultNotifyTopic
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizePermissions() {
	allowed := make([]string, 0, len(c.Permissions.Allow))
	seen := make(map[string]struct{}, len(c.Permissions.Allow))
	for _, capability := range c.Permissions.Allow {
		normalized := strings.ToLower(strings.TrimSpace(capability))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		allowed = append(allowed, normalized)
	}
	c.Permissions.Allow = allowed
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
