package config

const (
	defaultConfigPath           = "~/.config/mediapub/config.toml"
	defaultWorkDir              = "~/.local/share/mediapub/work"
	defaultPublicDir            = "~/.local/share/mediapub/public"
	defaultStateDir             = "~/.local/share/mediapub"
	defaultLogDir               = "~/.local/share/mediapub/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultStabilityWindowMS    = 2000
	defaultPollIntervalMS       = 500
	defaultMaxConcurrentUploads = 2
	defaultSyncInterval         = 30
	defaultSyncAttempts         = 120
	defaultMergeWaitInterval    = 10
	defaultMergeWaitAttempts    = 30
	defaultThumbOffsetSeconds   = 5
	defaultSpriteColumns        = 5
	defaultSpriteThumbWidth     = 160
	defaultAnonymousUser        = "anonymous"
	defaultStopGrace            = 10
	defaultAckTimeout           = 30
	defaultRestartDelay         = 5
	defaultMaxRestarts          = 3
	defaultNotifyTopic          = "mediapub.packages"
	defaultNotifyTimeout        = 10
)

// Capabilities accepted in permissions.allow.
var Capabilities = []string{
	"watcher.status",
	"watcher.control",
	"package.read",
	"package.retry",
	"package.upload",
	"package.publish",
	"package.remove",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			PublicDir: defaultPublicDir,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
		},
		Watcher: Watcher{
			StabilityWindowMS: defaultStabilityWindowMS,
			PollIntervalMS:    defaultPollIntervalMS,
		},
		Pipeline: Pipeline{
			Merge:                true,
			MaxConcurrentUploads: defaultMaxConcurrentUploads,
			SyncInterval:         defaultSyncInterval,
			SyncAttempts:         defaultSyncAttempts,
			MergeWaitInterval:    defaultMergeWaitInterval,
			MergeWaitAttempts:    defaultMergeWaitAttempts,
			ThumbOffsetSeconds:   defaultThumbOffsetSeconds,
			SpriteColumns:        defaultSpriteColumns,
			SpriteThumbWidth:     defaultSpriteThumbWidth,
			FFmpegBinary:         "ffmpeg",
			FFprobeBinary:        "ffprobe",
		},
		Supervisor: Supervisor{
			AnonymousUser: defaultAnonymousUser,
			StopGrace:     defaultStopGrace,
			AckTimeout:    defaultAckTimeout,
			RestartDelay:  defaultRestartDelay,
			MaxRestarts:   defaultMaxRestarts,
		},
		Notifications: Notifications{
			Topic:          defaultNotifyTopic,
			RequestTimeout: defaultNotifyTimeout,
		},
		Permissions: Permissions{
			Allow: append([]string(nil), Capabilities...),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
