package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sys/unix"

	"mediapub/internal/config"
	"mediapub/internal/deps"
)

const brokerDialTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBrokers dials every notification broker and passes when at least one
// answers.
func CheckBrokers(ctx context.Context, brokers []string) Result {
	const name = "Kafka brokers"

	var failures []string
	reachable := 0
	for _, broker := range brokers {
		broker = strings.TrimSpace(broker)
		if broker == "" {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, brokerDialTimeout)
		conn, err := kafkago.DialContext(dialCtx, "tcp", broker)
		cancel()
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", broker, err))
			continue
		}
		_ = conn.Close()
		reachable++
	}
	switch {
	case reachable == 0 && len(failures) == 0:
		return Result{Name: name, Detail: "no brokers configured"}
	case reachable == 0:
		return Result{Name: name, Detail: strings.Join(failures, "; ")}
	case len(failures) > 0:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d reachable, unreachable: %s", reachable, strings.Join(failures, "; "))}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d reachable", reachable)}
	}
}

// CheckSystemDeps reports the media binaries the enabled pipeline steps call.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	p := cfg.Pipeline
	return deps.CheckBinaries(deps.PipelineRequirements(
		p.FFmpegBinary,
		p.FFprobeBinary,
		p.GenerateThumb || p.DefragmentMP4,
		p.ProbeMetadata,
	))
}
