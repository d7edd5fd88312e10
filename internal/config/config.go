package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/pylearn/internal/i18n"
	"github.com/felixgeelhaar/pylearn/internal/sandbox"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrUnknownKey    = errors.New("unknown config key")
)

var (
	storageBackends = []string{"memory", "local", "sqlite", "postgres"}
	runnerBackends  = []string{"local", "docker", "queue"}
	logLevels       = []string{"debug", "info", "warn", "error"}
)

// Validate checks enumerations and ranges
func (c *LocalConfig) Validate() error {
	var errs []error
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		errs = append(errs, fmt.Errorf("daemon.port %d out of range", c.Daemon.Port))
	}
	if !slices.Contains(logLevels, c.Daemon.LogLevel) {
		errs = append(errs, fmt.Errorf("daemon.log_level %q not one of %v", c.Daemon.LogLevel, logLevels))
	}
	if !slices.Contains(storageBackends, c.Storage.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend %q not one of %v", c.Storage.Backend, storageBackends))
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.backend postgres needs postgres_dsn in secrets.yaml"))
	}
	if !slices.Contains(runnerBackends, c.Runner.Backend) {
		errs = append(errs, fmt.Errorf("runner.backend %q not one of %v", c.Runner.Backend, runnerBackends))
	}
	if c.Runner.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("runner.timeout_seconds must be positive"))
	}
	if !slices.Contains(i18n.Languages(), c.Learning.Locale) {
		errs = append(errs, fmt.Errorf("learning.locale %q not one of %v", c.Learning.Locale, i18n.Languages()))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Timeout returns the per-run execution limit
func (r RunnerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Sandbox converts the Docker settings into container limits
func (d DockerRunnerConfig) Sandbox() sandbox.Config {
	return sandbox.Config{
		Image:      d.Image,
		MemoryMB:   d.MemoryMB,
		CPULimit:   d.CPULimit,
		NetworkOff: d.NetworkOff,
		PidsLimit:  d.PidsLimit,
	}
}

func (l LearningConfig) QuizDelay() time.Duration     { return ms(l.QuizDelayMS) }
func (l LearningConfig) TierDelay() time.Duration     { return ms(l.TierDelayMS) }
func (l LearningConfig) LessonDelay() time.Duration   { return ms(l.LessonDelayMS) }
func (l LearningConfig) FeedbackDelay() time.Duration { return ms(l.FeedbackDelayMS) }

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Keys lists the settings accepted by Set
func Keys() []string {
	return []string{
		"daemon.port",
		"daemon.bind",
		"daemon.log_level",
		"daemon.runs_per_minute",
		"storage.backend",
		"storage.path",
		"runner.backend",
		"runner.python",
		"runner.timeout_seconds",
		"runner.docker.image",
		"learning.locale",
		"learning.lessons_dir",
		"queue.workers",
	}
}

// Set assigns a single setting from its string form
func (c *LocalConfig) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "daemon.port":
		return setInt(&c.Daemon.Port, key, value)
	case "daemon.bind":
		c.Daemon.Bind = value
	case "daemon.log_level":
		c.Daemon.LogLevel = strings.ToLower(value)
	case "daemon.runs_per_minute":
		return setInt(&c.Daemon.RunsPerMinute, key, value)
	case "storage.backend":
		c.Storage.Backend = strings.ToLower(value)
	case "storage.path":
		c.Storage.Path = value
	case "runner.backend":
		c.Runner.Backend = strings.ToLower(value)
	case "runner.python":
		c.Runner.Python = value
	case "runner.timeout_seconds":
		return setInt(&c.Runner.TimeoutSeconds, key, value)
	case "runner.docker.image":
		c.Runner.Docker.Image = value
	case "learning.locale":
		c.Learning.Locale = value
	case "learning.lessons_dir":
		c.Learning.LessonsDir = value
	case "queue.workers":
		return setInt(&c.Queue.Workers, key, value)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer", ErrInvalidConfig, key)
	}
	*dst = i
	return nil
}
