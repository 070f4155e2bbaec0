// Package config implements KATO's hot-reloadable configuration (spec
// §6): a YAML file watched on disk via fsnotify and re-parsed on every
// write, so Watcher.Current returns the latest validated values as a
// session.Config without a restart. Sessions that already exist keep
// the Config they were created with, and nothing in pkg/kato or
// pkg/session reads a Watcher.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sevakavakians/kato/internal/katoerr"
	"github.com/sevakavakians/kato/pkg/session"
)

// File is the on-disk shape of config.yaml, covering every option
// spec §6 names.
type File struct {
	MaxPatternLength   int     `yaml:"max_pattern_length" validate:"gte=0"`
	STMMode            string  `yaml:"stm_mode" validate:"oneof=CLEAR ROLLING"`
	Persistence        int     `yaml:"persistence" validate:"gte=1"`
	RecallThreshold    float64 `yaml:"recall_threshold" validate:"gte=0,lte=1"`
	MaxPredictions     int     `yaml:"max_predictions" validate:"gte=0"`
	SearchDepth        int     `yaml:"search_depth" validate:"gte=1"`
	Sort               bool    `yaml:"sort"`
	ProcessPredictions bool    `yaml:"process_predictions"`
	RankSortAlgo       string  `yaml:"rank_sort_algo" validate:"oneof=potential confidence evidence itfdf_similarity tfidf_score"`
	SessionTTLSeconds  int     `yaml:"session_ttl"`
	SessionAutoExtend  bool    `yaml:"session_auto_extend"`
}

var validate = validator.New()

// toSessionConfig converts the validated on-disk shape into the
// pkg/session Config the STM manager actually consumes.
func (f File) toSessionConfig() session.Config {
	mode := session.STMModeClear
	if f.STMMode == string(session.STMModeRolling) {
		mode = session.STMModeRolling
	}
	return session.Config{
		MaxPatternLength: f.MaxPatternLength,
		STMMode:          mode,
		Persistence:      f.Persistence,
		RecallThreshold:  f.RecallThreshold,
		MaxPredictions:   f.MaxPredictions,
		SearchDepth:      f.SearchDepth,
		RankSortAlgo:     f.RankSortAlgo,
		TTL:              time.Duration(f.SessionTTLSeconds) * time.Second,
		AutoExtendTTL:    f.SessionAutoExtend,
	}
}

// Watcher holds the current validated configuration and keeps it in
// sync with a YAML file on disk via fsnotify, so per-session defaults
// can change without a process restart.
type Watcher struct {
	mu      sync.RWMutex
	current session.Config
	path    string
	logger  *logrus.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher loads path once, validates it, and starts watching it
// for writes. Call Close to stop watching.
func NewWatcher(path string, logger *logrus.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	w := &Watcher{path: path, logger: logger}
	if err := w.reload(); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, katoerr.Wrap(katoerr.InvalidInput, err, "failed to start config file watcher", map[string]interface{}{"path": path})
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, katoerr.Wrap(katoerr.InvalidInput, err, "failed to watch config file", map[string]interface{}{"path": path})
	}
	w.watcher = fw

	go w.watch()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() session.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				w.logger.WithError(err).Warn("config reload failed; keeping previous configuration")
			} else {
				w.logger.Info("configuration reloaded")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return katoerr.Wrap(katoerr.InvalidInput, err, "failed to read config file", map[string]interface{}{"path": w.path})
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return katoerr.Wrap(katoerr.InvalidInput, err, "failed to parse config file", map[string]interface{}{"path": w.path})
	}
	if err := validate.Struct(f); err != nil {
		return katoerr.Wrap(katoerr.InvalidInput, err, "config file failed validation", map[string]interface{}{"path": w.path})
	}

	w.mu.Lock()
	w.current = f.toSessionConfig()
	w.mu.Unlock()
	return nil
}

// Close stops the file watcher goroutine.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
