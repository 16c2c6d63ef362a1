package config

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay is how long the file must stay quiet before it is reloaded.
// Saves usually truncate and then write, which arrives as several events.
var reloadDelay = 100 * time.Millisecond

// Watch reloads path after it changes and hands the new Config to onChange
// until ctx is cancelled. A file that is empty, fails to load or fails to
// validate is logged and skipped, so the previous settings stay in effect.
func Watch(ctx context.Context, path string, onChange func(*Config), log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	log = log.With().Str("component", "config_watch").Str("path", path).Logger()
	log.Info().Msg("watching config file")

	settle := time.NewTimer(reloadDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic saves show up as Create after a rename.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			settle.Reset(reloadDelay)

		case <-settle.C:
			// Re-add in case an atomic save replaced the inode.
			if err := watcher.Add(path); err != nil {
				log.Warn().Err(err).Msg("failed to re-watch config file, hot reload may stop")
			}

			if info, err := os.Stat(path); err == nil && info.Size() == 0 {
				log.Debug().Msg("config file empty, waiting for content")
				continue
			}
			cfg, err := LoadFile(path)
			if err != nil {
				log.Error().Err(err).Msg("config reload failed, keeping previous config")
				continue
			}
			log.Info().Msg("config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}
