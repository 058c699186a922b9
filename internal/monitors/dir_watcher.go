package monitors

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// directoryWatcher watches a set of directories for newly created files and
// invokes onNewFile for each one matching the include/exclude patterns.
// Discovered directories in config's WatchDirectories are watched
// non-recursively; each qualifying file triggers a dynamic tailer start.
type directoryWatcher struct {
	watcher   *fsnotify.Watcher
	include   []string
	exclude   []string
	onNewFile func(path string)
	logger    *logrus.Logger
}

func newDirectoryWatcher(dirs, include, exclude []string, onNewFile func(path string), logger *logrus.Logger) (*directoryWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			logger.WithError(err).WithField("directory", dir).Warn("Falha ao observar diretório para novos arquivos")
			continue
		}
		logger.WithField("directory", dir).Debug("Observando diretório para novos arquivos")
	}

	return &directoryWatcher{
		watcher:   w,
		include:   include,
		exclude:   exclude,
		onNewFile: onNewFile,
		logger:    logger,
	}, nil
}

func (dw *directoryWatcher) matches(path string) bool {
	name := filepath.Base(path)

	for _, pat := range dw.exclude {
		if ok, _ := filepath.Match(pat, name); ok {
			return false
		}
	}
	if len(dw.include) == 0 {
		return true
	}
	for _, pat := range dw.include {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

func (dw *directoryWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !dw.matches(event.Name) {
				continue
			}
			dw.onNewFile(event.Name)

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.WithError(err).Warn("Erro no observador de diretórios")
		}
	}
}

func (dw *directoryWatcher) close() {
	dw.watcher.Close()
}
