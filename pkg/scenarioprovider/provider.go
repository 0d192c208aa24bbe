// Package scenarioprovider is the Scenario Provider (spec.md §4.11): it
// loads the scenario database document, resolves every <run> tag's
// routing key against the RPC Worker Host registry, and serves
// taskmanager.ScenarioLookup. The document is watched for changes and
// hot-reloaded; a reload that fails validation keeps the previous table
// and logs an error rather than aborting the process.
package scenarioprovider

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cuemby/contour/pkg/scenario"
)

// Provider serves resolved Scenario trees by id, name, or notify binding.
type Provider struct {
	path            string
	knownRoutingKey func(string) bool
	lockManager     scenario.LockManager
	log             zerolog.Logger

	mu  sync.RWMutex
	doc *document

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// New constructs a Provider. knownRoutingKey should test a routing key
// against a *pkg/rpcworker.Registry, e.g.:
//
//	scenarioprovider.New(path, func(key string) bool { _, ok := reg.Lookup(key); return ok }, lockManager, log)
func New(path string, knownRoutingKey func(string) bool, lockManager scenario.LockManager, log zerolog.Logger) *Provider {
	return &Provider{
		path:            path,
		knownRoutingKey: knownRoutingKey,
		lockManager:     lockManager,
		log:             log.With().Str("component", "scenarioprovider").Logger(),
	}
}

// Load parses and validates the scenario DB, making it the active
// document. Returns an error (and leaves no active document) if this is
// the first load and it fails — startup failure is fatal per spec.md §7b.
func (p *Provider) Load() error {
	doc, err := p.parseFile()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}

func (p *Provider) parseFile() (*document, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open scenario db: %w", err)
	}
	defer f.Close()

	return parseDocument(f, p.knownRoutingKey, p.lockManager)
}

// GetScenario implements taskmanager.ScenarioLookup.
func (p *Provider) GetScenario(scenarioID string) (*scenario.Scenario, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doc == nil {
		return nil, fmt.Errorf("scenario db not loaded")
	}
	tree, ok := p.doc.byID[scenarioID]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %s", scenarioID)
	}
	return tree.Clone(), nil
}

// GetScenarioByName resolves a scenario by name, case-insensitively.
func (p *Provider) GetScenarioByName(name string) (*scenario.Scenario, error) {
	p.mu.RLock()
	var id string
	var ok bool
	if p.doc != nil {
		id, ok = p.doc.byName[strings.ToLower(name)]
	}
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	return p.GetScenario(id)
}

// TaskIDByNotification resolves a scenario id from a notify binding
// (supplemented feature: original's notify_bindings map).
func (p *Provider) TaskIDByNotification(notify string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doc == nil {
		return "", false
	}
	id, ok := p.doc.byNotify[notify]
	return id, ok
}

// Watch starts a background fsnotify watcher on the scenario db file
// itself and reloads on write and create events. A reload that fails validation
// is logged and the previously active document is kept.
func (p *Provider) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create scenario db watcher: %w", err)
	}
	if err := watcher.Add(p.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch scenario db: %w", err)
	}

	p.watcher = watcher
	p.stopCh = make(chan struct{})
	go p.watchLoop()
	return nil
}

func (p *Provider) watchLoop() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			doc, err := p.parseFile()
			if err != nil {
				p.log.Error().Err(err).Msg("scenario db reload failed, keeping previous table")
				continue
			}
			p.mu.Lock()
			p.doc = doc
			p.mu.Unlock()
			p.log.Info().Msg("scenario db reloaded")
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Error().Err(err).Msg("scenario db watcher error")
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the watcher, if running.
func (p *Provider) Close() error {
	if p.stopCh != nil {
		close(p.stopCh)
	}
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
