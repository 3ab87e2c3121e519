package risk

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/fsutil"
	"github.com/awe-dev/agentcheck/internal/logging"
)

// candidateContractPaths are checked in order, relative to the project
// root, for a project-supplied risk policy contract.
var candidateContractPaths = []string{
	"ops/risk_policy_contract.json",
	".agents/risk_policy_contract.json",
}

// Contract maps each risk tier to the list of required check names.
type Contract struct {
	Version       string              `json:"version"`
	RequiredChecks map[Tier][]string  `json:"required_checks"`
}

// DefaultContract is used when no project-supplied contract file is found.
func DefaultContract() *Contract {
	return &Contract{
		Version: "builtin-1",
		RequiredChecks: map[Tier][]string{
			TierHigh: {"risk-policy-gate", "harness-smoke", "head-sha-gate", "evidence-manifest"},
			TierLow:  {"risk-policy-gate", "head-sha-gate"},
		},
	}
}

// LoadContract reads the first candidate contract file found under
// projectRoot, falling back to DefaultContract.
func LoadContract(projectRoot string) (*Contract, error) {
	for _, rel := range candidateContractPaths {
		path := filepath.Join(projectRoot, rel)
		data, err := fsutil.ReadFileScoped(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, core.ErrStorage("RISK_CONTRACT_READ", err.Error(), false).WithCause(err)
		}
		var contract Contract
		if err := json.Unmarshal(data, &contract); err != nil {
			return nil, core.ErrValidation("RISK_CONTRACT_DECODE", err.Error())
		}
		if contract.RequiredChecks == nil {
			contract.RequiredChecks = map[Tier][]string{}
		}
		return &contract, nil
	}
	return DefaultContract(), nil
}

// ContractSource yields the policy contract to evaluate a preflight
// against. The Watcher implements it with live reloads; StaticSource pins
// one contract for tests and one-shot commands.
type ContractSource interface {
	Contract() *Contract
}

// StaticSource is a ContractSource that always returns the same contract.
type StaticSource struct {
	C *Contract
}

func (s StaticSource) Contract() *Contract {
	return s.C
}

// Watcher reloads a project's policy contract whenever one of the
// candidate files changes on disk, so a long-running service picks up
// policy edits without restarting.
type Watcher struct {
	mu          sync.RWMutex
	contract    *Contract
	projectRoot string
	watcher     *fsnotify.Watcher
	logger      *logging.Logger
	done        chan struct{}
}

// NewWatcher loads the current contract and starts watching its candidate
// paths for changes. Callers must call Close when done.
func NewWatcher(projectRoot string, logger *logging.Logger) (*Watcher, error) {
	contract, err := LoadContract(projectRoot)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.ErrStorage("RISK_WATCHER_INIT", err.Error(), false).WithCause(err)
	}
	for _, rel := range candidateContractPaths {
		dir := filepath.Dir(filepath.Join(projectRoot, rel))
		_ = fw.Add(dir) // best-effort: a missing directory just means no reloads fire
	}

	w := &Watcher{
		contract:    contract,
		projectRoot: projectRoot,
		watcher:     fw,
		logger:      logger,
		done:        make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			contract, err := LoadContract(w.projectRoot)
			if err != nil {
				if w.logger != nil {
					w.logger.Warn("risk_contract_reload_failed", "error", err.Error())
				}
				continue
			}
			w.mu.Lock()
			w.contract = contract
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("risk_contract_watch_error", "error", err.Error())
			}
		}
	}
}

// Contract returns the currently loaded contract.
func (w *Watcher) Contract() *Contract {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.contract
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
