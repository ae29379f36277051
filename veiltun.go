// Package veiltun is the public entry point of the tunnel engine.
package veiltun

import (
	"github.com/sourceshift/veiltun/core"
	"github.com/sourceshift/veiltun/core/config"
	"github.com/sourceshift/veiltun/interfaces"
	"github.com/sourceshift/veiltun/pkg/logging"
)

// Engine represents the tunnel engine.
type Engine struct {
	coreEngine *core.Engine
}

// NewEngine creates a new engine from a loaded configuration.
func NewEngine(cfg *config.FileConfig, logger logging.Logger) (interfaces.Engine, error) {
	coreEngine, err := core.NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Engine{coreEngine: coreEngine}, nil
}

// NewEngineFromFile loads a YAML configuration and creates an engine.
func NewEngineFromFile(path string, logger logging.Logger) (interfaces.Engine, error) {
	cfg, err := config.LoadFileConfig(path)
	if err != nil {
		return nil, err
	}
	return NewEngine(cfg, logger)
}

// Start negotiates a transport and starts the local proxy.
func (e *Engine) Start() error {
	return e.coreEngine.Start()
}

// Stop gracefully stops the engine.
func (e *Engine) Stop() error {
	return e.coreEngine.Stop()
}

// Status returns the current operational status of the engine.
func (e *Engine) Status() (string, error) {
	return e.coreEngine.Status()
}
