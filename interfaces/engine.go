package interfaces

// Engine defines the public interface for the tunnel engine.
type Engine interface {
	// Start negotiates a transport and starts the local proxy.
	Start() error
	// Stop tears the session down and releases any lockdown.
	Stop() error
	// Status returns the current operational status of the engine.
	Status() (string, error)
}
