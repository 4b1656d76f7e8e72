package plugin

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	Name        string
	Description string
	Author      string
	Version     string
	// Dependencies lists modules that are soft-loaded before this one.
	Dependencies []string
}

// State represents the lifecycle position of a module.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateUnloading State = "unloading"
)

// Status is a read-only snapshot of one tracked module.
type Status struct {
	Info           Info
	State          State
	EnabledDefault bool
	Dependents     []string
	Commands       int
	Hooks          int
}
