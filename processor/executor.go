package processor

// Executor runs tasks. Implementations decide on which goroutine.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) { f(task) }

// GoExecutor runs every task on a new goroutine.
type GoExecutor struct{}

// Execute starts task on a new goroutine.
func (GoExecutor) Execute(task func()) { go task() }
