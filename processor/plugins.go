package processor

import "sync"

var (
	registryLock         sync.Mutex
	registeredProcessors []Processor
)

// RegisterProcessor registers the given annotation processor. Tools that run
// processors, and tests that want them all, get them with
// AllRegisteredProcessors.
func RegisterProcessor(p Processor) {
	if p == nil {
		panic("processor: RegisterProcessor with nil processor")
	}
	registryLock.Lock()
	defer registryLock.Unlock()
	registeredProcessors = append(registeredProcessors, p)
}

// AllRegisteredProcessors returns the list of all registered processors, in
// the order they were registered.
func AllRegisteredProcessors() []Processor {
	registryLock.Lock()
	defer registryLock.Unlock()
	procs := make([]Processor, len(registeredProcessors))
	copy(procs, registeredProcessors)
	return procs
}
