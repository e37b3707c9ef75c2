package sim

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// A Component is a simulated piece of hardware. It talks to other components
// only through its ports.
type Component interface {
	Named
	Handler
	Hookable

	GetPortByName(name string) Port
	Ports() []Port
	NotifyRecv(port Port)
	NotifyPortFree(port Port)
}

// ComponentBase provides some functions that other component can use.
type ComponentBase struct {
	HookableBase
	sync.Mutex
	name  string
	ports map[string]Port
}

// NewComponentBase creates a ComponentBase. It panics if the name is not a
// valid hierarchical name.
func NewComponentBase(name string) *ComponentBase {
	NameMustBeValid(name)

	return &ComponentBase{
		name:  name,
		ports: make(map[string]Port),
	}
}

func (c *ComponentBase) Name() string {
	return c.name
}

// AddPort registers a port under a short name, for example "Top".
func (c *ComponentBase) AddPort(name string, port Port) {
	if _, found := c.ports[name]; found {
		panic(fmt.Sprintf("port %s already exists on %s", name, c.name))
	}

	c.ports[name] = port
}

// GetPortByName returns the port registered under the short name. It panics
// if there is none.
func (c *ComponentBase) GetPortByName(name string) Port {
	port, found := c.ports[name]
	if !found {
		panic(fmt.Sprintf("%s has no port %s, only [%s]", c.name, name,
			strings.Join(slices.Sorted(maps.Keys(c.ports)), ", ")))
	}

	return port
}

// Ports returns all the ports of the component, sorted by short name.
func (c *ComponentBase) Ports() []Port {
	ports := make([]Port, 0, len(c.ports))
	for _, name := range slices.Sorted(maps.Keys(c.ports)) {
		ports = append(ports, c.ports[name])
	}

	return ports
}
