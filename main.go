package pggit

import (
	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/ps"
	"github.com/evoludigit/pggit/vc"
)

type Instance struct {
	Persistence *ps.Persistence
}

func Open(persistence *ps.Persistence) *Instance {
	return &Instance{
		Persistence: persistence,
	}
}

func (instance *Instance) Engine(identity core.Identity) *vc.Engine {
	return vc.NewEngine(instance.Persistence, identity)
}
