package emu

import (
	"github.com/go-faster/errors"

	"ebilcd/emu/log"
)

// A Component is a named pair of init and fini functions. Either can be
// nil.
type Component struct {
	Name string
	Init func() error
	Fini func() error
}

// Components initializes components in registration order and finalizes
// them in reverse order.
type Components struct {
	list []Component
	up   int // number of initialized components
}

func (c *Components) Register(name string, init, fini func() error) {
	c.list = append(c.list, Component{Name: name, Init: init, Fini: fini})
}

func (c *Components) Names() []string {
	names := make([]string, len(c.list))
	for i, comp := range c.list {
		names[i] = comp.Name
	}
	return names
}

// Initialized returns the number of components currently initialized.
func (c *Components) Initialized() int { return c.up }

// InitAll initializes every component. It stops at the first failure and
// finalizes the components that were already initialized.
func (c *Components) InitAll() error {
	for c.up < len(c.list) {
		comp := c.list[c.up]
		log.ModComp.InfoZ("init").String("name", comp.Name).End()
		if comp.Init != nil {
			if err := comp.Init(); err != nil {
				log.ModComp.ErrorZ("init failed").String("name", comp.Name).Error("err", err).End()
				if ferr := c.FiniAll(); ferr != nil {
					log.ModComp.WarnZ("rollback").Error("err", ferr).End()
				}
				return errors.Wrapf(err, "init %s", comp.Name)
			}
		}
		c.up++
	}
	return nil
}

// FiniAll finalizes initialized components, last first. Every component is
// finalized even if some fail, the first error is returned.
func (c *Components) FiniAll() error {
	var first error
	for c.up > 0 {
		c.up--
		comp := c.list[c.up]
		log.ModComp.InfoZ("fini").String("name", comp.Name).End()
		if comp.Fini == nil {
			continue
		}
		if err := comp.Fini(); err != nil {
			log.ModComp.WarnZ("fini failed").String("name", comp.Name).Error("err", err).End()
			if first == nil {
				first = errors.Wrapf(err, "fini %s", comp.Name)
			}
		}
	}
	return first
}
