// Package config holds the small typed configuration surfaces the core
// needs beyond what the (out-of-scope) CLI front-end parses: the
// host-scan candidate catalog and the per-stage enable/disable list.
//
// It is a typed struct plus a loader, using YAML since the catalog is a
// list, not a flat key/value bag.
package config

import (
	"fmt"
	"os"

	"github.com/google/gousb"
	"gopkg.in/yaml.v3"
)

// CandidateSpec describes one device identity the host-scan stage (C9)
// can present to a real host, in source form: enough to build a
// wire/identity descriptor set, not the descriptor set itself.
type CandidateSpec struct {
	Name            string `yaml:"name"`
	VendorID        uint16 `yaml:"vendor_id"`
	ProductID       uint16 `yaml:"product_id"`
	DeviceClass     uint8  `yaml:"device_class"`
	InterfaceClass  uint8  `yaml:"interface_class"`
	InterfaceSub    uint8  `yaml:"interface_subclass"`
	InterfaceProto  uint8  `yaml:"interface_protocol"`
	NumEndpoints    int    `yaml:"num_endpoints"`
}

// Catalog is the top-level YAML document for the host-scan candidate
// list and stage enable/disable sets (spec §6.4).
type Catalog struct {
	Candidates    []CandidateSpec `yaml:"candidates"`
	EnabledStages []string        `yaml:"enabled_stages"`
}

// DefaultCatalog is used when no catalog file is given: the three
// candidate classes the spec names by example (spec §4.9).
func DefaultCatalog() Catalog {
	return Catalog{
		Candidates: []CandidateSpec{
			{Name: "mass-storage", VendorID: 0x0781, ProductID: 0x5567, DeviceClass: uint8(gousb.ClassPerInterface), InterfaceClass: uint8(gousb.ClassMassStorage), InterfaceSub: 0x06, InterfaceProto: 0x50, NumEndpoints: 2},
			{Name: "hid-keyboard", VendorID: 0x046D, ProductID: 0xC31C, DeviceClass: uint8(gousb.ClassPerInterface), InterfaceClass: uint8(gousb.ClassHID), InterfaceSub: 0x01, InterfaceProto: 0x01, NumEndpoints: 1},
			{Name: "printer", VendorID: 0x03F0, ProductID: 0x1004, DeviceClass: uint8(gousb.ClassPerInterface), InterfaceClass: uint8(gousb.ClassPrinter), InterfaceSub: 0x01, InterfaceProto: 0x02, NumEndpoints: 2},
		},
	}
}

// Load reads a catalog from a YAML file at path.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("config: read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("config: parse catalog: %w", err)
	}
	return cat, nil
}

// StageEnabled reports whether name should be active given an
// enable/disable list; an empty list means "everything enabled" (spec
// §6.4 "per-stage enable/disable lists").
func (c Catalog) StageEnabled(name string) bool {
	if len(c.EnabledStages) == 0 {
		return true
	}
	for _, s := range c.EnabledStages {
		if s == name {
			return true
		}
	}
	return false
}
