// Package simconfig loads device/point templates from YAML on disk,
// the external template collaborator referenced by spec §6 ("Persisted
// state (consumed, not defined by core)"). Grounded on the teacher's
// internal/collector/config.go (RootConfig/ServerConfig/Device/Point
// YAML structs, LoadYAML, post-parse defaulting), adapted from
// "poll targets for a collector" to "simulated devices and their point
// definitions". Runtime fields are never part of this schema: state and
// lastError always start at Stopped/empty, owned solely by devicemgr.
package simconfig

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"modbus-simulator/internal/devicemgr"
	"modbus-simulator/internal/points"
)

// Root is the top-level YAML document: a list of device templates.
type Root struct {
	Devices []DeviceTemplate `yaml:"devices"`
}

// DeviceTemplate describes one simulated slave and its points on disk.
type DeviceTemplate struct {
	ID     string           `yaml:"id"`
	Name   string           `yaml:"name"`
	BindIP string           `yaml:"bind_ip"`
	Port   int              `yaml:"port"`
	Points []PointTemplate  `yaml:"points"`
}

// PointTemplate is one point definition on disk.
type PointTemplate struct {
	Key    string `yaml:"key"`
	Type   string `yaml:"type"`   // bool|int16|uint16|int32|uint32|float
	Access string `yaml:"access"` // read|write|readwrite

	Region  string  `yaml:"region"` // coil|discrete_input|holding_register|input_register
	Address uint16  `yaml:"address"`
	Scale   float64 `yaml:"scale"`

	BitField *BitFieldTemplate `yaml:"bitfield,omitempty"`

	Generator GeneratorTemplate `yaml:"generator"`

	OverrideMode            string  `yaml:"override_mode"` // none|force_static|hold_for_seconds
	OverrideDurationSeconds float64 `yaml:"override_duration_seconds"`

	Enum map[int]string `yaml:"enum,omitempty"`
}

// BitFieldTemplate locates a sub-range of bits within a shared register.
type BitFieldTemplate struct {
	StartBit  int `yaml:"start_bit"`
	BitLength int `yaml:"bit_length"`
}

// GeneratorTemplate parameterizes a point's signal generator.
type GeneratorTemplate struct {
	Type          string  `yaml:"type"` // static|sine|ramp|random
	Min           float64 `yaml:"min"`
	Max           float64 `yaml:"max"`
	PeriodSeconds float64 `yaml:"period_seconds"`
	Step          float64 `yaml:"step"`
}

// Load reads a template file and returns devicemgr configs ready for
// Manager.Add. A device whose ID is left blank in the template gets a
// freshly generated random uuid on every Load; that ID is not preserved
// across loads.
func Load(path string) ([]devicemgr.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var root Root
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(root.Devices) == 0 {
		return nil, fmt.Errorf("%s: no devices defined", path)
	}

	configs := make([]devicemgr.Config, 0, len(root.Devices))
	for _, dt := range root.Devices {
		cfg, err := toConfig(dt)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dt.Name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func toConfig(dt DeviceTemplate) (devicemgr.Config, error) {
	id := dt.ID
	if id == "" {
		id = uuid.NewString()
	}
	if dt.Port <= 0 {
		return devicemgr.Config{}, fmt.Errorf("port must be positive")
	}

	defs := make([]points.Definition, 0, len(dt.Points))
	for _, pt := range dt.Points {
		d, err := toDefinition(pt)
		if err != nil {
			return devicemgr.Config{}, fmt.Errorf("point %s: %w", pt.Key, err)
		}
		defs = append(defs, d)
	}
	if err := points.Validate(defs); err != nil {
		return devicemgr.Config{}, err
	}

	return devicemgr.Config{
		ID:     id,
		Name:   dt.Name,
		BindIP: dt.BindIP,
		Port:   dt.Port,
		Points: defs,
	}, nil
}

func toDefinition(pt PointTemplate) (points.Definition, error) {
	semType := points.SemanticType(pt.Type)
	switch semType {
	case points.TypeBool, points.TypeInt16, points.TypeUint16, points.TypeInt32, points.TypeUint32, points.TypeFloat:
	default:
		return points.Definition{}, fmt.Errorf("unknown type %q", pt.Type)
	}

	access := points.Access(pt.Access)
	switch access {
	case points.AccessRead, points.AccessWrite, points.AccessReadWrite:
	default:
		return points.Definition{}, fmt.Errorf("unknown access %q", pt.Access)
	}

	region := points.Region(pt.Region)
	switch region {
	case points.RegionCoil, points.RegionDiscreteInput, points.RegionHoldingRegister, points.RegionInputRegister:
	default:
		return points.Definition{}, fmt.Errorf("unknown region %q", pt.Region)
	}

	scale := pt.Scale
	if scale == 0 {
		scale = 1
	}

	var bf *points.BitField
	if pt.BitField != nil {
		bf = &points.BitField{StartBit: pt.BitField.StartBit, BitLength: pt.BitField.BitLength}
	}

	genType := points.GeneratorType(pt.Generator.Type)
	if genType == "" {
		genType = points.GenStatic
	}

	overrideMode := points.OverrideMode(pt.OverrideMode)
	if overrideMode == "" {
		overrideMode = points.OverrideNone
	}

	return points.Definition{
		Key:          pt.Key,
		SemanticType: semType,
		Access:       access,
		Modbus: points.ModbusMapping{
			Region:   region,
			Address:  pt.Address,
			Scale:    scale,
			BitField: bf,
		},
		Generator: points.GeneratorConfig{
			Type:          genType,
			Min:           pt.Generator.Min,
			Max:           pt.Generator.Max,
			PeriodSeconds: pt.Generator.PeriodSeconds,
			Step:          pt.Generator.Step,
		},
		OverrideMode:            overrideMode,
		OverrideDurationSeconds: pt.OverrideDurationSeconds,
		Enum:                    pt.Enum,
	}, nil
}
