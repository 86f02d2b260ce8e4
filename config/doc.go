// Package config loads controlbus configuration.
//
// Two layers are provided. Node is a generic ordered structured-data tree read
// from YAML (JSON is accepted as well): leaf keys hold scalars, and keys starting
// with "+" open a named child section. Messages, state machines and every other
// registry object are initialised from a Node:
//
//	+StateMachine:
//	  Class: StateMachine
//	  +STATE1:
//	    Class: ReferenceContainer
//	    +GOTOSTATE2:
//	      Class: StateMachineEvent
//	      NextState: STATE2
//	      Timeout: 500
//
// Config is the runner configuration: a "controlbus" block with runtime settings
// (log level and format, metrics port, NATS URL) and an "objects" tree. Loader
// reads it through path and size checks, applies CONTROLBUS_* environment
// overrides and validates it:
//
//	cfg, err := config.NewLoader().LoadFile("controlbus.yaml")
//	if err != nil {
//		return err
//	}
//
// Configuration errors wrap errors.ErrInvalidConfig or errors.ErrMissingConfig,
// both of which are parameters errors in the messaging taxonomy.
package config
