// Package classes registers the built-in object classes that configuration
// trees can instantiate.
//
// A tree names each object in a "+Name" section and selects its factory with
// the Class key:
//
//	objects:
//	  +Logger:
//	    Class: MessageLogger
//	    Queued: true
//	  +Controller:
//	    Class: StateMachine
//	    +IDLE:
//	      Class: ReferenceContainer
//	      +GO:
//	        Class: StateMachineEvent
//	        NextState: RUN
//	        +Notify:
//	          Class: Message
//	          Destination: Logger
//	          Function: Started
//	          +Count:
//	            Class: Value
//	            Type: uint32
//	            Value: 7
//
// Register installs MessageLogger, StateMachine, ReferenceContainer, Value,
// Message and NATSProxy. NATSProxy sections only build when the dependencies
// carry a NATS connection.
package classes
