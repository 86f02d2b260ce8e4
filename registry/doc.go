// Package registry provides the object database that message destinations
// are resolved against.
//
// Objects are registered under unique names and found by dotted paths:
// "StateMachine.A.E1" finds "StateMachine" and asks it, as a Container, for
// "A.E1". A Registry satisfies message.Resolver.
//
// Classes registered with RegisterClass turn configuration sections into
// objects:
//
//	+Receiver:
//	  Class: Receiver
//	+StateMachine:
//	  Class: StateMachine
//	  +A: ...
//
// Initialise builds and inserts every top level section, then runs the
// second initialisation phase of the objects implementing Initialiser.
package registry
