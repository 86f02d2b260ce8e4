// Package statemachine builds state machines out of messaging primitives.
//
// A StateMachine is a message.QueuedEndpoint. Each state is a group of
// events, and each Event is a filter matching messages whose function equals
// the event name. Only the current state's events are installed, in the
// queued chain, so transitions run one at a time on the machine's consumer
// goroutine.
//
// When an event fires the machine:
//
//  1. marks itself Exiting and sends the event's messages in order, waiting
//     up to the event timeout for the replies of those expecting one;
//  2. picks NextState, or NextStateError when a send or reply failed;
//  3. swaps the installed events, sending the target's ENTER messages while
//     Entering;
//  4. re-arms the target's events and goes back to Executing.
//
// Configuration mirrors the object tree:
//
//	+StateMachine:
//	  Class: StateMachine
//	  +STATE1:
//	    Class: ReferenceContainer
//	    +GOTOSTATE2:
//	      Class: StateMachineEvent
//	      NextState: STATE2
//	      NextStateError: ERROR
//	      Timeout: 0
//	      +Notify:
//	        Class: Message
//	        Destination: Receiver
//	        Function: Function3
//	        Mode: ExpectsReply
package statemachine
