// Package core contains the shared data model of the swarmmesh orchestration
// runtime: conversation contexts, participants, messages, turn execution
// results, resource accounting and the collaborator interfaces the
// orchestration core depends on but does not implement (response generation).
//
// Types in this package are plain data carriers passed between the event bus,
// selector, turn executor, conversation engine and swarm coordinator. They
// carry no goroutines and, unless documented otherwise, are not safe for
// concurrent mutation.
package core
