// Package log wraps zerolog with the component-scoped loggers the rest of
// the reconciler uses (WithComponent, WithDatanodeID, WithContainerID).
package log
