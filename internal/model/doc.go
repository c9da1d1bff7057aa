// Package model contains the shared interfaces and data structures.
//
// This package should only contain interfaces shared by several
// packages within the codebase, to separate unrelated pieces of
// code and make unit testing easier. It should not contain logic
// unless such logic is strictly tied to the data structures.
//
// - logger.go: generic definition of an apex/log compatible logger
// plus the prefixing logger used to tag connections.
package model
