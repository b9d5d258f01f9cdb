// Package missionmodel is the registration surface between a mission model
// and the simulation driver.
//
// A Model binds a built schema to a set of named activity types and
// daemons. It implements simulation.Registry, validates plan directives
// against each type's argument rules, and samples cell states into
// ir.Values for results.
//
// The package also provides two reusable cell kinds (Counter and Register)
// and a small demonstration model, NewSpacecraft, that exercises every
// task primitive: delays, spawns, awaits and conditions.
package missionmodel
