// Package effect implements event graphs: immutable trees of events composed
// sequentially (ordered) and concurrently (unordered), folded into a single
// effect by an EffectTrait.
//
// Graphs carry no cell information. Each cell folds the same graph with its
// own projection, mapping events it does not own to its trait's Empty.
package effect
