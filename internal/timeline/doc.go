// Package timeline provides the cell registry and the persistent timeline
// that cells are read from.
//
// A mission model registers cells on a Builder and receives one Query per
// cell. Build freezes the registration list into a Schema. Every Time node
// belongs to a Schema and records the event graph that produced it from its
// parent; reading a cell at a Time folds the graphs on the path from the
// schema's origin, so a read never sees effects staged after that Time.
//
// The world type parameter W tags a schema and everything minted from it.
// A Query from one world cannot be passed where another world is expected;
// within a world, a runtime check rejects queries whose cell is not
// registered at their index.
package timeline
