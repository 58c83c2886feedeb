// Package insert implements row validation, placeholder construction, and
// atomic master+part insertion.
//
// The first row of an insert fixes the canonical column order; every later
// row is realigned to it. Value placeholders are produced by the codec, one
// call per attribute. Insert1P writes one logical record spanning a master
// table and its part tables inside a single transaction, joining an
// already-open transaction when one exists.
package insert
