// Package automake turns upstream joined data into computed rows via a
// user-supplied function, driven by a named settings record.
//
// A settings record binds a fetch specification (which upstream tables to
// join, projected how), argument-binding rules, and a registered computation
// function. Populate loads one record by name, merges its restrictions with
// the caller's, computes the pending keys, and hands them to a population
// driver that calls Make once per key. Make fetches the upstream entry,
// assembles the function arguments, invokes the function, normalizes the
// output, and writes it through the part-aware atomic insert.
//
// Functions and display symbols are bound through an explicit Registry at
// startup; nothing is resolved by scanning loaded code.
package automake
