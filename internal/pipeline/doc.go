// Package pipeline runs a dome seeing reduction end to end: it fetches a
// scattered CFD sample file, grids it into a refractive index field,
// traces the telescope ray bundle through it, scores the resulting OPD
// map and stores the outputs.
//
// The pipeline owns no numerical logic. It delegates to cfd, field,
// raytrace, pssn and geometry, and to the blob store and ledger adapters.
package pipeline
