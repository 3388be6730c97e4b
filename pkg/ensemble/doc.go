// Package ensemble runs one logical chat turn against multiple model
// configurations concurrently. Each variant drives its own provider call
// loop (including multi-turn tool use) and pushes events onto a shared
// queue; the consumer sees a single interleaved stream with exactly one
// terminal event per variant.
package ensemble
