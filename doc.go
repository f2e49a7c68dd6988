// Package ritmo provides re-ordering buffers for multi-source measurement
// streams.
//
// Independent sources deliver samples with increasing measurement time
// stamps, each delayed by a source specific latency. The buffers deliver the
// samples in a single sequence with increasing measurement time stamps across
// all sources, while adding as little delay as possible for a configurable
// confidence of not losing data.
//
// The adaptive [Buffer] estimates the update period and latency of every
// source online and reserves slots for anticipated samples, so a low-latency
// source cannot overtake a high-latency one. The [FixedLagBuffer] is the
// degenerate sibling that delays everything by a constant.
//
// The buffers are not thread-safe: the caller serializes Push and Pop.
// For stream pipelines, the processor package wraps the adaptive buffer into
// a single-threaded stage between two connectors.
package ritmo
