// Package digester computes SHA-1 file digests with bounded memory. Files are
// read in fixed-size blocks with one block of lookahead, so the hash
// primitive is told which block is the last one before it receives it.
package digester
