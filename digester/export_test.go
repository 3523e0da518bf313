package digester

// BlockHasher is an alias for blockHasher.
type BlockHasher = blockHasher

// DigestBlocksForTest exposes digestBlocks.
var DigestBlocksForTest = digestBlocks
