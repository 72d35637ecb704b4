package checkpoint

import (
	"sync"

	"github.com/ajitpratap0/accretion/pkg/compression"
	"github.com/ajitpratap0/accretion/pkg/errors"
	jsonpool "github.com/ajitpratap0/accretion/pkg/json"
)

// envelopeVersion is the current wire version. Bump only with a decoder
// for every version still present in live buckets.
const envelopeVersion = 1

// envelope is the self-describing stored form of a checkpoint. The
// payload is the compressed checkpoint JSON; encoding/json base64s it.
type envelope struct {
	Version   int    `json:"version"`
	Algorithm string `json:"algorithm"`
	Payload   []byte `json:"payload"`
}

// Codec encodes checkpoints for storage. Writes use the configured
// algorithm; reads honor whatever algorithm the stored envelope names, so
// changing the configured codec never strands old checkpoints.
type Codec struct {
	algorithm compression.Algorithm
	level     compression.Level

	mu          sync.Mutex
	compressors map[compression.Algorithm]compression.Compressor
}

// NewCodec creates a codec writing with the named algorithm.
func NewCodec(algorithm string, level int) (*Codec, error) {
	alg, err := compression.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid checkpoint compression")
	}
	c := &Codec{
		algorithm:   alg,
		level:       mapLevel(level),
		compressors: make(map[compression.Algorithm]compression.Compressor),
	}
	// Fail fast on unusable write configuration
	if _, err := c.compressorFor(alg); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode serializes and compresses a checkpoint into envelope bytes.
func (c *Codec) Encode(cp *Checkpoint) ([]byte, error) {
	raw, err := jsonpool.Marshal(cp)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to serialize checkpoint")
	}

	comp, err := c.compressorFor(c.algorithm)
	if err != nil {
		return nil, err
	}
	payload, err := comp.Compress(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to compress checkpoint")
	}

	data, err := jsonpool.Marshal(&envelope{
		Version:   envelopeVersion,
		Algorithm: string(c.algorithm),
		Payload:   payload,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to serialize checkpoint envelope")
	}
	return data, nil
}

// Decode parses envelope bytes back into a checkpoint.
func (c *Codec) Decode(data []byte) (*Checkpoint, error) {
	var env envelope
	if err := jsonpool.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "corrupt checkpoint envelope")
	}
	if env.Version != envelopeVersion {
		return nil, errors.New(errors.ErrorTypeCheckpoint, "unsupported checkpoint version").
			WithDetail("version", env.Version)
	}

	alg, err := compression.ParseAlgorithm(env.Algorithm)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "checkpoint names unknown compression")
	}
	comp, err := c.compressorFor(alg)
	if err != nil {
		return nil, err
	}

	raw, err := comp.Decompress(env.Payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to decompress checkpoint")
	}

	var cp Checkpoint
	if err := jsonpool.Unmarshal(raw, &cp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "corrupt checkpoint payload")
	}
	return &cp, nil
}

func (c *Codec) compressorFor(alg compression.Algorithm) (compression.Compressor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if comp, ok := c.compressors[alg]; ok {
		return comp, nil
	}
	comp, err := compression.NewCompressor(&compression.Config{
		Algorithm: alg,
		Level:     c.level,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create checkpoint compressor")
	}
	c.compressors[alg] = comp
	return comp, nil
}

func mapLevel(level int) compression.Level {
	switch {
	case level <= 0:
		return compression.Default
	case level <= 2:
		return compression.Fastest
	case level <= 6:
		return compression.Default
	case level <= 8:
		return compression.Better
	default:
		return compression.Best
	}
}
