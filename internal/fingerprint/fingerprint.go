// Package fingerprint computes the canonical cache key for a generation
// request. Two semantically identical requests must hash to the same
// fingerprint; any field that influences generation must change it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

// quantizeDecimals bounds the precision writeFloat hashes at, so that
// float-representation drift between equal-valued requests never produces
// different fingerprints.
const quantizeDecimals = 6

var quantizeScale = math.Pow(10, quantizeDecimals)

// Compute returns the hex-encoded SHA-256 digest of req's canonical byte
// sequence, prefixed by the given schema version. req should already have
// WithDefaults applied by the caller so decoding controls are filled in
// before hashing.
func Compute(req types.GenerationRequest, schemaVersion byte) string {
	h := sha256.New()
	h.Write([]byte{schemaVersion})

	writeLengthPrefixed(h, []byte(req.Model))
	writeLengthPrefixed(h, []byte(req.Prompt))

	writeFloat(h, derefFloat(req.Temperature))
	writeInt(h, derefInt(req.MaxTokens))
	writeFloat(h, derefFloat(req.TopP))
	writeInt(h, derefInt(req.TopK))
	writeFloat(h, derefFloat(req.RepeatPenalty))

	binary.Write(h, binary.BigEndian, uint32(len(req.Stop)))
	for _, s := range req.Stop {
		writeLengthPrefixed(h, []byte(s))
	}

	if req.Seed != nil {
		h.Write([]byte{1})
		writeInt64(h, *req.Seed)
	} else {
		h.Write([]byte{0})
	}

	writeProfile(h, req.AgentProfile)

	return hex.EncodeToString(h.Sum(nil))
}

func writeProfile(h hashWriter, p *types.AgentProfile) {
	if p == nil {
		h.Write([]byte{0})
		return
	}
	h.Write([]byte{1})

	writeInt(h, p.AgentID)
	writeLengthPrefixed(h, []byte(p.Name))
	writeInt(h, p.Age)
	writeLengthPrefixed(h, []byte(p.Occupation))

	for _, trait := range types.OrderedPersonalityTraits {
		v, ok := p.Personality[trait]
		if !ok {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		writeFloat(h, v)
	}

	for _, field := range types.OrderedMentalStateNumericFields {
		v, ok := p.MentalStateNumeric[field]
		if !ok {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		writeFloat(h, v)
	}

	if p.CurrentEmotion != nil {
		h.Write([]byte{1})
		writeLengthPrefixed(h, []byte(*p.CurrentEmotion))
	} else {
		h.Write([]byte{0})
	}

	writeLengthPrefixed(h, []byte(p.Context))

	keys := make([]string, 0, len(p.RelationshipContext))
	for k := range p.RelationshipContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	binary.Write(h, binary.BigEndian, uint32(len(keys)))
	for _, k := range keys {
		writeLengthPrefixed(h, []byte(k))
		writeLengthPrefixed(h, []byte(p.RelationshipContext[k]))
	}
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func writeLengthPrefixed(h hashWriter, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// writeFloat quantizes v before hashing, per quantizeDecimals.
func writeFloat(h hashWriter, v float64) {
	scaled := math.Round(v * quantizeScale)
	writeInt64(h, int64(scaled))
}

func writeInt(h hashWriter, v int) {
	writeInt64(h, int64(v))
}

func writeInt64(h hashWriter, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
