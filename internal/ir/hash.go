package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Domain prefixes for digests. The version suffix allows the algorithm to
// change without colliding with old digests.
const (
	DomainTranscript = "merlin/transcript/v1"
	DomainPlan       = "merlin/plan/v1"
	DomainActivity   = "merlin/activity/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TranscriptDigest computes the digest of a breadcrumb transcript. Two runs
// of the same plan produce the same digest per activity.
func TranscriptDigest(entries []TranscriptEntry) (string, error) {
	list := make(List, len(entries))
	for i, e := range entries {
		list[i] = e.value()
	}
	canonical, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("TranscriptDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTranscript, canonical), nil
}

// PlanDigest computes the digest of a plan. Directive order is significant.
func PlanDigest(p *Plan) (string, error) {
	acts := make(List, len(p.Activities))
	for i, a := range p.Activities {
		acts[i] = a.value()
	}
	cfg := p.Config
	if cfg == nil {
		cfg = ValueMap{}
	}
	obj := ValueMap{
		"name":       String(p.Name),
		"horizon":    Int(p.Horizon),
		"activities": acts,
		"config":     cfg,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PlanDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}

// DerivedActivityID computes a child activity id from its parent's id and
// the child's spawn ordinal within the parent. The result is stable across
// runs, so transcripts containing it stay comparable.
func DerivedActivityID(parentID string, ordinal int) string {
	data := []byte(parentID + "/" + strconv.Itoa(ordinal))
	return "act-" + hashWithDomain(DomainActivity, data)[:16]
}

// MustTranscriptDigest is like TranscriptDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTranscriptDigest(entries []TranscriptEntry) string {
	d, err := TranscriptDigest(entries)
	if err != nil {
		panic(err)
	}
	return d
}
