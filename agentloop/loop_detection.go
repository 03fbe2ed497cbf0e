package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// actionSignature computes a deterministic signature for an action
// (name + hash of its canonical JSON arguments). Map keys marshal sorted,
// so equal argument maps always produce equal signatures.
func actionSignature(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprint(args))
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// extractStepSignatures returns the signatures of the last count steps in
// chronological order.
func extractStepSignatures(steps []Step, count int) []string {
	start := len(steps) - count
	if start < 0 {
		start = 0
	}
	sigs := make([]string, 0, len(steps)-start)
	for _, step := range steps[start:] {
		sigs = append(sigs, actionSignature(step.Action, step.Arguments))
	}
	return sigs
}

// DetectLoop checks if the last windowSize steps follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(steps []Step, windowSize int) bool {
	if windowSize <= 1 {
		return false
	}
	sigs := extractStepSignatures(steps, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || patternLen >= windowSize {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
