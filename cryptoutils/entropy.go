package cryptoutils

import "math"

// EntropyWarnThreshold is the bits-per-byte reading below which a pool's
// source material is logged as a security warning. Advisory only; a low
// reading never blocks allocation.
const EntropyWarnThreshold = 7.5

// ShannonEntropy computes the Shannon entropy of data in bits per byte.
// A healthy CSPRNG sample measures close to 8.0; structured or constant
// data measures near zero. Returns 0 for an empty sample.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
